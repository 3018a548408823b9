package container

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"
)

// inlineDir is where injected files land inside the container.
const inlineDir = "/tmp"

// bakedNodeModules is the image's pre-installed dependency tree; the wrapper
// symlinks it next to the injected script so bare requires resolve.
const bakedNodeModules = "/worker/node_modules"

// shellSpecial are the characters that force an argument to be quoted in the
// generated wrapper.
const shellSpecial = " \t\n\"'`$&|;<>(){}[]*?!\\#~"

// InlineScriptPath returns the in-container path the inline script is
// written to.
func (j *Job) InlineScriptPath() string {
	return path.Join(inlineDir, path.Base(j.InlineScriptFileName))
}

// buildWrapperScript produces the /bin/sh -c body that prepares the
// container filesystem and execs the job command:
//
//  1. create every directory in EnsureDirs
//  2. symlink the baked-in node_modules into /tmp if present
//  3. base64-decode the inline script and each additional file into place
//  4. exec the original command with the script file name rewritten to the
//     injected path, shell-quoting arguments as needed
func buildWrapperScript(job *Job) string {
	var b strings.Builder
	b.WriteString("set -e\n")

	for _, dir := range job.EnsureDirs {
		fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(dir))
	}

	fmt.Fprintf(&b, "if [ -d %s ] && [ ! -e %s/node_modules ]; then ln -s %s %s/node_modules; fi\n",
		bakedNodeModules, inlineDir, bakedNodeModules, inlineDir)

	scriptPath := job.InlineScriptPath()
	writeBase64File(&b, scriptPath, job.InlineScriptContent)

	for _, f := range job.AdditionalFiles {
		if dir := path.Dir(f.TargetPath); dir != "/" && dir != "." {
			fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(dir))
		}
		writeBase64File(&b, f.TargetPath, f.Content)
	}

	args := make([]string, 0, len(job.Cmd))
	for _, arg := range job.Cmd {
		// Callers may pass either the bare file name or the injected path;
		// rewriting an arg that already holds the path would corrupt it.
		if !strings.Contains(arg, scriptPath) {
			arg = strings.ReplaceAll(arg, job.InlineScriptFileName, scriptPath)
		}
		args = append(args, shellQuote(arg))
	}
	b.WriteString("exec " + strings.Join(args, " ") + "\n")

	return b.String()
}

// writeBase64File emits a base64-decode line for one file. Transporting
// content as base64 keeps arbitrary script bytes out of shell parsing.
func writeBase64File(b *strings.Builder, target string, content []byte) {
	encoded := base64.StdEncoding.EncodeToString(content)
	fmt.Fprintf(b, "echo %s | base64 -d > %s\n", encoded, shellQuote(target))
}

// shellQuote single-quotes an argument when it contains shell-special
// characters. Plain arguments pass through unquoted to keep the wrapper
// readable in logs.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
