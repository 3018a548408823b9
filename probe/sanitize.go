package probe

import "regexp"

// maxSnippetBytes caps how much response body is kept in result details.
const maxSnippetBytes = 2048

var redactionPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	// Card numbers before generic digit runs so they win.
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`), "[REDACTED_TOKEN]"},
	{regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/]+=*`), "[REDACTED_TOKEN]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)["']?\s*[:=]\s*["']?[^\s"',}]+`), "$1=[REDACTED]"},
}

// SanitizeSnippet truncates a response body excerpt and redacts values
// that look like credentials or personal data before they are persisted.
func SanitizeSnippet(body string) string {
	if len(body) > maxSnippetBytes {
		body = body[:maxSnippetBytes]
	}
	for _, p := range redactionPatterns {
		body = p.re.ReplaceAllString(body, p.replacement)
	}
	return body
}
