// Package probe implements the monitor probe runners: http/website, ssl,
// ping, and port checks, plus the target validation and response
// sanitization they share.
package probe

import (
	"strconv"
	"strings"
)

// IsExpectedStatus evaluates an expected-status expression against a
// response code. The grammar accepts, comma-separated:
//
//   - class wildcards: "2xx", "3xx", "4xx", "5xx"
//   - inclusive ranges: "200-204"
//   - exact codes: "301"
//
// An empty expression defaults to 200-299. Malformed terms are ignored;
// an expression with no valid terms falls back to the default.
func IsExpectedStatus(code int, spec string) bool {
	terms := parseStatusExpr(spec)
	if len(terms) == 0 {
		return code >= 200 && code <= 299
	}
	for _, term := range terms {
		if code >= term.lo && code <= term.hi {
			return true
		}
	}
	return false
}

type statusRange struct {
	lo, hi int
}

func parseStatusExpr(spec string) []statusRange {
	var out []statusRange
	for _, raw := range strings.Split(spec, ",") {
		term := strings.ToLower(strings.TrimSpace(raw))
		if term == "" {
			continue
		}

		// Class wildcard: one digit followed by "xx".
		if len(term) == 3 && strings.HasSuffix(term, "xx") {
			class := int(term[0] - '0')
			if class >= 1 && class <= 5 {
				out = append(out, statusRange{class * 100, class*100 + 99})
			}
			continue
		}

		if lo, hi, ok := strings.Cut(term, "-"); ok {
			loN, errLo := strconv.Atoi(strings.TrimSpace(lo))
			hiN, errHi := strconv.Atoi(strings.TrimSpace(hi))
			if errLo == nil && errHi == nil && loN <= hiN {
				out = append(out, statusRange{loN, hiN})
			}
			continue
		}

		if n, err := strconv.Atoi(term); err == nil {
			out = append(out, statusRange{n, n})
		}
	}
	return out
}
