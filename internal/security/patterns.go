package security

import (
	"net/url"
	"regexp"
	"strings"
)

// attackPatterns cover the signatures the filter rejects: script injection,
// SQL injection, boolean tautologies, and parent-directory traversal. The
// filter is a cheap first line, not a full WAF.
var attackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)\b(union\s+select|select\s+[\w*,\s]+\s+from|insert\s+into|drop\s+table|delete\s+from)\b`),
	regexp.MustCompile(`(?i)('|")\s*or\s+\d+\s*=\s*\d+|\bor\s+1\s*=\s*1\b`),
	regexp.MustCompile(`\.\./`),
}

// MatchesAttackPattern reports whether the decoded path or query matches any
// filter signature. Inputs that fail to decode are matched in raw form.
func MatchesAttackPattern(path, rawQuery string) bool {
	candidates := []string{decode(path), decode(rawQuery)}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, p := range attackPatterns {
			if p.MatchString(c) {
				return true
			}
		}
	}
	return false
}

func decode(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	// A second pass catches double-encoded payloads.
	if strings.Contains(decoded, "%") {
		if again, err := url.QueryUnescape(decoded); err == nil {
			return again
		}
	}
	return decoded
}
