// Package normalize turns raw OCR text into comparable candidates.
package normalize

import (
	"regexp"
	"strings"
)

// MinLength is the shortest normalized line accepted as a candidate
const MinLength = 3

var (
	disallowed = regexp.MustCompile(`[^A-Za-z0-9:' \-]+`)
	spaces     = regexp.MustCompile(`\s+`)

	slashNumber = regexp.MustCompile(`([0-9]+[A-Za-z]?)\s*/\s*[0-9]+`)
	hashNumber  = regexp.MustCompile(`#\s*([0-9]+[A-Za-z]?)\b`)
	anyNumber   = regexp.MustCompile(`\b([0-9]+[A-Za-z]?)\b`)
)

// Line strips characters outside letters, digits, colon, apostrophe, hyphen and
// space, collapses whitespace and trims.
func Line(raw string) string {
	s := disallowed.ReplaceAllString(raw, " ")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// All normalizes every line of raw OCR text, keeping lines of at least MinLength
func All(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if n := Line(line); len(n) >= MinLength {
			out = append(out, n)
		}
	}
	return out
}

// First returns the first acceptable normalized line
func First(raw string) (string, bool) {
	for _, line := range strings.Split(raw, "\n") {
		if n := Line(line); len(n) >= MinLength {
			return n, true
		}
	}
	return "", false
}

// CollectorNumber builds the comparison key of a collector number
func CollectorNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	return b.String()
}

// NumberHint extracts a collector number from number-band text: "148/280 R",
// "#148" and "0148" all give "148". Returns "" when nothing plausible is found.
func NumberHint(raw string) string {
	var token string
	switch {
	case slashNumber.MatchString(raw):
		token = slashNumber.FindStringSubmatch(raw)[1]
	case hashNumber.MatchString(raw):
		token = hashNumber.FindStringSubmatch(raw)[1]
	default:
		all := anyNumber.FindAllStringSubmatch(raw, -1)
		if len(all) == 0 {
			return ""
		}
		token = all[len(all)-1][1]
	}

	key := CollectorNumber(token)
	trimmed := strings.TrimLeft(key, "0")
	if trimmed == "" || (trimmed[0] < '0' || trimmed[0] > '9') {
		// keep one zero for "0" and "0A"
		if strings.HasPrefix(key, "0") {
			return "0" + trimmed
		}
		return key
	}
	return trimmed
}
