// Package pii redacts caller data at the service boundary. Storage keeps
// full numbers; everything that leaves the process goes through here.
package pii

import (
	"strings"
	"unicode"
)

const maskPrefix = "***-***-"

// MaskPhone keeps only the last four digits of a phone number, e.g.
// "+1 (415) 555-1234" -> "***-***-1234". Numbers with four digits or fewer
// are masked completely; an empty input stays empty.
func MaskPhone(number string) string {
	if strings.TrimSpace(number) == "" {
		return ""
	}
	digits := make([]rune, 0, len(number))
	for _, r := range number {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return maskPrefix + "****"
	}
	return maskPrefix + string(digits[len(digits)-4:])
}

// IsMasked reports whether s is already in masked form.
func IsMasked(s string) bool {
	return s == "" || strings.HasPrefix(s, maskPrefix)
}

// ScrubText replaces any run of 7+ digits (optionally separated by spaces,
// dashes, dots or parentheses) inside free text with its masked form. Used
// on transcripts and summaries before they are logged or exported.
func ScrubText(s string) string {
	var out strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); {
		if !unicode.IsDigit(runes[i]) && runes[i] != '+' && runes[i] != '(' {
			out.WriteRune(runes[i])
			i++
			continue
		}
		j, digits := i, 0
		for j < len(runes) && (unicode.IsDigit(runes[j]) || strings.ContainsRune("+-. ()", runes[j])) {
			if unicode.IsDigit(runes[j]) {
				digits++
			}
			j++
		}
		// keep trailing separators out of the match
		end := j
		for end > i && !unicode.IsDigit(runes[end-1]) {
			end--
		}
		if digits >= 7 {
			out.WriteString(MaskPhone(string(runes[i:end])))
			out.WriteString(string(runes[end:j]))
		} else {
			out.WriteString(string(runes[i:j]))
		}
		i = j
	}
	return out.String()
}
