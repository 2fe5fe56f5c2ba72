package parser

import (
	"regexp"
	"strings"
)

var (
	cardNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Credit\s*Card(?:\s*No\.?|\s*Number)?\s*[:\-]?\s*([0-9Xx* ]{12,25})`),
		regexp.MustCompile(`(?i)Card\s*No\.?\s*[:\-]?\s*([0-9Xx* ]{12,25})`),
	}
	accountFilenamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Acct_Statement_([0-9X]{8,24})_`),
		regexp.MustCompile(`(?i)Statement_([0-9X]{8,24})_`),
	}
	nonIdentifier = regexp.MustCompile(`[^0-9X]`)
)

// MaskIdentifier keeps the first and last four characters of an account or
// card number and replaces the middle with X. Already masked values are
// returned unchanged.
func MaskIdentifier(value string) string {
	compact := strings.ToUpper(strings.Join(strings.Fields(value), ""))
	if len(compact) <= 8 || strings.Contains(compact, "X") {
		return compact
	}
	return compact[:4] + strings.Repeat("X", len(compact)-8) + compact[len(compact)-4:]
}

// MaskedCardNumber finds a card number in statement text and masks it.
func MaskedCardNumber(text string) string {
	for _, re := range cardNumberPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.ToUpper(strings.ReplaceAll(m[1], "*", "X"))
		if masked := MaskIdentifier(nonIdentifier.ReplaceAllString(raw, "")); masked != "" {
			return masked
		}
	}
	return ""
}

// MaskedAccountFromFilename extracts an account number token from common
// statement download names such as Acct_Statement_XXXX1234_01012026.csv.
func MaskedAccountFromFilename(name string) string {
	for _, re := range accountFilenamePatterns {
		if m := re.FindStringSubmatch(name); m != nil {
			return MaskIdentifier(m[1])
		}
	}
	return ""
}
