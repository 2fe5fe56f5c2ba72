// Package normalizer cleans bank narrations into readable descriptions and a
// case-folded match key, and extracts merchant hints. Normalize is pure.
package normalizer

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Result is the output of Normalize.
type Result struct {
	Cleaned       string
	MatchKey      string
	MerchantHints []string
	Metadata      map[string]any
}

var (
	// UPI narrations look like UPI-PAYEE NAME-handle@bank-IFSC0001-REF-NOTE.
	upiPayee = regexp.MustCompile(`(?i)^UPI[-/ ]+([^-/@]+?)\s*(?:[-/]|$)`)
	vpa      = regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9._]{1,}@[a-z][a-z0-9]{1,}\b`)

	protocolPrefix = regexp.MustCompile(`(?i)^(?:UPI|NEFT|IMPS|RTGS|POS|ACH|NACH|ECS|TRF)\b[\s:/\-]*`)
	timestamps     = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	embeddedDates  = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	refTail        = regexp.MustCompile(`(?i)\(\s*Ref#[^)]*\)?`)
	refNumbers     = regexp.MustCompile(`(?i)\b(?:REF(?:NO)?|UTR|RRN|TXN(?:ID)?)[#:.\s-]*[A-Z0-9]*\d[A-Z0-9]*\b`)
	ifscCodes      = regexp.MustCompile(`(?i)\b[A-Z]{4}0[A-Z0-9]{6}\b`)
	longDigits     = regexp.MustCompile(`\b[A-Z]{0,2}\d{8,}\b`)
	separators     = regexp.MustCompile(`\s*[-/_|*]+\s*`)
	spaces         = regexp.MustCompile(`\s+`)
)

// Normalize cleans original. Identical input always yields identical output.
func Normalize(original string) Result {
	desc := spaces.ReplaceAllString(strings.TrimSpace(original), " ")
	res := Result{Metadata: map[string]any{}}

	var handles []string
	for _, h := range vpa.FindAllString(desc, -1) {
		handles = appendUnique(handles, strings.ToLower(h))
	}

	if m := upiPayee.FindStringSubmatch(desc); m != nil {
		if payee := strings.TrimSpace(m[1]); payee != "" && !isNoise(payee) {
			res.MerchantHints = appendUnique(res.MerchantHints, strings.ToUpper(payee))
		}
	}
	for _, h := range handles {
		res.MerchantHints = appendUnique(res.MerchantHints, h)
	}
	if len(handles) > 0 {
		res.Metadata["upi_handle"] = handles[0]
	}

	cleaned := desc
	cleaned = refTail.ReplaceAllString(cleaned, " ")
	cleaned = vpa.ReplaceAllString(cleaned, " ")
	cleaned = timestamps.ReplaceAllString(cleaned, " ")
	cleaned = embeddedDates.ReplaceAllString(cleaned, " ")
	cleaned = refNumbers.ReplaceAllString(cleaned, " ")
	cleaned = ifscCodes.ReplaceAllString(cleaned, " ")
	cleaned = longDigits.ReplaceAllString(cleaned, " ")
	cleaned = protocolPrefix.ReplaceAllString(strings.TrimSpace(cleaned), "")
	cleaned = separators.ReplaceAllString(cleaned, " ")
	cleaned = strings.Trim(spaces.ReplaceAllString(cleaned, " "), " .,:;#")
	if cleaned == "" {
		cleaned = desc
	}

	res.Cleaned = cleaned
	res.MatchKey = MatchKey(cleaned)
	return res
}

// MatchKey case-folds s after NFKC normalization and collapses whitespace.
func MatchKey(s string) string {
	// A Caser carries state, so each call gets its own.
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}

// Tokens splits a match key into words.
func Tokens(s string) []string {
	return strings.Fields(MatchKey(s))
}

func isNoise(s string) bool {
	return longDigits.MatchString(s) || ifscCodes.MatchString(s)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
