package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Marker is an explicit credit/debit suffix found on an amount.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerCredit
	MarkerDebit
)

// ParsedAmount is a numeric cell broken into magnitude and direction hints.
type ParsedAmount struct {
	Value    decimal.Decimal // always non-negative
	Negative bool            // minus sign or parentheses were present
	Marker   Marker
}

// Signed returns the value with Negative applied. Markers are not applied.
func (p ParsedAmount) Signed() decimal.Decimal {
	if p.Negative {
		return p.Value.Neg()
	}
	return p.Value
}

// ErrEmptyAmount is returned for blank amount cells.
var ErrEmptyAmount = errors.New("empty amount")

var (
	markerSuffix   = regexp.MustCompile(`\s*(CR|DR)\.?$`)
	currencyPrefix = regexp.MustCompile(`^(?:₹|RS\.?|INR|USD|EUR|GBP|\$|€|£|` + "`" + `)\s*`)
	currencySuffix = regexp.MustCompile(`\s*(?:₹|RS\.?|INR|USD|EUR|GBP|\$|€|£)$`)
	plainNumber    = regexp.MustCompile(`^\d+(?:\.\d+)?$|^\.\d+$`)
)

// ParseAmount parses bank-formatted amounts: thousands separators, currency
// symbols (₹, Rs., INR, $, €, £ and the backtick some PDFs render for ₹),
// parenthesized negatives, leading or trailing minus and CR/DR suffixes.
func ParseAmount(raw string) (ParsedAmount, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || s == "-" {
		return ParsedAmount{}, ErrEmptyAmount
	}

	var out ParsedAmount
	if m := markerSuffix.FindStringSubmatch(s); m != nil {
		if m[1] == "CR" {
			out.Marker = MarkerCredit
		} else {
			out.Marker = MarkerDebit
		}
		s = strings.TrimSpace(s[:len(s)-len(m[0])])
	}

	for {
		before := s
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			out.Negative = true
			s = s[1 : len(s)-1]
		}
		if strings.HasPrefix(s, "-") {
			out.Negative = true
			s = s[1:]
		}
		if strings.HasSuffix(s, "-") {
			out.Negative = true
			s = s[:len(s)-1]
		}
		s = strings.TrimPrefix(s, "+")
		s = currencyPrefix.ReplaceAllString(s, "")
		s = currencySuffix.ReplaceAllString(s, "")
		if s == before {
			break
		}
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if !plainNumber.MatchString(s) {
		return ParsedAmount{}, fmt.Errorf("invalid amount %q", raw)
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return ParsedAmount{}, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	out.Value = value
	if value.IsZero() {
		out.Negative = false
	}
	return out, nil
}
