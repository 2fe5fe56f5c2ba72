package parser

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReconciliationTolerance is the largest difference still treated as a match.
var ReconciliationTolerance = decimal.NewFromInt(1)

// Reconciliation compares the parsed total against a total printed on the
// statement. Expected is nil when the statement carries no usable total.
type Reconciliation struct {
	Expected   *decimal.Decimal `json:"expected_total,omitempty"`
	Actual     decimal.Decimal  `json:"actual_total"`
	Difference *decimal.Decimal `json:"difference,omitempty"`
	Matches    bool             `json:"matches"`
	Count      int              `json:"actual_count"`
}

// Reconcile builds a Reconciliation for actual against an optional expected total.
func Reconcile(expected *decimal.Decimal, actual decimal.Decimal, count int) *Reconciliation {
	r := &Reconciliation{Expected: expected, Actual: actual, Count: count}
	if expected == nil {
		return r
	}
	diff := actual.Sub(*expected).Abs()
	r.Difference = &diff
	r.Matches = diff.LessThan(ReconciliationTolerance)
	return r
}

// Mismatch reports whether an expected total was found and differs.
func (r *Reconciliation) Mismatch() bool {
	return r != nil && r.Expected != nil && !r.Matches
}

// Summary renders the reconciliation as a one-line message.
func (r *Reconciliation) Summary() string {
	if r == nil || r.Expected == nil {
		return "no statement total"
	}
	return fmt.Sprintf("expected=%s actual=%s diff=%s", r.Expected.StringFixed(2), r.Actual.StringFixed(2), r.Difference.StringFixed(2))
}

// Map converts the reconciliation into a metadata value.
func (r *Reconciliation) Map() map[string]any {
	m := map[string]any{
		"actual_total": r.Actual.StringFixed(2),
		"matches":      r.Matches,
		"actual_count": r.Count,
	}
	if r.Expected != nil {
		m["expected_total"] = r.Expected.StringFixed(2)
		m["difference"] = r.Difference.StringFixed(2)
	}
	return m
}
