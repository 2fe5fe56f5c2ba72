// Package rules compiles stored categorization rules into an engine that
// assigns categories deterministically.
package rules

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// Warning reports a rule that was skipped because its conditions are unusable.
type Warning struct {
	RuleID   int64
	RuleName string
	Message  string
}

func (w Warning) Error() string {
	return fmt.Sprintf("rule %d (%s): %s", w.RuleID, w.RuleName, w.Message)
}

// Rule is a compiled, active categorization rule.
type Rule struct {
	ID         int64
	Name       string
	Priority   int
	Type       domain.RuleType
	CategoryID int64
	CreatedAt  time.Time
	Predicate  Predicate
}

// Engine evaluates rules in ascending priority, then creation time, then id.
// It is immutable once compiled.
type Engine struct {
	rules []Rule
}

// Compile decodes every active rule once. Rules whose conditions cannot be
// decoded are left out and reported as warnings.
func Compile(rows []*domain.CategorizationRule) (*Engine, []Warning) {
	var (
		compiled []Rule
		warnings []Warning
	)
	for _, r := range rows {
		if !r.Active {
			continue
		}
		pred, err := Decode(r.RuleType, r.Conditions)
		if err != nil {
			warnings = append(warnings, Warning{RuleID: r.ID, RuleName: r.Name, Message: err.Error()})
			continue
		}
		if r.CategoryID <= 0 {
			warnings = append(warnings, Warning{RuleID: r.ID, RuleName: r.Name, Message: "no target category"})
			continue
		}
		compiled = append(compiled, Rule{
			ID:         r.ID,
			Name:       r.Name,
			Priority:   r.Priority,
			Type:       r.RuleType,
			CategoryID: r.CategoryID,
			CreatedAt:  r.CreatedAt,
			Predicate:  pred,
		})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i], compiled[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return &Engine{rules: compiled}, warnings
}

// Rules returns the compiled rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Match returns the first rule whose predicate matches s.
func (e *Engine) Match(s Subject) (Rule, bool) {
	for _, r := range e.rules {
		if Matches(r.Predicate, s) {
			return r, true
		}
	}
	return Rule{}, false
}

// Source says which step of the decision procedure produced a category.
type Source string

const (
	SourceManual   Source = "manual"
	SourceMerchant Source = "merchant"
	SourceRule     Source = "rule"
	SourceNone     Source = "none"
)

// Decision is the category the engine wants a transaction to have.
type Decision struct {
	Source     Source
	CategoryID *int64
	RuleID     *int64
	Trigger    string
}

// Decide runs the decision procedure for tx. merchant is the resolved
// merchant, or nil.
func (e *Engine) Decide(tx *domain.Transaction, merchant *domain.Merchant) Decision {
	if tx.IsCategoryManual {
		return Decision{Source: SourceManual, CategoryID: tx.CategoryID, RuleID: tx.AppliedRuleID, Trigger: domain.TriggerManual}
	}
	if merchant != nil && merchant.DefaultCategoryID != nil {
		cat := *merchant.DefaultCategoryID
		return Decision{Source: SourceMerchant, CategoryID: &cat, Trigger: MerchantTrigger(merchant.ID)}
	}
	if r, ok := e.Match(SubjectOf(tx, merchant)); ok {
		cat, id := r.CategoryID, r.ID
		return Decision{Source: SourceRule, CategoryID: &cat, RuleID: &id, Trigger: RuleTrigger(r.ID)}
	}
	return Decision{Source: SourceNone}
}

// Apply writes d onto tx. The history row is nil when the category did not
// change; the bool reports whether tx was modified at all. Manual decisions
// never change anything.
func (d Decision) Apply(tx *domain.Transaction, now time.Time) (*domain.TransformationHistory, bool) {
	if d.Source == SourceManual || tx.IsCategoryManual {
		return nil, false
	}
	dirty := !sameID(tx.AppliedRuleID, d.RuleID)
	tx.AppliedRuleID = d.RuleID
	if sameID(tx.CategoryID, d.CategoryID) {
		return nil, dirty
	}
	h := &domain.TransformationHistory{
		TransactionID: tx.ID,
		Field:         "category_id",
		OldValue:      idString(tx.CategoryID),
		NewValue:      idString(d.CategoryID),
		Type:          domain.TransformCategoryAuto,
		Trigger:       d.Trigger,
		CreatedAt:     now,
	}
	if d.Source == SourceNone {
		h.Trigger = "uncategorized"
	}
	tx.CategoryID = d.CategoryID
	return h, true
}

// RuleTrigger is the history trigger for a rule assignment.
func RuleTrigger(id int64) string {
	return "rule:" + strconv.FormatInt(id, 10)
}

// MerchantTrigger is the history trigger for a merchant default assignment.
func MerchantTrigger(id int64) string {
	return "merchant:" + strconv.FormatInt(id, 10)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func idString(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
