package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/normalizer"
	"github.com/shopspring/decimal"
)

// Predicate is the decoded condition of a rule. The set of implementations
// is closed: MerchantPredicate, DescriptionPredicate and AmountRangePredicate.
type Predicate interface {
	predicate()
}

// MerchantPredicate matches the resolved merchant by id, or by name or alias.
type MerchantPredicate struct {
	MerchantID int64
	Names      []string
}

// DescriptionPredicate matches the case-folded match key. Pattern is a
// substring unless it contains * or ?, in which case it is a glob over the
// whole key. Min and Max optionally bound the amount.
type DescriptionPredicate struct {
	Pattern string
	Min     *decimal.Decimal
	Max     *decimal.Decimal

	glob *regexp.Regexp
}

// AmountRangePredicate matches amounts within inclusive bounds.
type AmountRangePredicate struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

func (MerchantPredicate) predicate()    {}
func (DescriptionPredicate) predicate() {}
func (AmountRangePredicate) predicate() {}

// MerchantConditions is the JSON form of a MERCHANT rule.
type MerchantConditions struct {
	MerchantID int64    `json:"merchant_id,omitempty"`
	Names      []string `json:"names,omitempty"`
}

// DescriptionConditions is the JSON form of a DESCRIPTION_PATTERN rule.
type DescriptionConditions struct {
	Pattern   string           `json:"pattern"`
	MinAmount *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty"`
}

// AmountConditions is the JSON form of an AMOUNT_RANGE rule.
type AmountConditions struct {
	MinAmount *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty"`
}

// Decode turns stored conditions into a Predicate.
func Decode(ruleType domain.RuleType, conditions string) (Predicate, error) {
	switch ruleType {
	case domain.RuleMerchant:
		var c MerchantConditions
		if err := strictUnmarshal(conditions, &c); err != nil {
			return nil, err
		}
		var names []string
		for _, n := range c.Names {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if c.MerchantID <= 0 && len(names) == 0 {
			return nil, fmt.Errorf("merchant rule needs merchant_id or names")
		}
		return MerchantPredicate{MerchantID: c.MerchantID, Names: names}, nil

	case domain.RuleDescriptionPattern:
		var c DescriptionConditions
		if err := strictUnmarshal(conditions, &c); err != nil {
			return nil, err
		}
		pattern := normalizer.MatchKey(c.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		if err := checkBounds(c.MinAmount, c.MaxAmount); err != nil {
			return nil, err
		}
		p := DescriptionPredicate{Pattern: pattern, Min: c.MinAmount, Max: c.MaxAmount}
		if strings.ContainsAny(pattern, "*?") {
			p.glob = globRegexp(pattern)
		}
		return p, nil

	case domain.RuleAmountRange:
		var c AmountConditions
		if err := strictUnmarshal(conditions, &c); err != nil {
			return nil, err
		}
		if c.MinAmount == nil && c.MaxAmount == nil {
			return nil, fmt.Errorf("amount range needs min_amount or max_amount")
		}
		if err := checkBounds(c.MinAmount, c.MaxAmount); err != nil {
			return nil, err
		}
		return AmountRangePredicate{Min: c.MinAmount, Max: c.MaxAmount}, nil
	}
	return nil, fmt.Errorf("unknown rule type %q", ruleType)
}

// Encode renders a predicate in its stored JSON form.
func Encode(p Predicate) (domain.RuleType, string, error) {
	var (
		ruleType domain.RuleType
		v        any
	)
	switch p := p.(type) {
	case MerchantPredicate:
		ruleType, v = domain.RuleMerchant, MerchantConditions{MerchantID: p.MerchantID, Names: p.Names}
	case DescriptionPredicate:
		ruleType, v = domain.RuleDescriptionPattern, DescriptionConditions{Pattern: p.Pattern, MinAmount: p.Min, MaxAmount: p.Max}
	case AmountRangePredicate:
		ruleType, v = domain.RuleAmountRange, AmountConditions{MinAmount: p.Min, MaxAmount: p.Max}
	default:
		return "", "", fmt.Errorf("Encode: unsupported predicate %T", p)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("Encode: %w", err)
	}
	return ruleType, string(b), nil
}

func strictUnmarshal(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid conditions: %w", err)
	}
	return nil
}

func checkBounds(lo, hi *decimal.Decimal) error {
	if lo != nil && hi != nil && lo.GreaterThan(*hi) {
		return fmt.Errorf("min_amount %s is greater than max_amount %s", lo, hi)
	}
	return nil
}

func globRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Subject is what predicates are evaluated against.
type Subject struct {
	MatchKey string
	Amount   decimal.Decimal
	Merchant *domain.Merchant
}

// SubjectOf builds a Subject from a transaction and its resolved merchant.
func SubjectOf(tx *domain.Transaction, merchant *domain.Merchant) Subject {
	key := tx.MatchKey
	if key == "" {
		key = normalizer.MatchKey(tx.Description())
	}
	return Subject{MatchKey: key, Amount: tx.Amount, Merchant: merchant}
}

// Matches evaluates p against s.
func Matches(p Predicate, s Subject) bool {
	switch p := p.(type) {
	case MerchantPredicate:
		if s.Merchant == nil {
			return false
		}
		if p.MerchantID > 0 && s.Merchant.ID == p.MerchantID {
			return true
		}
		for _, want := range p.Names {
			if strings.EqualFold(want, s.Merchant.Name) {
				return true
			}
			for _, alias := range s.Merchant.Aliases {
				if strings.EqualFold(want, alias) {
					return true
				}
			}
		}
		return false

	case DescriptionPredicate:
		if !inRange(s.Amount, p.Min, p.Max) {
			return false
		}
		glob := p.glob
		if glob == nil && strings.ContainsAny(p.Pattern, "*?") {
			glob = globRegexp(p.Pattern)
		}
		if glob != nil {
			return glob.MatchString(s.MatchKey)
		}
		return strings.Contains(s.MatchKey, p.Pattern)

	case AmountRangePredicate:
		return inRange(s.Amount, p.Min, p.Max)
	}
	return false
}

func inRange(v decimal.Decimal, lo, hi *decimal.Decimal) bool {
	if lo != nil && v.LessThan(*lo) {
		return false
	}
	if hi != nil && v.GreaterThan(*hi) {
		return false
	}
	return true
}
