package domain

import "time"

// Merchant is a canonical counterparty. Aliases are matched case-insensitively
// against merchant hints extracted from descriptions.
type Merchant struct {
	ID                int64
	Name              string
	NormalizedName    string
	DefaultCategoryID *int64
	Aliases           []string
}

// Category is a node in the category tree.
type Category struct {
	ID       int64
	Name     string
	ParentID *int64
	Color    string
	Icon     string
}

// RuleType selects the predicate variant of a categorization rule.
type RuleType string

const (
	RuleMerchant           RuleType = "MERCHANT"
	RuleDescriptionPattern RuleType = "DESCRIPTION_PATTERN"
	RuleAmountRange        RuleType = "AMOUNT_RANGE"
)

// CategorizationRule is the stored form of a rule. Conditions holds the JSON
// encoded predicate for RuleType and is decoded once per categorization pass.
type CategorizationRule struct {
	ID         int64
	Name       string
	Priority   int
	RuleType   RuleType
	Conditions string
	CategoryID int64
	Active     bool
	CreatedAt  time.Time
}
