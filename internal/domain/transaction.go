package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType carries the direction of a transaction. Amounts are always
// stored non-negative; the type is the only source of sign.
type TransactionType string

const (
	// TypeIncome is money coming in.
	TypeIncome TransactionType = "INCOME"
	// TypeExpense is money going out.
	TypeExpense TransactionType = "EXPENSE"
	// TypeTransfer is a movement between own accounts or a debt settlement.
	TypeTransfer TransactionType = "TRANSFER"
)

// ParseTransactionType converts a case-insensitive name into a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeIncome:
		return TypeIncome, nil
	case TypeExpense:
		return TypeExpense, nil
	case TypeTransfer:
		return TypeTransfer, nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// Valid reports whether t is one of the known types.
func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense || t == TypeTransfer
}

// RawTransaction is a canonical record produced by a parser, before it is
// normalized, deduplicated and persisted.
type RawTransaction struct {
	TransactionDate     civil.Date
	PostedDate          *civil.Date
	Amount              decimal.Decimal
	Currency            string
	OriginalDescription string
	Type                TransactionType
	ExternalID          string
	SourceLine          int // 0 when the source has no line concept
	Metadata            map[string]any
}

// Validate checks the invariants every parser output must satisfy.
func (r RawTransaction) Validate() error {
	if !r.TransactionDate.IsValid() {
		return fmt.Errorf("invalid transaction date %v", r.TransactionDate)
	}
	if r.PostedDate != nil && !r.PostedDate.IsValid() {
		return fmt.Errorf("invalid posted date %v", *r.PostedDate)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("amount must be non-negative, got %s", r.Amount)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid transaction type %q", r.Type)
	}
	if strings.TrimSpace(r.OriginalDescription) == "" {
		return fmt.Errorf("description is empty")
	}
	if _, err := LookupCurrency(r.Currency); err != nil {
		return err
	}
	return nil
}

// Transaction is the persisted, deduplicated form of an economic event.
type Transaction struct {
	ID           int64
	SourceFileID int64
	SourceType   SourceType
	FidelityRank int
	// Ledger separates statement rows from shared-expense rows for dedup.
	Ledger string

	Date       civil.Date
	PostedDate *civil.Date
	Amount     decimal.Decimal
	Currency   string
	Type       TransactionType

	// OriginalDescription is set on insert and only replaced when a higher
	// fidelity source re-sources the row.
	OriginalDescription string
	CleanedDescription  string
	MatchKey            string
	MerchantHints       []string
	Fingerprint         string
	ExternalID          string

	MerchantID       *int64
	CategoryID       *int64
	IsCategoryManual bool
	AppliedRuleID    *int64

	// Shared-expense reconciliation.
	EffectiveAmount *decimal.Decimal
	IsReconciled    bool
	ReconciledWith  *int64
	IsExcluded      bool

	Tags     []string
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SignedAmount returns the amount with income positive and expenses negative.
// Transfers keep their stored sign.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Description returns the best human readable description available.
func (t *Transaction) Description() string {
	if t.CleanedDescription != "" {
		return t.CleanedDescription
	}
	return t.OriginalDescription
}

// HasTag reports whether the transaction carries tag (case-insensitive).
func (t *Transaction) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if strings.EqualFold(existing, tag) {
			return true
		}
	}
	return false
}
