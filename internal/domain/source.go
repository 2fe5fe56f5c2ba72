package domain

import "time"

// SourceType identifies the kind of document a transaction was imported from.
type SourceType string

const (
	SourceBankCSV       SourceType = "bank_csv"
	SourceBankXML       SourceType = "bank_xml"
	SourceBankPDF       SourceType = "bank_pdf"
	SourceCreditCardPDF SourceType = "credit_card_pdf"
	SourceSplitwise     SourceType = "splitwise"
	SourceManual        SourceType = "manual"
)

// IsSharedExpense reports whether the source is a shared-expense ledger rather
// than a bank or card statement.
func (s SourceType) IsSharedExpense() bool {
	return s == SourceSplitwise
}

// SourceFile records one imported file. ContentHash is unique across the store.
type SourceFile struct {
	ID          int64
	ContentHash string
	Path        string
	Size        int64
	SourceType  SourceType
	ParserName  string
	ImportedAt  time.Time
	Metadata    map[string]any
}
