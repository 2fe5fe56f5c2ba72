package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	Fingerprint   string `bigquery:"fingerprint"`    // REQUIRED

	SourceFileID int64  `bigquery:"source_file_id"` // REQUIRED
	SourceType   string `bigquery:"source_type"`    // REQUIRED

	TransactionDate civil.Date        `bigquery:"transaction_date"` // REQUIRED in schema
	PostingDate     bigquery.NullDate `bigquery:"posting_date"`     // NULLABLE

	Amount          *big.Rat `bigquery:"amount"`           // REQUIRED NUMERIC
	EffectiveAmount *big.Rat `bigquery:"effective_amount"` // NULLABLE NUMERIC
	Currency        string   `bigquery:"currency"`         // REQUIRED STRING

	Direction string `bigquery:"direction"` // REQUIRED: INCOME, EXPENSE, TRANSFER

	RawDescription        string              `bigquery:"raw_description"`        // REQUIRED STRING
	NormalizedDescription bigquery.NullString `bigquery:"normalized_description"` // NULLABLE STRING

	MerchantName     bigquery.NullString `bigquery:"merchant_name"`  // NULLABLE
	CategoryName     bigquery.NullString `bigquery:"category_name"`  // NULLABLE
	IsCategoryManual bool                `bigquery:"is_category_manual"`
	IsReconciled     bool                `bigquery:"is_reconciled"`
	IsExcluded       bool                `bigquery:"is_excluded"`

	ExternalReference bigquery.NullString `bigquery:"external_reference"` // NULLABLE

	Tags []string `bigquery:"tags"` // REPEATED STRING

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE

	Extra bigquery.NullJSON `bigquery:"extra"` // NULLABLE JSON
}

// NewTransactionRow flattens tx. merchant and category are display names and
// may be empty.
func NewTransactionRow(tx *domain.Transaction, merchant, category string) (*TransactionRow, error) {
	row := &TransactionRow{
		TransactionID:         strconv.FormatInt(tx.ID, 10),
		Fingerprint:           tx.Fingerprint,
		SourceFileID:          tx.SourceFileID,
		SourceType:            string(tx.SourceType),
		TransactionDate:       tx.Date,
		Amount:                tx.Amount.Rat(),
		Currency:              tx.Currency,
		Direction:             string(tx.Type),
		RawDescription:        tx.OriginalDescription,
		NormalizedDescription: nullString(tx.CleanedDescription),
		MerchantName:          nullString(merchant),
		CategoryName:          nullString(category),
		IsCategoryManual:      tx.IsCategoryManual,
		IsReconciled:          tx.IsReconciled,
		IsExcluded:            tx.IsExcluded,
		ExternalReference:     nullString(tx.ExternalID),
		Tags:                  tx.Tags,
		CreatedTS:             tx.CreatedAt,
	}
	if row.Tags == nil {
		row.Tags = []string{}
	}
	if tx.PostedDate != nil {
		row.PostingDate = bigquery.NullDate{Date: *tx.PostedDate, Valid: true}
	}
	if tx.EffectiveAmount != nil {
		row.EffectiveAmount = tx.EffectiveAmount.Rat()
	}
	if !tx.UpdatedAt.IsZero() {
		row.UpdatedTS = bigquery.NullTimestamp{Timestamp: tx.UpdatedAt, Valid: true}
	}
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return nil, fmt.Errorf("NewTransactionRow: metadata of %d: %w", tx.ID, err)
		}
		row.Extra = bigquery.NullJSON{JSONVal: string(b), Valid: true}
	}
	return row, nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
