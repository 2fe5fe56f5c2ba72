// Package export writes stored transactions out for use in other tools.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// Header is the first row of every CSV export.
var Header = []string{
	"id", "date", "posted_date", "type", "amount", "effective_amount", "currency",
	"description", "original_description", "merchant", "category", "category_manual",
	"tags", "source_type", "source_file_id", "external_id", "reconciled",
}

// Names resolves merchant and category ids to display names.
type Names struct {
	Merchants  map[int64]string
	Categories map[int64]string
}

// LoadNames reads the merchant and category catalogs.
func LoadNames(ctx context.Context, repo store.Repository) (*Names, error) {
	merchants, err := repo.ListMerchants(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadNames: merchants: %w", err)
	}
	categories, err := repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadNames: categories: %w", err)
	}
	n := &Names{Merchants: make(map[int64]string, len(merchants)), Categories: make(map[int64]string, len(categories))}
	for _, m := range merchants {
		n.Merchants[m.ID] = m.Name
	}
	for _, c := range categories {
		n.Categories[c.ID] = c.Name
	}
	return n, nil
}

// Merchant returns the merchant name for id, or "".
func (n *Names) Merchant(id *int64) string {
	if id == nil {
		return ""
	}
	return n.Merchants[*id]
}

// Category returns the category name for id, or "".
func (n *Names) Category(id *int64) string {
	if id == nil {
		return ""
	}
	return n.Categories[*id]
}

// WriteCSV writes the transactions matching f to w and returns how many rows
// were written.
func WriteCSV(ctx context.Context, repo store.Repository, f store.TransactionFilter, w io.Writer) (int, error) {
	names, err := LoadNames(ctx, repo)
	if err != nil {
		return 0, fmt.Errorf("WriteCSV: %w", err)
	}
	txs, err := repo.ListTransactions(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("WriteCSV: listing transactions: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("WriteCSV: header: %w", err)
	}
	for _, tx := range txs {
		if err := cw.Write(record(tx, names)); err != nil {
			return 0, fmt.Errorf("WriteCSV: transaction %d: %w", tx.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("WriteCSV: flush: %w", err)
	}
	logger.Ctx(ctx).Info().Int("rows", len(txs)).Msg("csv export written")
	return len(txs), nil
}

func record(tx *domain.Transaction, names *Names) []string {
	posted := ""
	if tx.PostedDate != nil {
		posted = tx.PostedDate.String()
	}
	effective := ""
	if tx.EffectiveAmount != nil {
		effective = tx.EffectiveAmount.StringFixed(2)
	}
	return []string{
		strconv.FormatInt(tx.ID, 10),
		tx.Date.String(),
		posted,
		string(tx.Type),
		tx.Amount.StringFixed(2),
		effective,
		tx.Currency,
		tx.Description(),
		tx.OriginalDescription,
		names.Merchant(tx.MerchantID),
		names.Category(tx.CategoryID),
		strconv.FormatBool(tx.IsCategoryManual),
		strings.Join(tx.Tags, ";"),
		string(tx.SourceType),
		strconv.FormatInt(tx.SourceFileID, 10),
		tx.ExternalID,
		strconv.FormatBool(tx.IsReconciled),
	}
}
