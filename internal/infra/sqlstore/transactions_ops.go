package sqlstore

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// FindByFingerprint returns the transaction stored under fingerprint.
func (r *repo) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Transaction, error) {
	var row TransactionRow
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Take(&row).Error; err != nil {
		return nil, translate("FindByFingerprint", err)
	}
	return row.toDomain()
}

// FindByEventKey returns the transactions sharing key, oldest first.
func (r *repo) FindByEventKey(ctx context.Context, key store.EventKey) ([]*domain.Transaction, error) {
	var rows []TransactionRow
	err := r.db.WithContext(ctx).
		Where("ledger = ? AND date = ? AND amount_minor = ? AND currency = ? AND type = ?",
			key.Ledger, key.Date.String(), key.AmountMinor, key.Currency, string(key.Type)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, translate("FindByEventKey", err)
	}
	return toTransactions(rows)
}

// GetTransaction loads one transaction by id.
func (r *repo) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var row TransactionRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return nil, translate("GetTransaction", err)
	}
	return row.toDomain()
}

// InsertTransaction stores tx and sets its id and timestamps.
func (r *repo) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	row := transactionRow(tx)
	row.ID = 0
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("InsertTransaction", err)
	}
	tx.ID, tx.CreatedAt, tx.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	return nil
}

// UpdateTransaction writes every column of tx.
func (r *repo) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == 0 {
		return translate("UpdateTransaction", store.ErrNotFound)
	}
	row := transactionRow(tx)
	row.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&TransactionRow{ID: tx.ID}).Select("*").Omit("id", "created_at").Updates(row)
	if res.Error != nil {
		return translate("UpdateTransaction", res.Error)
	}
	if res.RowsAffected == 0 {
		return translate("UpdateTransaction", store.ErrNotFound)
	}
	tx.UpdatedAt = row.UpdatedAt
	return nil
}

// ListTransactions returns transactions matching f ordered by date, then id.
func (r *repo) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]*domain.Transaction, error) {
	q := r.db.WithContext(ctx).Model(&TransactionRow{})
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.From != nil {
		q = q.Where("date >= ?", f.From.String())
	}
	if f.To != nil {
		q = q.Where("date <= ?", f.To.String())
	}
	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.MerchantID != nil {
		q = q.Where("merchant_id = ?", *f.MerchantID)
	}
	if f.SourceFileID != nil {
		q = q.Where("source_file_id = ?", *f.SourceFileID)
	}
	if f.Ledger != "" {
		q = q.Where("ledger = ?", f.Ledger)
	}
	if f.SourceType != "" {
		q = q.Where("source_type = ?", string(f.SourceType))
	}
	if f.Uncategorized {
		q = q.Where("category_id IS NULL")
	}
	if f.ExcludeManual {
		q = q.Where("is_category_manual = ?", false)
	}
	if f.Unreconciled {
		q = q.Where("is_reconciled = ?", false)
	}
	if !f.IncludeExcluded {
		q = q.Where("is_excluded = ?", false)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []TransactionRow
	if err := q.Order("date").Order("id").Find(&rows).Error; err != nil {
		return nil, translate("ListTransactions", err)
	}
	return toTransactions(rows)
}

func toTransactions(rows []TransactionRow) ([]*domain.Transaction, error) {
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tx, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}
