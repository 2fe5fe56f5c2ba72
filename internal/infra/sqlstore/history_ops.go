package sqlstore

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// AppendHistory inserts rows and sets their ids.
func (r *repo) AppendHistory(ctx context.Context, rows ...*domain.TransformationHistory) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := make([]*HistoryRow, 0, len(rows))
	for _, h := range rows {
		if h.CreatedAt.IsZero() {
			h.CreatedAt = now
		}
		row := historyRow(h)
		row.ID = 0
		batch = append(batch, row)
	}
	if err := r.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return translate("AppendHistory", err)
	}
	for i, row := range batch {
		rows[i].ID = row.ID
	}
	return nil
}

// ListHistory returns the history of one transaction in insertion order.
func (r *repo) ListHistory(ctx context.Context, transactionID int64) ([]*domain.TransformationHistory, error) {
	var rows []HistoryRow
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("id").Find(&rows).Error
	if err != nil {
		return nil, translate("ListHistory", err)
	}
	out := make([]*domain.TransformationHistory, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
