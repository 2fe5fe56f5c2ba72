package sqlstore

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// FindSourceFileByHash looks a file up by the SHA-256 of its bytes.
func (r *repo) FindSourceFileByHash(ctx context.Context, hash string) (*domain.SourceFile, error) {
	var row SourceFileRow
	if err := r.db.WithContext(ctx).Where("content_hash = ?", hash).Take(&row).Error; err != nil {
		return nil, translate("FindSourceFileByHash", err)
	}
	return row.toDomain(), nil
}

// GetSourceFile loads one file record by id.
func (r *repo) GetSourceFile(ctx context.Context, id int64) (*domain.SourceFile, error) {
	var row SourceFileRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return nil, translate("GetSourceFile", err)
	}
	return row.toDomain(), nil
}

// InsertSourceFile stores sf. A second file with the same hash is a
// store.ErrConflict.
func (r *repo) InsertSourceFile(ctx context.Context, sf *domain.SourceFile) error {
	if sf.ImportedAt.IsZero() {
		sf.ImportedAt = time.Now().UTC()
	}
	row := sourceFileRow(sf)
	row.ID = 0
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("InsertSourceFile", err)
	}
	sf.ID = row.ID
	return nil
}

// ListSourceFiles returns every imported file, newest first.
func (r *repo) ListSourceFiles(ctx context.Context) ([]*domain.SourceFile, error) {
	var rows []SourceFileRow
	if err := r.db.WithContext(ctx).Order("imported_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, translate("ListSourceFiles", err)
	}
	out := make([]*domain.SourceFile, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
