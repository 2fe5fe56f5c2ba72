package sqlstore

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// InsertMerchant stores m and sets its id.
func (r *repo) InsertMerchant(ctx context.Context, m *domain.Merchant) error {
	row := merchantRow(m)
	row.ID = 0
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("InsertMerchant", err)
	}
	m.ID = row.ID
	return nil
}

// UpdateMerchant writes every column of m.
func (r *repo) UpdateMerchant(ctx context.Context, m *domain.Merchant) error {
	res := r.db.WithContext(ctx).Model(&MerchantRow{ID: m.ID}).Select("*").Omit("id").Updates(merchantRow(m))
	if res.Error != nil {
		return translate("UpdateMerchant", res.Error)
	}
	if res.RowsAffected == 0 {
		return translate("UpdateMerchant", store.ErrNotFound)
	}
	return nil
}

// GetMerchant loads one merchant.
func (r *repo) GetMerchant(ctx context.Context, id int64) (*domain.Merchant, error) {
	var row MerchantRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return nil, translate("GetMerchant", err)
	}
	return row.toDomain(), nil
}

// ListMerchants returns every merchant ordered by id.
func (r *repo) ListMerchants(ctx context.Context) ([]*domain.Merchant, error) {
	var rows []MerchantRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, translate("ListMerchants", err)
	}
	out := make([]*domain.Merchant, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// InsertCategory stores c and sets its id.
func (r *repo) InsertCategory(ctx context.Context, c *domain.Category) error {
	row := categoryRow(c)
	row.ID = 0
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("InsertCategory", err)
	}
	c.ID = row.ID
	return nil
}

// GetCategory loads one category.
func (r *repo) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	var row CategoryRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return nil, translate("GetCategory", err)
	}
	return row.toDomain(), nil
}

// ListCategories returns every category ordered by id.
func (r *repo) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	var rows []CategoryRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, translate("ListCategories", err)
	}
	out := make([]*domain.Category, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// InsertRule stores rule and sets its id and creation time.
func (r *repo) InsertRule(ctx context.Context, rule *domain.CategorizationRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	row := ruleRow(rule)
	row.ID = 0
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("InsertRule", err)
	}
	rule.ID = row.ID
	return nil
}

// UpdateRule writes every column of rule except its creation time.
func (r *repo) UpdateRule(ctx context.Context, rule *domain.CategorizationRule) error {
	res := r.db.WithContext(ctx).Model(&RuleRow{ID: rule.ID}).Select("*").Omit("id", "created_at").Updates(ruleRow(rule))
	if res.Error != nil {
		return translate("UpdateRule", res.Error)
	}
	if res.RowsAffected == 0 {
		return translate("UpdateRule", store.ErrNotFound)
	}
	return nil
}

// GetRule loads one rule.
func (r *repo) GetRule(ctx context.Context, id int64) (*domain.CategorizationRule, error) {
	var row RuleRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return nil, translate("GetRule", err)
	}
	return row.toDomain(), nil
}

// ListRules returns rules in evaluation order.
func (r *repo) ListRules(ctx context.Context, activeOnly bool) ([]*domain.CategorizationRule, error) {
	q := r.db.WithContext(ctx)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var rows []RuleRow
	if err := q.Order("priority").Order("created_at").Order("id").Find(&rows).Error; err != nil {
		return nil, translate("ListRules", err)
	}
	out := make([]*domain.CategorizationRule, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
