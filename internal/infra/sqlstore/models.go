package sqlstore

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SourceFileRow is one imported file.
type SourceFileRow struct {
	ID          int64             `gorm:"primaryKey"`
	ContentHash string            `gorm:"size:64;not null;uniqueIndex"`
	Path        string            `gorm:"not null"`
	Size        int64             `gorm:"not null"`
	SourceType  string            `gorm:"size:32;not null"`
	ParserName  string            `gorm:"size:64;not null"`
	ImportedAt  time.Time         `gorm:"not null"`
	Metadata    datatypes.JSONMap `gorm:"type:json"`
}

func (SourceFileRow) TableName() string { return "source_files" }

// TransactionRow is a persisted transaction. Dates are stored as YYYY-MM-DD
// text and amounts as decimal text plus an integer count of minor units used
// by the event-key index.
type TransactionRow struct {
	ID           int64  `gorm:"primaryKey"`
	SourceFileID int64  `gorm:"not null;index"`
	SourceType   string `gorm:"size:32;not null"`
	FidelityRank int    `gorm:"not null"`

	Ledger      string  `gorm:"size:16;not null;index:idx_transactions_event,priority:1"`
	Date        string  `gorm:"size:10;not null;index:idx_transactions_event,priority:2"`
	PostedDate  *string `gorm:"size:10"`
	Amount      string  `gorm:"not null"`
	AmountMinor int64   `gorm:"not null;index:idx_transactions_event,priority:3"`
	Currency    string  `gorm:"size:3;not null;index:idx_transactions_event,priority:4"`
	Type        string  `gorm:"size:16;not null;index:idx_transactions_event,priority:5"`

	OriginalDescription string                      `gorm:"not null"`
	CleanedDescription  string                      `gorm:"not null"`
	MatchKey            string                      `gorm:"not null"`
	MerchantHints       datatypes.JSONSlice[string] `gorm:"type:json"`
	Fingerprint         string                      `gorm:"size:64;not null;uniqueIndex"`
	ExternalID          string                      `gorm:"size:128"`

	MerchantID       *int64 `gorm:"index"`
	CategoryID       *int64 `gorm:"index"`
	IsCategoryManual bool   `gorm:"not null;default:false"`
	AppliedRuleID    *int64

	EffectiveAmount *string
	IsReconciled    bool `gorm:"not null;default:false"`
	ReconciledWith  *int64
	IsExcluded      bool `gorm:"not null;default:false"`

	Tags     datatypes.JSONSlice[string] `gorm:"type:json"`
	Metadata datatypes.JSONMap           `gorm:"type:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TransactionRow) TableName() string { return "transactions" }

// MerchantRow is a canonical merchant.
type MerchantRow struct {
	ID                int64                       `gorm:"primaryKey"`
	Name              string                      `gorm:"not null;uniqueIndex"`
	NormalizedName    string                      `gorm:"not null;index"`
	DefaultCategoryID *int64
	Aliases           datatypes.JSONSlice[string] `gorm:"type:json"`
}

func (MerchantRow) TableName() string { return "merchants" }

// CategoryRow is a node of the category tree.
type CategoryRow struct {
	ID       int64  `gorm:"primaryKey"`
	Name     string `gorm:"not null;index"`
	ParentID *int64 `gorm:"index"`
	Color    string
	Icon     string
}

func (CategoryRow) TableName() string { return "categories" }

// RuleRow is a stored categorization rule.
type RuleRow struct {
	ID         int64  `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	Priority   int    `gorm:"not null;index"`
	RuleType   string `gorm:"size:32;not null"`
	Conditions string `gorm:"type:text;not null"`
	CategoryID int64  `gorm:"not null"`
	Active     bool   `gorm:"not null"`
	CreatedAt  time.Time
}

func (RuleRow) TableName() string { return "categorization_rules" }

// HistoryRow is an append-only transformation record.
type HistoryRow struct {
	ID            int64  `gorm:"primaryKey"`
	TransactionID int64  `gorm:"not null;index"`
	Field         string `gorm:"size:64;not null"`
	OldValue      string
	NewValue      string
	Type          string `gorm:"size:32;not null"`
	Trigger       string `gorm:"size:64;not null"`
	CreatedAt     time.Time
}

func (HistoryRow) TableName() string { return "transformation_history" }

// models lists every table managed by AutoMigrate.
var models = []any{
	&SourceFileRow{},
	&TransactionRow{},
	&MerchantRow{},
	&CategoryRow{},
	&RuleRow{},
	&HistoryRow{},
}

func sourceFileRow(sf *domain.SourceFile) *SourceFileRow {
	return &SourceFileRow{
		ID:          sf.ID,
		ContentHash: sf.ContentHash,
		Path:        sf.Path,
		Size:        sf.Size,
		SourceType:  string(sf.SourceType),
		ParserName:  sf.ParserName,
		ImportedAt:  sf.ImportedAt,
		Metadata:    datatypes.JSONMap(sf.Metadata),
	}
}

func (r *SourceFileRow) toDomain() *domain.SourceFile {
	return &domain.SourceFile{
		ID:          r.ID,
		ContentHash: r.ContentHash,
		Path:        r.Path,
		Size:        r.Size,
		SourceType:  domain.SourceType(r.SourceType),
		ParserName:  r.ParserName,
		ImportedAt:  r.ImportedAt,
		Metadata:    map[string]any(r.Metadata),
	}
}

func transactionRow(tx *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		ID:                  tx.ID,
		SourceFileID:        tx.SourceFileID,
		SourceType:          string(tx.SourceType),
		FidelityRank:        tx.FidelityRank,
		Ledger:              tx.Ledger,
		Date:                tx.Date.String(),
		Amount:              tx.Amount.String(),
		AmountMinor:         domain.MinorUnits(tx.Amount, tx.Currency),
		Currency:            tx.Currency,
		Type:                string(tx.Type),
		OriginalDescription: tx.OriginalDescription,
		CleanedDescription:  tx.CleanedDescription,
		MatchKey:            tx.MatchKey,
		MerchantHints:       datatypes.JSONSlice[string](tx.MerchantHints),
		Fingerprint:         tx.Fingerprint,
		ExternalID:          tx.ExternalID,
		MerchantID:          tx.MerchantID,
		CategoryID:          tx.CategoryID,
		IsCategoryManual:    tx.IsCategoryManual,
		AppliedRuleID:       tx.AppliedRuleID,
		IsReconciled:        tx.IsReconciled,
		ReconciledWith:      tx.ReconciledWith,
		IsExcluded:          tx.IsExcluded,
		Tags:                datatypes.JSONSlice[string](tx.Tags),
		Metadata:            datatypes.JSONMap(tx.Metadata),
		CreatedAt:           tx.CreatedAt,
		UpdatedAt:           tx.UpdatedAt,
	}
	if tx.PostedDate != nil {
		s := tx.PostedDate.String()
		row.PostedDate = &s
	}
	if tx.EffectiveAmount != nil {
		s := tx.EffectiveAmount.String()
		row.EffectiveAmount = &s
	}
	return row
}

func (r *TransactionRow) toDomain() (*domain.Transaction, error) {
	date, err := civil.ParseDate(r.Date)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: date: %w", r.ID, err)
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: amount: %w", r.ID, err)
	}
	tx := &domain.Transaction{
		ID:                  r.ID,
		SourceFileID:        r.SourceFileID,
		SourceType:          domain.SourceType(r.SourceType),
		FidelityRank:        r.FidelityRank,
		Ledger:              r.Ledger,
		Date:                date,
		Amount:              amount,
		Currency:            r.Currency,
		Type:                domain.TransactionType(r.Type),
		OriginalDescription: r.OriginalDescription,
		CleanedDescription:  r.CleanedDescription,
		MatchKey:            r.MatchKey,
		MerchantHints:       []string(r.MerchantHints),
		Fingerprint:         r.Fingerprint,
		ExternalID:          r.ExternalID,
		MerchantID:          r.MerchantID,
		CategoryID:          r.CategoryID,
		IsCategoryManual:    r.IsCategoryManual,
		AppliedRuleID:       r.AppliedRuleID,
		IsReconciled:        r.IsReconciled,
		ReconciledWith:      r.ReconciledWith,
		IsExcluded:          r.IsExcluded,
		Tags:                []string(r.Tags),
		Metadata:            map[string]any(r.Metadata),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.PostedDate != nil {
		pd, err := civil.ParseDate(*r.PostedDate)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: posted date: %w", r.ID, err)
		}
		tx.PostedDate = &pd
	}
	if r.EffectiveAmount != nil {
		ea, err := decimal.NewFromString(*r.EffectiveAmount)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: effective amount: %w", r.ID, err)
		}
		tx.EffectiveAmount = &ea
	}
	return tx, nil
}

func merchantRow(m *domain.Merchant) *MerchantRow {
	return &MerchantRow{
		ID:                m.ID,
		Name:              m.Name,
		NormalizedName:    m.NormalizedName,
		DefaultCategoryID: m.DefaultCategoryID,
		Aliases:           datatypes.JSONSlice[string](m.Aliases),
	}
}

func (r *MerchantRow) toDomain() *domain.Merchant {
	return &domain.Merchant{
		ID:                r.ID,
		Name:              r.Name,
		NormalizedName:    r.NormalizedName,
		DefaultCategoryID: r.DefaultCategoryID,
		Aliases:           []string(r.Aliases),
	}
}

func categoryRow(c *domain.Category) *CategoryRow {
	return &CategoryRow{ID: c.ID, Name: c.Name, ParentID: c.ParentID, Color: c.Color, Icon: c.Icon}
}

func (r *CategoryRow) toDomain() *domain.Category {
	return &domain.Category{ID: r.ID, Name: r.Name, ParentID: r.ParentID, Color: r.Color, Icon: r.Icon}
}

func ruleRow(r *domain.CategorizationRule) *RuleRow {
	return &RuleRow{
		ID:         r.ID,
		Name:       r.Name,
		Priority:   r.Priority,
		RuleType:   string(r.RuleType),
		Conditions: r.Conditions,
		CategoryID: r.CategoryID,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
	}
}

func (r *RuleRow) toDomain() *domain.CategorizationRule {
	return &domain.CategorizationRule{
		ID:         r.ID,
		Name:       r.Name,
		Priority:   r.Priority,
		RuleType:   domain.RuleType(r.RuleType),
		Conditions: r.Conditions,
		CategoryID: r.CategoryID,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
	}
}

func historyRow(h *domain.TransformationHistory) *HistoryRow {
	return &HistoryRow{
		ID:            h.ID,
		TransactionID: h.TransactionID,
		Field:         h.Field,
		OldValue:      h.OldValue,
		NewValue:      h.NewValue,
		Type:          string(h.Type),
		Trigger:       h.Trigger,
		CreatedAt:     h.CreatedAt,
	}
}

func (r *HistoryRow) toDomain() *domain.TransformationHistory {
	return &domain.TransformationHistory{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		Field:         r.Field,
		OldValue:      r.OldValue,
		NewValue:      r.NewValue,
		Type:          domain.TransformationType(r.Type),
		Trigger:       r.Trigger,
		CreatedAt:     r.CreatedAt,
	}
}
