// Package store defines the persistence contract of the ingestion core. The
// gorm implementation lives in internal/infra/sqlstore.
package store

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("conflict")
)

// EventKey identifies candidates for the same economic event.
type EventKey struct {
	Ledger      string
	Date        civil.Date
	AmountMinor int64
	Currency    string
	Type        domain.TransactionType
}

// EventKeyOf returns the event key of a stored or candidate transaction.
func EventKeyOf(tx *domain.Transaction) EventKey {
	return EventKey{
		Ledger:      tx.Ledger,
		Date:        tx.Date,
		AmountMinor: domain.MinorUnits(tx.Amount, tx.Currency),
		Currency:    tx.Currency,
		Type:        tx.Type,
	}
}

// TransactionFilter narrows ListTransactions. Zero values do not filter.
type TransactionFilter struct {
	IDs           []int64
	From          *civil.Date
	To            *civil.Date
	CategoryID    *int64
	MerchantID    *int64
	SourceFileID  *int64
	Ledger        string
	SourceType    domain.SourceType
	Uncategorized bool
	ExcludeManual bool
	Unreconciled  bool
	// IncludeExcluded returns rows hidden by reconciliation.
	IncludeExcluded bool
	Limit           int
	Offset          int
}

// Repository is the set of operations available inside and outside a
// transaction.
type Repository interface {
	FindSourceFileByHash(ctx context.Context, hash string) (*domain.SourceFile, error)
	GetSourceFile(ctx context.Context, id int64) (*domain.SourceFile, error)
	InsertSourceFile(ctx context.Context, sf *domain.SourceFile) error
	ListSourceFiles(ctx context.Context) ([]*domain.SourceFile, error)

	FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Transaction, error)
	FindByEventKey(ctx context.Context, key EventKey) ([]*domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, error)

	// AppendHistory inserts history rows. There is no update or delete.
	AppendHistory(ctx context.Context, rows ...*domain.TransformationHistory) error
	ListHistory(ctx context.Context, transactionID int64) ([]*domain.TransformationHistory, error)

	InsertMerchant(ctx context.Context, m *domain.Merchant) error
	UpdateMerchant(ctx context.Context, m *domain.Merchant) error
	GetMerchant(ctx context.Context, id int64) (*domain.Merchant, error)
	ListMerchants(ctx context.Context) ([]*domain.Merchant, error)

	InsertCategory(ctx context.Context, c *domain.Category) error
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]*domain.Category, error)

	InsertRule(ctx context.Context, r *domain.CategorizationRule) error
	UpdateRule(ctx context.Context, r *domain.CategorizationRule) error
	GetRule(ctx context.Context, id int64) (*domain.CategorizationRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]*domain.CategorizationRule, error)
}

// Store is a Repository that can also run a unit of work atomically.
type Store interface {
	Repository

	// InTx runs fn in one database transaction. fn must use the repository
	// it is given. A busy database is retried with backoff; any other error
	// from fn rolls back and is returned as is.
	InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	Close() error
}
