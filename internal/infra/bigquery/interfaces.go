package bigquery

import (
	"context"
)

//go:generate mockgen -source=interfaces.go -destination=mock_inserter.go -package=bigquery

// RowInserter streams rows into a table. *bigquery.Inserter satisfies it.
type RowInserter interface {
	Put(ctx context.Context, src interface{}) error
}
