// Package bigquery streams stored transactions into a BigQuery table for
// analysis.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ingest/internal/export"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/store"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	transactionsTable = "transactions"
	defaultBatchSize  = 500
)

var _ RowInserter = (*bigquery.Inserter)(nil)

var transactionSchema = mustInferSchema()

func mustInferSchema() bigquery.Schema {
	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		panic(fmt.Sprintf("bigquery: TransactionRow schema: %v", err))
	}
	return schema
}

// Exporter streams transactions through a RowInserter.
type Exporter struct {
	inserter  RowInserter
	batchSize int
}

// NewExporter returns an Exporter writing to inserter.
func NewExporter(inserter RowInserter) *Exporter {
	return &Exporter{inserter: inserter, batchSize: defaultBatchSize}
}

// Export streams every transaction matching f and returns how many rows were
// sent. Rows carry the fingerprint as insert id, so a retried export does
// not duplicate rows inside BigQuery's dedup window.
func (e *Exporter) Export(ctx context.Context, repo store.Repository, f store.TransactionFilter) (int, error) {
	log := logger.FromContext(ctx)

	names, err := export.LoadNames(ctx, repo)
	if err != nil {
		return 0, fmt.Errorf("Export: %w", err)
	}
	txs, err := repo.ListTransactions(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("Export: listing transactions: %w", err)
	}

	sent := 0
	batch := make([]*bigquery.StructSaver, 0, e.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.inserter.Put(ctx, batch); err != nil {
			return fmt.Errorf("Export: inserting rows: %w", err)
		}
		sent += len(batch)
		log.Debug().Int("rows", len(batch)).Msg("bigquery batch inserted")
		batch = batch[:0]
		return nil
	}
	for _, tx := range txs {
		row, err := NewTransactionRow(tx, names.Merchant(tx.MerchantID), names.Category(tx.CategoryID))
		if err != nil {
			return sent, fmt.Errorf("Export: %w", err)
		}
		batch = append(batch, &bigquery.StructSaver{Schema: transactionSchema, InsertID: tx.Fingerprint, Struct: row})
		if len(batch) == e.batchSize {
			if err := flush(); err != nil {
				return sent, err
			}
		}
	}
	if err := flush(); err != nil {
		return sent, err
	}
	log.Info().Int("rows", sent).Msg("bigquery export finished")
	return sent, nil
}

// Client owns a BigQuery connection and the transactions table handle.
type Client struct {
	client *bigquery.Client
	table  *bigquery.Table
}

// NewClient connects to project and addresses <dataset>.transactions.
func NewClient(ctx context.Context, project, dataset string, opts ...option.ClientOption) (*Client, error) {
	if project == "" || dataset == "" {
		return nil, errors.New("NewClient: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: bigquery client: %w", err)
	}
	return &Client{client: client, table: client.DatasetInProject(project, dataset).Table(transactionsTable)}, nil
}

// EnsureTable creates the transactions table when it does not exist.
func (c *Client) EnsureTable(ctx context.Context) error {
	_, err := c.table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema:           transactionSchema,
		TimePartitioning: &bigquery.TimePartitioning{Type: bigquery.MonthPartitioningType, Field: "transaction_date"},
	}
	if err := c.table.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating %s: %w", c.table.FullyQualifiedName(), err)
	}
	logger.Ctx(ctx).Info().Str("table", c.table.FullyQualifiedName()).Msg("bigquery table created")
	return nil
}

// Exporter returns an Exporter bound to the transactions table.
func (c *Client) Exporter() *Exporter {
	return NewExporter(c.table.Inserter())
}

// Close closes the BigQuery client connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
