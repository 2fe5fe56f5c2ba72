package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/dvloznov/finance-ingest/internal/categorize"
	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/infra/sqlstore"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/parser/builtin"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linesParser reads "date|amount|TYPE|description[|external id]" lines. A
// "total|N" line declares the expected net movement.
type linesParser struct {
	name string
	st   domain.SourceType
	ext  string
}

func (p *linesParser) Descriptor() parser.Descriptor {
	return parser.Descriptor{Name: p.name, SourceType: p.st, Formats: []string{p.ext}, Priority: 100, Version: "test"}
}

func (p *linesParser) CanParse(f *parser.File) bool { return f.Ext == p.ext }

func (p *linesParser) Parse(ctx context.Context, f *parser.File, params parser.Params) (*parser.Result, error) {
	res := parser.NewResult()
	var expected *decimal.Decimal
	actual := decimal.Zero
	for i, line := range strings.Split(strings.TrimSpace(string(f.Content)), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		if parts[0] == "total" {
			v := decimal.RequireFromString(parts[1])
			expected = &v
			continue
		}
		if len(parts) < 4 {
			res.AddRowError(i+1, "", "want 4 fields, got %d", len(parts))
			continue
		}
		date, err := parser.ParseDate(parts[0], "2006-01-02")
		if err != nil {
			res.AddRowError(i+1, "date", "%v", err)
			continue
		}
		amount, err := decimal.NewFromString(parts[1])
		if err != nil {
			res.AddRowError(i+1, "amount", "%v", err)
			continue
		}
		tx := domain.RawTransaction{
			TransactionDate:     date,
			Amount:              amount,
			Currency:            "INR",
			Type:                domain.TransactionType(parts[2]),
			OriginalDescription: parts[3],
			SourceLine:          i + 1,
		}
		if len(parts) > 4 {
			tx.ExternalID = parts[4]
		}
		if tx.Type == domain.TypeExpense {
			actual = actual.Sub(amount)
		} else {
			actual = actual.Add(amount)
		}
		res.Add(tx)
	}
	if expected != nil {
		res.Reconciliation = parser.Reconcile(expected, actual, len(res.Transactions))
	}
	if len(res.Transactions) == 0 && len(res.Errors) == 0 {
		return nil, parser.NewError(parser.ErrNoTransactions, p.name, "empty", nil)
	}
	return res, nil
}

// MockFetcher is a test double for pipeline.Fetcher.
type MockFetcher struct {
	FetchFunc func(ctx context.Context, uri string) ([]byte, error)
}

func (m *MockFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return m.FetchFunc(ctx, uri)
}

type env struct {
	ctx   context.Context
	store *sqlstore.Store
	reg   *parser.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.Options{Driver: sqlstore.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg, err := builtin.NewRegistry(builtin.Options{})
	require.NoError(t, err)
	require.NoError(t, reg.Register(&linesParser{name: "test_card_pdf", st: domain.SourceCreditCardPDF, ext: "pdf"}))
	require.NoError(t, reg.Register(&linesParser{name: "test_splitwise", st: domain.SourceSplitwise, ext: "sw"}))
	require.NoError(t, reg.Register(&linesParser{name: "test_bank_pdf", st: domain.SourceBankPDF, ext: "stmt"}))
	return &env{ctx: ctx, store: s, reg: reg}
}

func (e *env) importer(opts pipeline.Options) *pipeline.Importer {
	return pipeline.NewImporter(e.reg, parser.NewDetector(e.reg, parser.DetectorOptions{}), e.store, dedup.New(dedup.DefaultThreshold), opts)
}

func (e *env) all(t *testing.T) []*domain.Transaction {
	t.Helper()
	txs, err := e.store.ListTransactions(e.ctx, store.TransactionFilter{IncludeExcluded: true})
	require.NoError(t, err)
	return txs
}

func file(path, content string) pipeline.Input {
	return pipeline.Input{Path: path, Content: []byte(content)}
}

const hdfcCSV = `Date,Narration,Value Dat,Debit Amount,Credit Amount,Chq/Ref Number,Closing Balance
15/01/26,UPI-SWIGGY-swiggy@icici-REF1,15/01/26,500.00,,0000412345678901,10000.00
16/01/26,SALARY ACME CORP,16/01/26,,"90,000.00",NEFT001,100000.00
17/01/26,AMAZON PAY INDIA,17/01/26,1299.00,,0000412345678999,98701.00
`

func TestImport_IdempotentAndDuplicateFile(t *testing.T) {
	e := newEnv(t)
	im := e.importer(pipeline.Options{Workers: 2})

	first := im.ImportFile(e.ctx, file("Acct_Statement_XXXXXXXX1234.csv", hdfcCSV))
	require.NoError(t, first.Err())
	assert.Equal(t, pipeline.StatusSuccess, first.Status)
	assert.Equal(t, "hdfc_bank_csv", first.Parser)
	assert.Equal(t, 3, first.Inserted)
	assert.NotZero(t, first.SourceFileID)

	again := im.ImportFile(e.ctx, file("copy.csv", hdfcCSV))
	require.NoError(t, again.Err())
	assert.Equal(t, pipeline.StatusDuplicateFile, again.Status)
	assert.Equal(t, 0, again.Inserted)
	assert.Empty(t, again.RowErrors)
	assert.Equal(t, first.SourceFileID, again.SourceFileID)

	// Same rows, different bytes: the file is new, every row is a duplicate.
	reordered := strings.Replace(hdfcCSV, "Closing Balance\n", "Closing Balance\n\n", 1) + "\n"
	third := im.ImportFile(e.ctx, file("other.csv", reordered))
	require.NoError(t, third.Err())
	assert.Equal(t, pipeline.StatusSuccess, third.Status)
	assert.Equal(t, 0, third.Inserted)
	assert.Equal(t, 3, third.Dropped)

	assert.Len(t, e.all(t), 3)
	files, err := e.store.ListSourceFiles(e.ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestImport_CSVUpgradesPDFInAnyOrder(t *testing.T) {
	pdf := file("statement.pdf", "2026-01-15|500.00|EXPENSE|UPI-SWIGGY-REF1\n2026-01-16|120.00|EXPENSE|UPI-UBER-REF2")
	csv := file("statement.csv", "Date,Description,Amount\n15/01/2026,SWIGGY BANGALORE,-500.00\n16/01/2026,UBER INDIA SYSTEMS,-120.00\n")

	run := func(t *testing.T, order ...pipeline.Input) []*domain.Transaction {
		e := newEnv(t)
		im := e.importer(pipeline.Options{})
		for _, in := range order {
			r := im.ImportFile(e.ctx, in)
			require.NoError(t, r.Err())
		}
		return e.all(t)
	}

	pdfFirst := run(t, pdf, csv)
	require.Len(t, pdfFirst, 2, "N rows, not 2N")
	swiggy := pdfFirst[0]
	assert.Equal(t, "SWIGGY BANGALORE", swiggy.OriginalDescription)
	assert.Equal(t, domain.SourceBankCSV, swiggy.SourceType)
	assert.Equal(t, 30, swiggy.FidelityRank)
	assert.Greater(t, dedup.Similarity("swiggy", swiggy.MatchKey), dedup.DefaultThreshold)

	csvFirst := run(t, csv, pdf)
	require.Len(t, csvFirst, 2)

	key := func(txs []*domain.Transaction) []string {
		var out []string
		for _, tx := range txs {
			out = append(out, fmt.Sprintf("%s|%s|%s|%s|%s|%s", tx.Date, tx.Amount, tx.Type, tx.OriginalDescription, tx.Fingerprint, tx.SourceType))
		}
		sort.Strings(out)
		return out
	}
	assert.Equal(t, key(pdfFirst), key(csvFirst), "import order does not change the final state")
}

func TestImport_BankCSVSupersedesBankPDF(t *testing.T) {
	e := newEnv(t)
	im := e.importer(pipeline.Options{})

	pdf := im.ImportFile(e.ctx, file("january.stmt", "2026-01-15|500.00|EXPENSE|UPI-SWIGGY-swiggy@icici-REF1|0000412345678901\n2026-01-17|1299.00|EXPENSE|AMAZON PAY|0000412345678999"))
	require.NoError(t, pdf.Err())
	assert.Equal(t, 2, pdf.Inserted)

	csv := im.ImportFile(e.ctx, file("Acct_Statement_XXXXXXXX1234.csv", hdfcCSV))
	require.NoError(t, csv.Err())
	assert.Equal(t, "hdfc_bank_csv", csv.Parser)
	assert.Equal(t, 2, csv.Upgraded)
	assert.Equal(t, 1, csv.Inserted)

	txs := e.all(t)
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.Equal(t, domain.SourceBankCSV, tx.SourceType)
	}

	again := im.ImportFile(e.ctx, file("february.stmt", "2026-01-15|500.00|EXPENSE|UPI-SWIGGY|0000412345678901"))
	require.NoError(t, again.Err())
	assert.Equal(t, 1, again.Dropped, "the statement copy never replaces the CSV row")
	assert.Len(t, e.all(t), 3)
}

func TestImport_UpgradeHistory(t *testing.T) {
	e := newEnv(t)
	im := e.importer(pipeline.Options{})
	require.NoError(t, im.ImportFile(e.ctx, file("s.pdf", "2026-01-15|500.00|EXPENSE|UPI-SWIGGY-REF1")).Err())
	up := im.ImportFile(e.ctx, file("s.csv", "Date,Description,Amount\n15/01/2026,SWIGGY BANGALORE,-500.00\n"))
	require.NoError(t, up.Err())
	assert.Equal(t, 1, up.Upgraded)

	txs := e.all(t)
	require.Len(t, txs, 1)
	hist, err := e.store.ListHistory(e.ctx, txs[0].ID)
	require.NoError(t, err)

	var prior string
	for _, h := range hist {
		if h.Field == "original_description" {
			assert.Equal(t, domain.TransformUpgrade, h.Type)
			assert.Equal(t, fmt.Sprintf("upgrade:%d", up.SourceFileID), h.Trigger)
			prior = h.OldValue
		}
	}
	assert.Equal(t, "UPI-SWIGGY-REF1", prior, "the replaced description is kept in history")

	lower := im.ImportFile(e.ctx, file("s2.pdf", "2026-01-15|500.00|EXPENSE|UPI-SWIGGY-REF1\n"))
	require.NoError(t, lower.Err())
	assert.Equal(t, 1, lower.Dropped, "a lower fidelity source never overwrites")
	assert.Equal(t, "SWIGGY BANGALORE", e.all(t)[0].OriginalDescription)
}

func TestImport_PartialSuccess(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Description,Amount\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "%02d/01/2026,ITEM %d,-%d.00\n", i, i, i*10)
	}
	b.WriteString("32/01/2026,BAD DATE,-5.00\n")
	b.WriteString("05/01/2026,BAD AMOUNT,abc\n")

	e := newEnv(t)
	r := e.importer(pipeline.Options{}).ImportFile(e.ctx, file("export.csv", b.String()))
	require.NoError(t, r.Err())
	assert.Equal(t, pipeline.StatusPartial, r.Status)
	assert.Equal(t, "generic_csv", r.Parser)
	assert.True(t, r.Fallback)
	assert.Equal(t, 10, r.Inserted)
	assert.Len(t, r.RowErrors, 2)
	assert.Len(t, e.all(t), 10)
}

func TestImport_AllRowsBad(t *testing.T) {
	e := newEnv(t)
	r := e.importer(pipeline.Options{}).ImportFile(e.ctx, file("bad.pdf", "nope\nalso|nope"))
	assert.Equal(t, pipeline.StatusFailed, r.Status)
	assert.Equal(t, parser.ErrNoTransactions, r.ErrorCode)
	assert.Len(t, r.RowErrors, 2)

	files, err := e.store.ListSourceFiles(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, files, "a failed file leaves no trace")
}

func TestImport_IntraFileDuplicates(t *testing.T) {
	e := newEnv(t)
	im := e.importer(pipeline.Options{})
	twice := "2026-01-20|60.00|EXPENSE|CHAI POINT\n2026-01-20|60.00|EXPENSE|CHAI POINT"

	r := im.ImportFile(e.ctx, file("a.pdf", twice))
	require.NoError(t, r.Err())
	assert.Equal(t, 2, r.Inserted, "two genuine purchases stay distinct")

	r = im.ImportFile(e.ctx, file("b.pdf", twice+"\n2026-01-21|60.00|EXPENSE|CHAI POINT"))
	require.NoError(t, r.Err())
	assert.Equal(t, 1, r.Inserted)
	assert.Equal(t, 2, r.Dropped)
	assert.Len(t, e.all(t), 3)
}

func TestImport_SharedLedgerStaysSeparate(t *testing.T) {
	e := newEnv(t)
	im := e.importer(pipeline.Options{})
	require.NoError(t, im.ImportFile(e.ctx, file("card.pdf", "2026-01-15|3000.00|EXPENSE|THALASSA GOA")).Err())
	r := im.ImportFile(e.ctx, file("backup.sw", "2026-01-15|3000.00|EXPENSE|THALASSA GOA\n"))
	require.NoError(t, r.Err())
	assert.Equal(t, pipeline.StatusSuccess, r.Status)
	assert.Equal(t, 1, r.Inserted, "splitwise rows are reconciled, never merged")
	assert.Len(t, e.all(t), 2)
}

func TestImport_DifferentExternalIDsStayDistinct(t *testing.T) {
	a := file("a.pdf", "2026-01-15|450.00|EXPENSE|STARBUCKS|A")
	b := file("b.pdf", "2026-01-15|450.00|EXPENSE|STARBUCKS|B\n2026-01-15|450.00|EXPENSE|STARBUCKS|A")

	for name, order := range map[string][]pipeline.Input{"a then b": {a, b}, "b then a": {b, a}} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			im := e.importer(pipeline.Options{})
			for _, in := range order {
				require.NoError(t, im.ImportFile(e.ctx, in).Err())
			}
			var ids []string
			for _, tx := range e.all(t) {
				ids = append(ids, tx.ExternalID)
			}
			sort.Strings(ids)
			assert.Equal(t, []string{"A", "B"}, ids)
		})
	}

	t.Run("lone differing reference", func(t *testing.T) {
		e := newEnv(t)
		im := e.importer(pipeline.Options{})
		require.NoError(t, im.ImportFile(e.ctx, a).Err())
		r := im.ImportFile(e.ctx, file("c.pdf", "2026-01-15|450.00|EXPENSE|STARBUCKS|B"))
		require.NoError(t, r.Err())
		assert.Equal(t, 1, r.Inserted)
		assert.Equal(t, 0, r.Dropped)
		assert.Len(t, e.all(t), 2)
	})
}

func TestImport_ManualCategorySurvivesUpgradeAndRules(t *testing.T) {
	e := newEnv(t)
	for i := 1; i <= 9; i++ {
		require.NoError(t, e.store.InsertCategory(e.ctx, &domain.Category{Name: fmt.Sprintf("cat%d", i)}))
	}
	for _, r := range []*domain.CategorizationRule{
		{Name: "restaurant", Priority: 60, RuleType: domain.RuleDescriptionPattern, Conditions: `{"pattern":"RESTAURANT"}`, CategoryID: 9, Active: true},
		{Name: "swiggy", Priority: 40, RuleType: domain.RuleDescriptionPattern, Conditions: `{"pattern":"SWIGGY"}`, CategoryID: 5, Active: true},
	} {
		require.NoError(t, e.store.InsertRule(e.ctx, r))
	}
	im := e.importer(pipeline.Options{})

	r := im.ImportFile(e.ctx, file("a.pdf", "2026-01-15|450.00|EXPENSE|SWIGGY RESTAURANT ORDER"))
	require.NoError(t, r.Err())
	assert.Equal(t, 1, r.Categorized)
	tx := e.all(t)[0]
	require.NotNil(t, tx.CategoryID)
	assert.Equal(t, int64(5), *tx.CategoryID)

	svc := categorize.NewService(e.store)
	_, err := svc.SetManual(e.ctx, tx.ID, 9)
	require.NoError(t, err)

	// A higher fidelity copy upgrades the row but leaves the manual category.
	up := im.ImportFile(e.ctx, file("a.csv", "Date,Description,Amount\n15/01/2026,SWIGGY RESTAURANT ORDER BLR,-450.00\n"))
	require.NoError(t, up.Err())
	assert.Equal(t, 1, up.Upgraded)
	_, _, err = svc.CreateRuleAndApply(e.ctx, categorize.RuleInput{Name: "blr", Priority: 1, Type: "DESCRIPTION_PATTERN", Conditions: `{"pattern":"blr"}`, CategoryID: 1})
	require.NoError(t, err)

	got := e.all(t)[0]
	assert.True(t, got.IsCategoryManual)
	assert.Equal(t, int64(9), *got.CategoryID)
	assert.Equal(t, "SWIGGY RESTAURANT ORDER BLR", got.OriginalDescription)
}

func TestImport_StrictReconciliation(t *testing.T) {
	content := "2026-01-15|500.00|EXPENSE|A\n2026-01-16|100.00|EXPENSE|B\ntotal|-700.00"

	e := newEnv(t)
	r := e.importer(pipeline.Options{Strict: true}).ImportFile(e.ctx, file("s.pdf", content))
	assert.Equal(t, pipeline.StatusFailed, r.Status)
	assert.Contains(t, r.Error, "reconcile")
	assert.Empty(t, e.all(t))

	r = e.importer(pipeline.Options{}).ImportFile(e.ctx, file("s.pdf", content))
	require.NoError(t, r.Err())
	assert.Equal(t, pipeline.StatusSuccess, r.Status)
	require.NotNil(t, r.Reconciliation)
	assert.True(t, r.Reconciliation.Mismatch())

	files, err := e.store.ListSourceFiles(e.ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].Metadata, "reconciliation")
}

func TestImport_DryRun(t *testing.T) {
	e := newEnv(t)
	r := e.importer(pipeline.Options{DryRun: true}).ImportFile(e.ctx, file("a.csv", hdfcCSV))
	require.NoError(t, r.Err())
	assert.Equal(t, pipeline.StatusSuccess, r.Status)
	assert.Equal(t, 3, r.Inserted)
	assert.True(t, r.DryRun)
	assert.Empty(t, e.all(t))
}

func TestImport_Failures(t *testing.T) {
	e := newEnv(t)
	im := e.importer(pipeline.Options{})

	r := im.ImportFile(e.ctx, pipeline.Input{Path: "card.pdf", Content: []byte("%PDF-1.5\n"), Parser: "hdfc_credit_card"})
	assert.Equal(t, pipeline.StatusFailed, r.Status)
	assert.Equal(t, parser.ErrMissingParam, r.ErrorCode)

	r = im.ImportFile(e.ctx, file("notes.md", "# hello"))
	assert.Equal(t, pipeline.StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err(), parser.ErrNoParser)

	r = im.ImportFile(e.ctx, pipeline.Input{Path: "gs://bucket/s.csv"})
	assert.Equal(t, pipeline.StatusFailed, r.Status)
}

func TestImport_RemoteInput(t *testing.T) {
	e := newEnv(t)
	fetcher := &MockFetcher{FetchFunc: func(ctx context.Context, uri string) ([]byte, error) {
		if uri == "gs://bucket/statements/a.csv" {
			return []byte(hdfcCSV), nil
		}
		return nil, errors.New("object not found")
	}}
	im := e.importer(pipeline.Options{Fetcher: fetcher})

	r := im.ImportFile(e.ctx, pipeline.Input{Path: "gs://bucket/statements/a.csv"})
	require.NoError(t, r.Err())
	assert.Equal(t, 3, r.Inserted)

	r = im.ImportFile(e.ctx, pipeline.Input{Path: "gs://bucket/missing.csv"})
	assert.Equal(t, pipeline.StatusFailed, r.Status)
	assert.Contains(t, r.Error, "object not found")
}

func TestImportBatch(t *testing.T) {
	e := newEnv(t)
	im := e.importer(pipeline.Options{Workers: 3})

	batch := im.ImportBatch(e.ctx, []pipeline.Input{
		file("a.csv", hdfcCSV),
		file("b.csv", hdfcCSV),
		file("notes.md", "# hello"),
		file("s.pdf", "2026-02-01|10.00|EXPENSE|TEA"),
	})
	require.Len(t, batch.Files, 4)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, pipeline.StatusSuccess, batch.Files[0].Status)
	assert.Equal(t, pipeline.StatusDuplicateFile, batch.Files[1].Status)
	assert.Equal(t, pipeline.StatusFailed, batch.Files[2].Status)
	assert.Equal(t, pipeline.StatusSuccess, batch.Files[3].Status)
	assert.Equal(t, 4, batch.Inserted)
	assert.Equal(t, 1, batch.Failed)
	assert.Len(t, e.all(t), 4)
}

func TestImportBatch_Cancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(e.ctx)
	cancel()

	batch := e.importer(pipeline.Options{Workers: 2}).ImportBatch(ctx, []pipeline.Input{
		file("a.csv", hdfcCSV),
		file("s.pdf", "2026-02-01|10.00|EXPENSE|TEA"),
	})
	for _, r := range batch.Files {
		assert.Equal(t, pipeline.StatusCancelled, r.Status)
	}
	assert.Equal(t, 2, batch.Counts()[pipeline.StatusCancelled])
	assert.Empty(t, e.all(t))
}

func TestCandidate(t *testing.T) {
	raw := domain.RawTransaction{
		Amount:              decimal.RequireFromString("10"),
		Currency:            "INR",
		Type:                domain.TypeExpense,
		OriginalDescription: "UPI-ZOMATO-zomato@hdfcbank-REF99",
		SourceLine:          7,
		Metadata:            map[string]any{"ref_number": "99"},
	}
	tx := pipeline.Candidate(raw, domain.SourceSplitwise)
	assert.Equal(t, dedup.LedgerShared, tx.Ledger)
	assert.Equal(t, 10, tx.FidelityRank)
	assert.Equal(t, "zomato", tx.MatchKey)
	assert.Equal(t, 7, tx.Metadata["source_line"])
	assert.Equal(t, "zomato@hdfcbank", tx.Metadata["upi_handle"])
	assert.Equal(t, "99", tx.Metadata["ref_number"])
}
