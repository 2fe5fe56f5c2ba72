package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/api"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/infra/sqlstore"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser/builtin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a test double for jobs.Publisher.
type MockPublisher struct {
	PublishImportFileFunc func(ctx context.Context, job *jobs.ImportFileJob) error
}

func (m *MockPublisher) PublishImportFile(ctx context.Context, job *jobs.ImportFileJob) error {
	return m.PublishImportFileFunc(ctx, job)
}

func (m *MockPublisher) Close() error { return nil }

type server struct {
	t         *testing.T
	handler   http.Handler
	store     *sqlstore.Store
	jobs      *inmemory.Store
	published []*jobs.ImportFileJob
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.Options{Driver: sqlstore.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg, err := builtin.NewRegistry(builtin.Options{})
	require.NoError(t, err)

	srv := &server{t: t, store: s, jobs: inmemory.NewStore()}
	pub := &MockPublisher{PublishImportFileFunc: func(ctx context.Context, job *jobs.ImportFileJob) error {
		job.JobID = "job-1"
		job.Status = jobs.JobStatusPending
		srv.published = append(srv.published, job)
		return srv.jobs.SaveJob(ctx, job)
	}}
	srv.handler = api.NewRouter(api.Deps{Registry: reg, Store: s, Publisher: pub, Jobs: srv.jobs, Log: logger.NewWithLevel("disabled")})
	return srv
}

func (s *server) do(method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (s *server) seedTransaction(desc string) *domain.Transaction {
	s.t.Helper()
	ctx := context.Background()
	sf := &domain.SourceFile{ContentHash: desc, Path: "a.csv", SourceType: domain.SourceBankCSV, ParserName: "hdfc_bank_csv"}
	require.NoError(s.t, s.store.InsertSourceFile(ctx, sf))
	tx := &domain.Transaction{
		SourceFileID:        sf.ID,
		SourceType:          domain.SourceBankCSV,
		FidelityRank:        30,
		Ledger:              "statement",
		Date:                civil.Date{Year: 2026, Month: time.January, Day: 15},
		Amount:              decimal.RequireFromString("500"),
		Currency:            "INR",
		Type:                domain.TypeExpense,
		OriginalDescription: desc,
		CleanedDescription:  desc,
		MatchKey:            strings.ToLower(desc),
		Fingerprint:         desc,
		Tags:                []string{},
	}
	require.NoError(s.t, s.store.InsertTransaction(ctx, tx))
	return tx
}

func TestParsersAndHealth(t *testing.T) {
	s := newServer(t)
	rec, body := s.do(http.MethodGet, "/api/parsers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "generic_csv", body["fallback"])
	assert.Contains(t, rec.Body.String(), "hdfc_bank_csv")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateImport(t *testing.T) {
	s := newServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "../../statement.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("Date,Description,Amount\n01/01/2026,TEA,-10\n"))
	require.NoError(t, mw.WriteField("password", "secret"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, s.published, 1)
	job := s.published[0]
	assert.Equal(t, "statement.csv", job.Filename)
	assert.Equal(t, "secret", job.Params["password"])
	assert.Contains(t, string(job.Content), "TEA")

	rec, body := s.do(http.MethodGet, "/api/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "statement.csv", body["filename"])
	assert.NotContains(t, rec.Body.String(), "secret")

	rec, _ = s.do(http.MethodGet, "/api/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/imports", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionsAndCategory(t *testing.T) {
	s := newServer(t)
	tx := s.seedTransaction("SWIGGY")
	s.seedTransaction("RENT")
	food := &domain.Category{Name: "Food"}
	require.NoError(t, s.store.InsertCategory(context.Background(), food))

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?start_date=2026-01-01&end_date=2026-01-31", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec, _ = s.do(http.MethodGet, "/api/transactions?start_date=01-01-2026", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/api/transactions/" + itoa(tx.ID) + "/category"
	rec, body := s.do(http.MethodPut, path, map[string]any{"category_id": food.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["is_category_manual"])

	rec, _ = s.do(http.MethodPut, path, map[string]any{"category_id": 999})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPut, "/api/transactions/9999/category", map[string]any{"category_id": food.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = s.do(http.MethodGet, "/api/transactions/"+itoa(tx.ID)+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["history"], 2)

	rec, body = s.do(http.MethodPut, path, map[string]any{"category_id": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_category_manual"])
}

func TestRules(t *testing.T) {
	s := newServer(t)
	s.seedTransaction("SWIGGY ORDER")
	food := &domain.Category{Name: "Food"}
	require.NoError(t, s.store.InsertCategory(context.Background(), food))

	rule := map[string]any{"name": "swiggy", "priority": 10, "rule_type": "DESCRIPTION_PATTERN", "conditions": `{"pattern":"swiggy"}`, "category_id": food.ID}

	rec, body := s.do(http.MethodPost, "/api/rules?preview=true", rule)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["count"])

	rec, body = s.do(http.MethodPost, "/api/rules", rule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	report := body["report"].(map[string]any)
	assert.Len(t, report["changes"], 1)

	rec, body = s.do(http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, _ = s.do(http.MethodPost, "/api/rules", map[string]any{"name": "", "rule_type": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = s.do(http.MethodPost, "/api/recategorize", map[string]any{"dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["dry_run"])
	assert.Empty(t, body["changes"])

	rec, _ = s.do(http.MethodPost, "/api/recategorize", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouting(t *testing.T) {
	s := newServer(t)
	rec, body := s.do(http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", body["error"])

	rec, _ = s.do(http.MethodDelete, "/api/rules", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = s.do(http.MethodOptions, "/api/rules", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, body = s.do(http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["count"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
