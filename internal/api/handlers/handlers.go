package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/categorize"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// MaxUploadBytes bounds one multipart import request.
const MaxUploadBytes = 32 << 20

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		middleware.WriteError(w, http.StatusNotFound, msg+": not found")
	case errors.Is(err, categorize.ErrInvalidInput), errors.Is(err, categorize.ErrUnknownCategory):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// ParsersHandler lists the registered parsers.
type ParsersHandler struct {
	registry *parser.Registry
}

// NewParsersHandler creates a new parsers handler.
func NewParsersHandler(registry *parser.Registry) *ParsersHandler {
	return &ParsersHandler{registry: registry}
}

// ListParsers handles GET /api/parsers
func (h *ParsersHandler) ListParsers(w http.ResponseWriter, r *http.Request) {
	descs := h.registry.Describe()
	fallback := ""
	if fb := h.registry.Fallback(); fb != nil {
		fallback = fb.Descriptor().Name
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"parsers":  descs,
		"fallback": fallback,
		"count":    len(descs),
	})
}

// ImportsHandler accepts statement uploads and queues them for import.
type ImportsHandler struct {
	publisher jobs.Publisher
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(publisher jobs.Publisher) *ImportsHandler {
	return &ImportsHandler{publisher: publisher}
}

// CreateImport handles POST /api/imports. The multipart form carries one or
// more "file" parts plus optional "parser" and "password" fields.
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one file is required")
		return
	}

	params := map[string]string{}
	if pw := r.FormValue("password"); pw != "" {
		params[parser.ParamPassword] = pw
	}

	type queued struct {
		JobID    string         `json:"job_id"`
		Filename string         `json:"filename"`
		Status   jobs.JobStatus `json:"status"`
	}
	var out []queued
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Unreadable file part")
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Unreadable file part")
			return
		}

		job := &jobs.ImportFileJob{
			Filename: filepath.Base(fh.Filename),
			Content:  content,
			Parser:   r.FormValue("parser"),
			Params:   params,
		}
		if err := h.publisher.PublishImportFile(ctx, job); err != nil {
			log.Error().Err(err).Str("filename", job.Filename).Msg("Failed to enqueue import job")
			middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue import job")
			return
		}
		log.Info().Str("job_id", job.JobID).Str("filename", job.Filename).Int("bytes", len(content)).Msg("Import job enqueued")
		out = append(out, queued{JobID: job.JobID, Filename: job.Filename, Status: job.Status})
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobs":  out,
		"count": len(out),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err, "Job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{Status: jobs.JobStatus(query.Get("status"))}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// TransactionView is the JSON shape of a transaction.
type TransactionView struct {
	ID                  int64            `json:"id"`
	Date                string           `json:"date"`
	PostedDate          string           `json:"posted_date,omitempty"`
	Type                string           `json:"type"`
	Amount              decimal.Decimal  `json:"amount"`
	EffectiveAmount     *decimal.Decimal `json:"effective_amount,omitempty"`
	Currency            string           `json:"currency"`
	Display             string           `json:"display"`
	OriginalDescription string           `json:"original_description"`
	CleanedDescription  string           `json:"cleaned_description"`
	MerchantID          *int64           `json:"merchant_id,omitempty"`
	CategoryID          *int64           `json:"category_id,omitempty"`
	IsCategoryManual    bool             `json:"is_category_manual"`
	SourceType          string           `json:"source_type"`
	SourceFileID        int64            `json:"source_file_id"`
	IsReconciled        bool             `json:"is_reconciled"`
	IsExcluded          bool             `json:"is_excluded"`
	Tags                []string         `json:"tags"`
}

// NewTransactionView converts tx for output.
func NewTransactionView(tx *domain.Transaction) TransactionView {
	v := TransactionView{
		ID:                  tx.ID,
		Date:                tx.Date.String(),
		Type:                string(tx.Type),
		Amount:              tx.Amount,
		EffectiveAmount:     tx.EffectiveAmount,
		Currency:            tx.Currency,
		Display:             domain.FormatAmount(tx.SignedAmount(), tx.Currency),
		OriginalDescription: tx.OriginalDescription,
		CleanedDescription:  tx.CleanedDescription,
		MerchantID:          tx.MerchantID,
		CategoryID:          tx.CategoryID,
		IsCategoryManual:    tx.IsCategoryManual,
		SourceType:          string(tx.SourceType),
		SourceFileID:        tx.SourceFileID,
		IsReconciled:        tx.IsReconciled,
		IsExcluded:          tx.IsExcluded,
		Tags:                tx.Tags,
	}
	if tx.PostedDate != nil {
		v.PostedDate = tx.PostedDate.String()
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	return v
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	repo store.Repository
	svc  *categorize.Service
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo store.Repository, svc *categorize.Service) *TransactionsHandler {
	return &TransactionsHandler{repo: repo, svc: svc}
}

// ParseFilter reads a TransactionFilter from query parameters.
func ParseFilter(r *http.Request) (store.TransactionFilter, error) {
	q := r.URL.Query()
	var f store.TransactionFilter
	for _, p := range []struct {
		key string
		dst **civil.Date
	}{{"start_date", &f.From}, {"end_date", &f.To}} {
		if s := q.Get(p.key); s != "" {
			d, err := civil.ParseDate(s)
			if err != nil {
				return f, errors.New("invalid " + p.key + " format")
			}
			*p.dst = &d
		}
	}
	for _, p := range []struct {
		key string
		dst **int64
	}{{"category_id", &f.CategoryID}, {"merchant_id", &f.MerchantID}, {"source_file_id", &f.SourceFileID}} {
		if s := q.Get(p.key); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return f, errors.New("invalid " + p.key)
			}
			*p.dst = &id
		}
	}
	f.Uncategorized = q.Get("uncategorized") == "true"
	f.IncludeExcluded = q.Get("include_excluded") == "true"
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	txs, err := h.repo.ListTransactions(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err, "Failed to query transactions")
		return
	}
	out := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, NewTransactionView(tx))
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// History handles GET /api/transactions/{id}/history
func (h *TransactionsHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}
	ex, err := h.svc.Explain(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "Transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transaction": NewTransactionView(ex.Transaction),
		"history":     ex.History,
		"current":     ex.Current,
	})
}

// SetCategory handles PUT /api/transactions/{id}/category. A null
// category_id clears the manual override.
func (h *TransactionsHandler) SetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}
	var req struct {
		CategoryID *int64 `json:"category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var tx *domain.Transaction
	var err error
	if req.CategoryID == nil {
		tx, err = h.svc.ClearManual(r.Context(), id)
	} else {
		tx, err = h.svc.SetManual(r.Context(), id, *req.CategoryID)
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to set category")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, NewTransactionView(tx))
}

// RulesHandler handles categorization rule endpoints.
type RulesHandler struct {
	svc *categorize.Service
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(svc *categorize.Service) *RulesHandler {
	return &RulesHandler{svc: svc}
}

// ListRules handles GET /api/rules
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.ListRules(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Failed to list rules")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateRule handles POST /api/rules. With ?preview=true nothing is stored
// and the would-be changes are returned.
func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in categorize.RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if r.URL.Query().Get("preview") == "true" {
		changes, err := h.svc.Preview(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err, "Failed to preview rule")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"changes": changes, "count": len(changes)})
		return
	}

	rule, report, err := h.svc.CreateRuleAndApply(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create rule")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":   rule,
		"report": report,
	})
}

// Recategorize handles POST /api/recategorize. The optional body is
// {"dry_run": bool}.
func (h *RulesHandler) Recategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun bool `json:"dry_run"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	f, err := ParseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.svc.Recategorize(r.Context(), f, req.DryRun)
	if err != nil {
		writeServiceError(w, r, err, "Failed to recategorize")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// CategoriesHandler handles category-related endpoints.
type CategoriesHandler struct {
	svc *categorize.Service
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(svc *categorize.Service) *CategoriesHandler {
	return &CategoriesHandler{svc: svc}
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.CategoryTree(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Failed to list categories")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": tree,
		"count":      len(tree),
	})
}
