// Package api wires the HTTP surface: routes, handlers and middleware.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api/handlers"
	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/categorize"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Deps are the services the HTTP surface needs.
type Deps struct {
	Registry  *parser.Registry
	Store     store.Store
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	Log       zerolog.Logger
}

// NewRouter returns the API handler with middleware applied.
func NewRouter(d Deps) http.Handler {
	svc := categorize.NewService(d.Store)
	parsers := handlers.NewParsersHandler(d.Registry)
	imports := handlers.NewImportsHandler(d.Publisher)
	jobsH := handlers.NewJobsHandler(d.Jobs)
	txs := handlers.NewTransactionsHandler(d.Store, svc)
	rules := handlers.NewRulesHandler(svc)
	cats := handlers.NewCategoriesHandler(svc)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/parsers", parsers.ListParsers).Methods(http.MethodGet)

	api.HandleFunc("/imports", imports.CreateImport).Methods(http.MethodPost)
	api.HandleFunc("/jobs", jobsH.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", jobsH.GetJob).Methods(http.MethodGet)

	api.HandleFunc("/transactions", txs.ListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id:[0-9]+}/history", txs.History).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id:[0-9]+}/category", txs.SetCategory).Methods(http.MethodPut)

	api.HandleFunc("/rules", rules.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", rules.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/recategorize", rules.Recategorize).Methods(http.MethodPost)

	api.HandleFunc("/categories", cats.ListCategories).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(router),
			),
		),
	)
}
