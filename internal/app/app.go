// Package app wires configuration into the store, parser registry and
// importer shared by the command-line tool and the API server.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/categorize"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/infra/sqlstore"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/parser/bankcsv"
	"github.com/dvloznov/finance-ingest/internal/parser/builtin"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
	"github.com/dvloznov/finance-ingest/internal/reconcile"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Store    *sqlstore.Store
	Registry *parser.Registry
	Detector *parser.Detector
}

// New opens the store and builds the parser registry.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	var profiles []bankcsv.Profile
	if cfg.ProfilesFile != "" {
		var err error
		profiles, err = bankcsv.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
	}
	reg, err := builtin.NewRegistry(builtin.Options{Profiles: profiles})
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	s, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Retry: sqlstore.RetryConfig{
			MaxAttempts:    cfg.Store.BusyRetries,
			InitialDelay:   cfg.Store.BusyInitialDelay,
			MaxDelay:       cfg.Store.BusyMaxDelay,
			BackoffFactor:  sqlstore.DefaultRetryConfig.BackoffFactor,
			JitterFraction: sqlstore.DefaultRetryConfig.JitterFraction,
		},
		Debug: cfg.Log.Level == "trace",
	})
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	det := parser.NewDetector(reg, parser.DetectorOptions{
		Weights: parser.Weights{
			Format:   cfg.Detect.Weights.Format,
			Keyword:  cfg.Detect.Weights.Keyword,
			Filename: cfg.Detect.Weights.Filename,
			Country:  cfg.Detect.Weights.Country,
		},
		TopN:      cfg.Detect.TopN,
		Country:   cfg.Detect.Country,
		Passwords: cfg.Secrets.PasswordFor,
	})
	return &App{Config: cfg, Store: s, Registry: reg, Detector: det}, nil
}

// ImportOptions override configured importer settings for one run.
type ImportOptions struct {
	Workers int
	DryRun  bool
	Fetcher pipeline.Fetcher
}

// Importer builds an importer over the app's store.
func (a *App) Importer(opts ImportOptions) *pipeline.Importer {
	workers := opts.Workers
	if workers <= 0 {
		workers = a.Config.Import.Workers
	}
	return pipeline.NewImporter(a.Registry, a.Detector, a.Store, dedup.New(a.Config.Dedup.SimilarityThreshold), pipeline.Options{
		Workers:   workers,
		Strict:    a.Config.Reconciliation.Strict,
		DryRun:    opts.DryRun,
		Passwords: a.Config.Secrets.PasswordFor,
		Fetcher:   opts.Fetcher,
		Rules:     categorize.LoadEngine,
	})
}

// Categorizer returns the categorization service.
func (a *App) Categorizer() *categorize.Service {
	return categorize.NewService(a.Store)
}

// Reconciler returns a Splitwise reconciler using the configured date window.
func (a *App) Reconciler() *reconcile.Reconciler {
	return reconcile.New(a.Store, reconcile.Options{DateWindow: a.Config.Reconcile.DateWindowDays})
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
