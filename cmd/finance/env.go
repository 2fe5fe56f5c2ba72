package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/google/subcommands"
)

// A CLI run is short lived, so the global flags stay package variables.
var (
	configPath = flag.String("config", os.Getenv("FINANCE_CONFIG"), "Path to a YAML config file (or set FINANCE_CONFIG)")
	logLevel   = flag.String("log-level", "", "Log level; overrides log.level")
	dsn        = flag.String("db", "", "Database DSN; overrides database.dsn")
)

// loadConfig reads the config file and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	return cfg, nil
}

// openApp loads configuration, installs the logger in ctx and opens the store.
func openApp(ctx context.Context) (context.Context, *app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return ctx, nil, err
	}
	ctx = logger.WithContext(ctx, logger.NewWithLevel(cfg.Log.Level))
	a, err := app.New(ctx, cfg)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, a, nil
}

func failf(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

func usagef(f *flag.FlagSet, format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	f.Usage()
	return subcommands.ExitUsageError
}

func printJSON(v interface{}) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return failf("Error encoding output: %v", err)
	}
	return subcommands.ExitSuccess
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// optionalID parses an id flag where an empty string means unset.
func optionalID(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	id, err := parseID(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
