package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dvloznov/finance-ingest/internal/export"
	"github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/subcommands"
)

type exportCmd struct{}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export transactions to CSV or BigQuery" }
func (*exportCmd) Usage() string {
	return `finance export <command> [options]

Commands:
  csv       - Write transactions as CSV.
  bigquery  - Stream transactions into BigQuery.
`
}

func (*exportCmd) SetFlags(f *flag.FlagSet) {}

func (*exportCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "export")
	commander.Register(&exportCSVCmd{}, "")
	commander.Register(&exportBigQueryCmd{}, "")
	return commander.Execute(ctx, args...)
}

// exportFilter holds the selection flags shared by both exports.
type exportFilter struct {
	from            string
	to              string
	includeExcluded bool
}

func (e *exportFilter) setFlags(f *flag.FlagSet) {
	f.StringVar(&e.from, "from", "", "First transaction date")
	f.StringVar(&e.to, "to", "", "Last transaction date")
	f.BoolVar(&e.includeExcluded, "include-excluded", false, "Include rows hidden by reconciliation")
}

func (e *exportFilter) filter() (store.TransactionFilter, error) {
	tf := store.TransactionFilter{IncludeExcluded: e.includeExcluded}
	err := dateRange(&tf, e.from, e.to)
	return tf, err
}

type exportCSVCmd struct {
	exportFilter
	out string
}

func (*exportCSVCmd) Name() string     { return "csv" }
func (*exportCSVCmd) Synopsis() string { return "write transactions as CSV" }
func (*exportCSVCmd) Usage() string {
	return "finance export csv [-o FILE] [-from DATE] [-to DATE] [-include-excluded]\n"
}

func (c *exportCSVCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.StringVar(&c.out, "o", "", "Output file (default stdout)")
}

func (c *exportCSVCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tf, err := c.filter()
	if err != nil {
		return usagef(f, "%v", err)
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	var w io.Writer = os.Stdout
	if c.out != "" {
		file, err := os.Create(c.out)
		if err != nil {
			return failf("Error: %v", err)
		}
		defer file.Close()
		w = file
	}
	n, err := export.WriteCSV(ctx, a.Store, tf, w)
	if err != nil {
		return failf("Error: %v", err)
	}
	if c.out != "" {
		fmt.Printf("wrote %d transaction(s) to %s\n", n, c.out)
	}
	return subcommands.ExitSuccess
}

type exportBigQueryCmd struct {
	exportFilter
	project string
	dataset string
}

func (*exportBigQueryCmd) Name() string     { return "bigquery" }
func (*exportBigQueryCmd) Synopsis() string { return "stream transactions into BigQuery" }
func (*exportBigQueryCmd) Usage() string {
	return "finance export bigquery [-project ID] [-dataset NAME] [-from DATE] [-to DATE] [-include-excluded]\n"
}

func (c *exportBigQueryCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.StringVar(&c.project, "project", "", "GCP project; overrides bigquery.project")
	f.StringVar(&c.dataset, "dataset", "", "Dataset; overrides bigquery.dataset")
}

func (c *exportBigQueryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tf, err := c.filter()
	if err != nil {
		return usagef(f, "%v", err)
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	client, err := c.client(ctx, a.Config.BigQuery.Project, a.Config.BigQuery.Dataset)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer client.Close()

	if err := client.EnsureTable(ctx); err != nil {
		return failf("Error: %v", err)
	}
	n, err := client.Exporter().Export(ctx, a.Store, tf)
	if err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("exported %d transaction(s)\n", n)
	return subcommands.ExitSuccess
}

func (c *exportBigQueryCmd) client(ctx context.Context, project, dataset string) (*bigquery.Client, error) {
	if c.project != "" {
		project = c.project
	}
	if c.dataset != "" {
		dataset = c.dataset
	}
	return bigquery.NewClient(ctx, project, dataset)
}

type migrateCmd struct {
	withBigQuery bool
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create or update the database schema" }
func (*migrateCmd) Usage() string {
	return `finance migrate [-bigquery]

  Brings the local schema up to date. With -bigquery, also creates the
  BigQuery transactions table when it is missing.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.withBigQuery, "bigquery", false, "Also create the BigQuery table")
}

func (c *migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	if err := a.Store.Migrate(ctx); err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("%s schema is up to date\n", a.Config.Database.Driver)

	if !c.withBigQuery {
		return subcommands.ExitSuccess
	}
	client, err := bigquery.NewClient(ctx, a.Config.BigQuery.Project, a.Config.BigQuery.Dataset)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer client.Close()
	if err := client.EnsureTable(ctx); err != nil {
		return failf("Error: %v", err)
	}
	fmt.Println("bigquery table is ready")
	return subcommands.ExitSuccess
}
