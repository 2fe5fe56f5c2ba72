package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
)

type reconcileCmd struct {
	dryRun bool
	json   bool
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "match Splitwise rows against bank and card rows" }
func (*reconcileCmd) Usage() string {
	return `finance reconcile [-dry-run] [-json]

  Links Splitwise expenses you paid to the statement rows that paid for
  them, and settle-ups to the transfers that settled them. Linked statement
  rows get your share as effective amount; linked Splitwise rows are hidden
  from listings. The date window is reconcile.date_window_days.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.dryRun, "dry-run", false, "Report pairs without linking them")
	f.BoolVar(&c.json, "json", false, "Print the report as JSON")
}

func (c *reconcileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	report, err := a.Reconciler().Run(ctx, c.dryRun)
	if err != nil {
		return failf("Error: %v", err)
	}
	if c.json {
		return printJSON(report)
	}

	if len(report.Pairs) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tSPLITWISE\tBANK\tDATE\tAMOUNT\tEFFECTIVE\tDAYS\tSIMILARITY\tDESCRIPTION")
		for _, p := range report.Pairs {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%d\t%.2f\t%s / %s\n", p.Kind, p.SplitwiseID, p.BankID, p.Date,
				p.Amount.StringFixed(2), p.EffectiveAmount.StringFixed(2), p.DaysApart, p.Similarity, p.SplitwiseDescription, p.BankDescription)
		}
		w.Flush()
	}
	verb := "linked"
	if report.DryRun {
		verb = "would link"
	}
	fmt.Printf("considered %d, %s %d expense(s) and %d settlement(s)\n", report.Considered, verb, report.Expenses, report.Settlements)
	return subcommands.ExitSuccess
}
