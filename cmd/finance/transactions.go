package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dvloznov/finance-ingest/internal/categorize"
	"github.com/google/subcommands"
)

type setCategoryCmd struct{}

func (*setCategoryCmd) Name() string     { return "set-category" }
func (*setCategoryCmd) Synopsis() string { return "set or clear the manual category of a transaction" }
func (*setCategoryCmd) Usage() string {
	return `finance set-category <transaction-id> <category-id|none>

  A manual category survives re-imports and recategorization. "none"
  clears it and hands the transaction back to the automatic rules.
`
}
func (*setCategoryCmd) SetFlags(f *flag.FlagSet) {}

func (*setCategoryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usagef(f, "set-category needs a transaction id and a category id")
	}
	txID, err := parseID(f.Arg(0))
	if err != nil {
		return usagef(f, "%v", err)
	}
	var categoryID int64
	if !strings.EqualFold(f.Arg(1), "none") {
		if categoryID, err = parseID(f.Arg(1)); err != nil {
			return usagef(f, "%v", err)
		}
	}

	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()
	svc := a.Categorizer()

	if categoryID == 0 {
		tx, err := svc.ClearManual(ctx, txID)
		if err != nil {
			return failf("Error: %v", err)
		}
		fmt.Printf("transaction %d: manual category cleared, now %s\n", tx.ID, idOrDash(tx.CategoryID))
		return subcommands.ExitSuccess
	}
	tx, err := svc.SetManual(ctx, txID, categoryID)
	if err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("transaction %d: category %s (manual)\n", tx.ID, idOrDash(tx.CategoryID))
	return subcommands.ExitSuccess
}

type historyCmd struct {
	json bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "show the audit trail of a transaction" }
func (*historyCmd) Usage() string {
	return `finance history [-json] <transaction-id>

  Prints every recorded transformation and the category the rules would
  assign today.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print the explanation as JSON")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usagef(f, "history needs a transaction id")
	}
	txID, err := parseID(f.Arg(0))
	if err != nil {
		return usagef(f, "%v", err)
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	ex, err := a.Categorizer().Explain(ctx, txID)
	if err != nil {
		return failf("Error: %v", err)
	}
	if c.json {
		return printJSON(ex)
	}
	printExplanation(ex)
	return subcommands.ExitSuccess
}

func printExplanation(ex *categorize.Explanation) {
	tx := ex.Transaction
	fmt.Printf("%d  %s  %s %s  %s\n", tx.ID, tx.Date, tx.Amount.StringFixed(2), tx.Currency, tx.OriginalDescription)
	fmt.Printf("source %s (file %d), category %s", tx.SourceType, tx.SourceFileID, idOrDash(tx.CategoryID))
	if tx.IsCategoryManual {
		fmt.Print(" (manual)")
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nWHEN\tTYPE\tFIELD\tOLD\tNEW\tTRIGGER")
	for _, h := range ex.History {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", h.CreatedAt.Format("2006-01-02 15:04:05"), h.Type, h.Field, h.OldValue, h.NewValue, h.Trigger)
	}
	w.Flush()

	d := ex.Current
	fmt.Printf("\nrules would assign %s via %s", idOrDash(d.CategoryID), d.Source)
	if d.Trigger != "" {
		fmt.Printf(" (%s)", d.Trigger)
	}
	fmt.Println()
}

type tagCmd struct {
	remove bool
}

func (*tagCmd) Name() string     { return "tag" }
func (*tagCmd) Synopsis() string { return "add or remove a tag on a transaction" }
func (*tagCmd) Usage() string    { return "finance tag [-remove] <transaction-id> <tag>\n" }

func (c *tagCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.remove, "remove", false, "Remove the tag instead of adding it")
}

func (c *tagCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usagef(f, "tag needs a transaction id and a tag")
	}
	txID, err := parseID(f.Arg(0))
	if err != nil {
		return usagef(f, "%v", err)
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()
	svc := a.Categorizer()

	edit := svc.AddTag
	if c.remove {
		edit = svc.RemoveTag
	}
	tx, err := edit(ctx, txID, f.Arg(1))
	if err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("transaction %d tags: %s\n", tx.ID, strings.Join(tx.Tags, ", "))
	return subcommands.ExitSuccess
}
