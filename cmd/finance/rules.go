package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/categorize"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/subcommands"
)

type rulesCmd struct{}

func (*rulesCmd) Name() string     { return "rules" }
func (*rulesCmd) Synopsis() string { return "list, add or preview categorization rules" }
func (*rulesCmd) Usage() string {
	return `finance rules <command> [options]

Commands:
  list     - List rules in evaluation order.
  add      - Store a rule and apply it to existing transactions.
  preview  - Show what a rule would change without storing it.
  enable   - Re-activate a rule.
  disable  - Deactivate a rule.
`
}

func (*rulesCmd) SetFlags(f *flag.FlagSet) {}

func (*rulesCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "rules")
	commander.Register(&rulesListCmd{}, "")
	commander.Register(&ruleAddCmd{preview: false}, "")
	commander.Register(&ruleAddCmd{preview: true}, "")
	commander.Register(&ruleActiveCmd{active: true}, "")
	commander.Register(&ruleActiveCmd{active: false}, "")
	return commander.Execute(ctx, args...)
}

type rulesListCmd struct{}

func (*rulesListCmd) Name() string             { return "list" }
func (*rulesListCmd) Synopsis() string         { return "list rules in evaluation order" }
func (*rulesListCmd) Usage() string            { return "finance rules list\n" }
func (*rulesListCmd) SetFlags(f *flag.FlagSet) {}

func (*rulesListCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	list, err := a.Categorizer().ListRules(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tACTIVE\tTYPE\tCATEGORY\tNAME\tCONDITIONS")
	for _, r := range list {
		fmt.Fprintf(w, "%d\t%d\t%t\t%s\t%d\t%s\t%s\n", r.ID, r.Priority, r.Active, r.RuleType, r.CategoryID, r.Name, r.Conditions)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// ruleAddCmd serves both "add" and "preview"; they take the same flags.
type ruleAddCmd struct {
	preview bool
	in      categorize.RuleInput
}

func (c *ruleAddCmd) Name() string {
	if c.preview {
		return "preview"
	}
	return "add"
}

func (c *ruleAddCmd) Synopsis() string {
	if c.preview {
		return "show the transactions a rule would recategorize"
	}
	return "store a rule and apply it to existing transactions"
}

func (c *ruleAddCmd) Usage() string {
	return fmt.Sprintf(`finance rules %s -name NAME -type TYPE -conditions JSON -category ID [-priority N]

  TYPE is MERCHANT, DESCRIPTION_PATTERN or AMOUNT_RANGE. Examples:
    -type DESCRIPTION_PATTERN -conditions '{"pattern":"swiggy*"}'
    -type AMOUNT_RANGE -conditions '{"min_amount":"10000"}'
    -type MERCHANT -conditions '{"names":["Amazon"]}'
`, c.Name())
}

func (c *ruleAddCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.in.Name, "name", "", "Rule name")
	f.IntVar(&c.in.Priority, "priority", 100, "Lower numbers are evaluated first")
	f.StringVar(&c.in.Type, "type", "DESCRIPTION_PATTERN", "Rule type")
	f.StringVar(&c.in.Conditions, "conditions", "", "Rule conditions as JSON")
	f.Int64Var(&c.in.CategoryID, "category", 0, "Category id to assign")
}

func (c *ruleAddCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()
	svc := a.Categorizer()

	if c.preview {
		changes, err := svc.Preview(ctx, c.in)
		if err != nil {
			return failf("Error: %v", err)
		}
		printChanges(changes)
		fmt.Printf("%d transaction(s) would change\n", len(changes))
		return subcommands.ExitSuccess
	}

	rule, report, err := svc.CreateRuleAndApply(ctx, c.in)
	if err != nil {
		return failf("Error: %v", err)
	}
	printChanges(report.Changes)
	fmt.Printf("created rule %d, %d transaction(s) recategorized\n", rule.ID, len(report.Changes))
	return subcommands.ExitSuccess
}

type ruleActiveCmd struct {
	active bool
}

func (c *ruleActiveCmd) Name() string {
	if c.active {
		return "enable"
	}
	return "disable"
}

func (c *ruleActiveCmd) Synopsis() string { return c.Name() + " a rule" }
func (c *ruleActiveCmd) Usage() string    { return "finance rules " + c.Name() + " <rule-id>\n" }
func (*ruleActiveCmd) SetFlags(f *flag.FlagSet) {}

func (c *ruleActiveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usagef(f, "%s needs a rule id", c.Name())
	}
	id, err := parseID(f.Arg(0))
	if err != nil {
		return usagef(f, "%v", err)
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	if err := a.Categorizer().SetRuleActive(ctx, id, c.active); err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("rule %d %sd; run \"finance recategorize\" to revisit existing transactions\n", id, c.Name())
	return subcommands.ExitSuccess
}

type suggestRulesCmd struct {
	minCount int
	create   string
	category int64
	priority int
}

func (*suggestRulesCmd) Name() string     { return "suggest-rules" }
func (*suggestRulesCmd) Synopsis() string { return "propose rules from recurring uncategorized descriptions" }
func (*suggestRulesCmd) Usage() string {
	return `finance suggest-rules [-min-count N] [-create PATTERN -category ID]

  Without -create, lists suggestions. With -create, stores the suggestion
  with that pattern as a rule for the given category and applies it.
`
}

func (c *suggestRulesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.minCount, "min-count", 3, "Smallest group worth suggesting")
	f.StringVar(&c.create, "create", "", "Pattern of the suggestion to turn into a rule")
	f.Int64Var(&c.category, "category", 0, "Category id for -create")
	f.IntVar(&c.priority, "priority", 100, "Priority for -create")
}

func (c *suggestRulesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.create != "" && c.category <= 0 {
		return usagef(f, "-create needs -category")
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()
	svc := a.Categorizer()

	suggestions, err := svc.Suggest(ctx, c.minCount)
	if err != nil {
		return failf("Error: %v", err)
	}

	if c.create == "" {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATTERN\tCOUNT\tVOLUME\tEXAMPLES")
		for _, sg := range suggestions {
			fmt.Fprintf(w, "%s\t%d\t%s\t%v\n", sg.Pattern, sg.Count, sg.Volume.StringFixed(2), sg.Examples)
		}
		w.Flush()
		return subcommands.ExitSuccess
	}

	for _, sg := range suggestions {
		if sg.Pattern != c.create {
			continue
		}
		rule, report, err := svc.CreateRuleAndApply(ctx, categorize.SuggestionInput(sg, c.category, c.priority))
		if err != nil {
			return failf("Error: %v", err)
		}
		fmt.Printf("created rule %d, %d transaction(s) recategorized\n", rule.ID, len(report.Changes))
		return subcommands.ExitSuccess
	}
	return failf("No suggestion with pattern %q", c.create)
}

type recategorizeCmd struct {
	dryRun bool
	from   string
	to     string
	filter store.TransactionFilter
}

func (*recategorizeCmd) Name() string     { return "recategorize" }
func (*recategorizeCmd) Synopsis() string { return "re-run categorization over stored transactions" }
func (*recategorizeCmd) Usage() string {
	return `finance recategorize [-dry-run] [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-uncategorized]

  Manual categories are never touched.
`
}

func (c *recategorizeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.dryRun, "dry-run", false, "Report changes without writing them")
	f.StringVar(&c.from, "from", "", "First transaction date")
	f.StringVar(&c.to, "to", "", "Last transaction date")
	f.BoolVar(&c.filter.Uncategorized, "uncategorized", false, "Only transactions without a category")
}

func (c *recategorizeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := dateRange(&c.filter, c.from, c.to); err != nil {
		return usagef(f, "%v", err)
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	report, err := a.Categorizer().Recategorize(ctx, c.filter, c.dryRun)
	if err != nil {
		return failf("Error: %v", err)
	}
	printChanges(report.Changes)
	for _, w := range report.Warnings {
		fmt.Fprintf(os.Stderr, "warning: rule %d (%s): %s\n", w.RuleID, w.RuleName, w.Message)
	}
	verb := "changed"
	if report.DryRun {
		verb = "would change"
	}
	fmt.Printf("scanned %d, %s %d, manual skipped %d\n", report.Scanned, verb, len(report.Changes), report.Manual)
	return subcommands.ExitSuccess
}

func printChanges(changes []categorize.Change) {
	if len(changes) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tAMOUNT\tFROM\tTO\tTRIGGER\tDESCRIPTION")
	for _, ch := range changes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", ch.TransactionID, ch.Date, ch.Amount.StringFixed(2), idOrDash(ch.OldCategoryID), idOrDash(ch.NewCategoryID), ch.Trigger, ch.Description)
	}
	w.Flush()
}

func idOrDash(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}

// dateRange parses optional -from/-to flags into f.
func dateRange(f *store.TransactionFilter, from, to string) error {
	if from != "" {
		d, err := civil.ParseDate(from)
		if err != nil {
			return fmt.Errorf("invalid -from date %q", from)
		}
		f.From = &d
	}
	if to != "" {
		d, err := civil.ParseDate(to)
		if err != nil {
			return fmt.Errorf("invalid -to date %q", to)
		}
		f.To = &d
	}
	return nil
}
