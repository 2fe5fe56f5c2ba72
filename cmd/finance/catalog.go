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

type merchantCmd struct{}

func (*merchantCmd) Name() string     { return "merchant" }
func (*merchantCmd) Synopsis() string { return "manage canonical merchants" }
func (*merchantCmd) Usage() string {
	return `finance merchant <command> [options]

Commands:
  list     - List merchants.
  add      - Create a merchant.
  alias    - Add an alias to a merchant.
  default  - Set or clear a merchant's default category.
`
}

func (*merchantCmd) SetFlags(f *flag.FlagSet) {}

func (*merchantCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "merchant")
	commander.Register(&merchantListCmd{}, "")
	commander.Register(&merchantAddCmd{}, "")
	commander.Register(&merchantAliasCmd{}, "")
	commander.Register(&merchantDefaultCmd{}, "")
	return commander.Execute(ctx, args...)
}

type merchantListCmd struct{}

func (*merchantListCmd) Name() string             { return "list" }
func (*merchantListCmd) Synopsis() string         { return "list merchants" }
func (*merchantListCmd) Usage() string            { return "finance merchant list\n" }
func (*merchantListCmd) SetFlags(f *flag.FlagSet) {}

func (*merchantListCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	ms, err := a.Categorizer().ListMerchants(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDEFAULT CATEGORY\tALIASES")
	for _, m := range ms {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.ID, m.Name, idOrDash(m.DefaultCategoryID), strings.Join(m.Aliases, ", "))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type merchantAddCmd struct {
	aliases  string
	category string
}

func (*merchantAddCmd) Name() string     { return "add" }
func (*merchantAddCmd) Synopsis() string { return "create a merchant" }
func (*merchantAddCmd) Usage() string {
	return "finance merchant add [-aliases A,B] [-category ID] <name>\n"
}

func (c *merchantAddCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.aliases, "aliases", "", "Comma-separated aliases")
	f.StringVar(&c.category, "category", "", "Default category id")
}

func (c *merchantAddCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usagef(f, "merchant add needs a name")
	}
	categoryID, err := optionalID(c.category)
	if err != nil {
		return usagef(f, "%v", err)
	}
	in := categorize.MerchantInput{Name: f.Arg(0), DefaultCategoryID: categoryID}
	for _, alias := range strings.Split(c.aliases, ",") {
		if alias = strings.TrimSpace(alias); alias != "" {
			in.Aliases = append(in.Aliases, alias)
		}
	}

	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	m, err := a.Categorizer().CreateMerchant(ctx, in)
	if err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("created merchant %d (%s)\n", m.ID, m.Name)
	return subcommands.ExitSuccess
}

type merchantAliasCmd struct{}

func (*merchantAliasCmd) Name() string             { return "alias" }
func (*merchantAliasCmd) Synopsis() string         { return "add an alias to a merchant" }
func (*merchantAliasCmd) Usage() string            { return "finance merchant alias <merchant-id> <alias>\n" }
func (*merchantAliasCmd) SetFlags(f *flag.FlagSet) {}

func (*merchantAliasCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usagef(f, "merchant alias needs a merchant id and an alias")
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

	m, err := a.Categorizer().AddAlias(ctx, id, f.Arg(1))
	if err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("merchant %d aliases: %s\n", m.ID, strings.Join(m.Aliases, ", "))
	return subcommands.ExitSuccess
}

type merchantDefaultCmd struct{}

func (*merchantDefaultCmd) Name() string     { return "default" }
func (*merchantDefaultCmd) Synopsis() string { return "set or clear a merchant's default category" }
func (*merchantDefaultCmd) Usage() string {
	return "finance merchant default <merchant-id> <category-id|none>\n"
}
func (*merchantDefaultCmd) SetFlags(f *flag.FlagSet) {}

func (*merchantDefaultCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usagef(f, "merchant default needs a merchant id and a category id")
	}
	id, err := parseID(f.Arg(0))
	if err != nil {
		return usagef(f, "%v", err)
	}
	var categoryID *int64
	if !strings.EqualFold(f.Arg(1), "none") {
		if categoryID, err = optionalID(f.Arg(1)); err != nil {
			return usagef(f, "%v", err)
		}
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	m, err := a.Categorizer().SetDefaultCategory(ctx, id, categoryID)
	if err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("merchant %d default category: %s\n", m.ID, idOrDash(m.DefaultCategoryID))
	return subcommands.ExitSuccess
}

type categoryCmd struct{}

func (*categoryCmd) Name() string     { return "category" }
func (*categoryCmd) Synopsis() string { return "manage the category tree" }
func (*categoryCmd) Usage() string {
	return `finance category <command> [options]

Commands:
  list  - Print the category tree.
  add   - Create a category.
`
}

func (*categoryCmd) SetFlags(f *flag.FlagSet) {}

func (*categoryCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "category")
	commander.Register(&categoryListCmd{}, "")
	commander.Register(&categoryAddCmd{}, "")
	return commander.Execute(ctx, args...)
}

type categoryListCmd struct{}

func (*categoryListCmd) Name() string             { return "list" }
func (*categoryListCmd) Synopsis() string         { return "print the category tree" }
func (*categoryListCmd) Usage() string            { return "finance category list\n" }
func (*categoryListCmd) SetFlags(f *flag.FlagSet) {}

func (*categoryListCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	tree, err := a.Categorizer().CategoryTree(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	printTree(tree, 0)
	return subcommands.ExitSuccess
}

func printTree(nodes []*categorize.CategoryNode, depth int) {
	for _, n := range nodes {
		fmt.Printf("%s%d  %s\n", strings.Repeat("  ", depth), n.ID, n.Name)
		printTree(n.Children, depth+1)
	}
}

type categoryAddCmd struct {
	parent string
	color  string
	icon   string
}

func (*categoryAddCmd) Name() string     { return "add" }
func (*categoryAddCmd) Synopsis() string { return "create a category" }
func (*categoryAddCmd) Usage() string {
	return "finance category add [-parent ID] [-color #rrggbb] [-icon NAME] <name>\n"
}

func (c *categoryAddCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.parent, "parent", "", "Parent category id")
	f.StringVar(&c.color, "color", "", "Display color")
	f.StringVar(&c.icon, "icon", "", "Display icon")
}

func (c *categoryAddCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usagef(f, "category add needs a name")
	}
	parentID, err := optionalID(c.parent)
	if err != nil {
		return usagef(f, "%v", err)
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	cat, err := a.Categorizer().CreateCategory(ctx, categorize.CategoryInput{
		Name:     f.Arg(0),
		ParentID: parentID,
		Color:    c.color,
		Icon:     c.icon,
	})
	if err != nil {
		return failf("Error: %v", err)
	}
	fmt.Printf("created category %d (%s)\n", cat.ID, cat.Name)
	return subcommands.ExitSuccess
}
