// Command finance imports bank, card and Splitwise statements into a local
// ledger and manages their categorization.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func register(c *subcommands.Commander) {
	c.Register(&importCmd{}, "ingest")
	c.Register(&parsersCmd{}, "ingest")
	c.Register(&detectCmd{}, "ingest")
	c.Register(&parseCmd{}, "ingest")
	c.Register(&uploadCmd{}, "ingest")

	c.Register(&rulesCmd{}, "categorize")
	c.Register(&suggestRulesCmd{}, "categorize")
	c.Register(&recategorizeCmd{}, "categorize")
	c.Register(&setCategoryCmd{}, "categorize")
	c.Register(&merchantCmd{}, "categorize")
	c.Register(&categoryCmd{}, "categorize")

	c.Register(&historyCmd{}, "transactions")
	c.Register(&tagCmd{}, "transactions")
	c.Register(&reconcileCmd{}, "transactions")
	c.Register(&exportCmd{}, "transactions")

	c.Register(&migrateCmd{}, "admin")
}
