// Package builtin wires the statement parsers shipped with the module into a
// parser.Registry.
package builtin

import (
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/parser/bankcsv"
	"github.com/dvloznov/finance-ingest/internal/parser/camt"
	"github.com/dvloznov/finance-ingest/internal/parser/hdfc"
	"github.com/dvloznov/finance-ingest/internal/parser/icici"
	"github.com/dvloznov/finance-ingest/internal/parser/splitwise"
)

// FallbackParser is the configuration-driven CSV parser used when detection
// finds no candidate.
const FallbackParser = "generic_csv"

// Options configure the built-in parsers.
type Options struct {
	// Profiles are user-defined CSV profiles, tried before the built-in ones.
	Profiles []bankcsv.Profile
}

// Register adds every built-in parser to reg and sets the CSV fallback.
func Register(reg *parser.Registry, opts Options) error {
	parsers := []parser.Parser{
		hdfc.NewCard(),
		hdfc.NewLegacyCard(),
		hdfc.NewBank(),
		icici.NewCard(),
		splitwise.New(),
		camt.New(),
		bankcsv.NewHDFC(),
		bankcsv.NewGeneric(opts.Profiles),
	}
	for _, p := range parsers {
		if err := reg.Register(p); err != nil {
			return fmt.Errorf("Register: %w", err)
		}
	}
	if err := reg.SetFallback(FallbackParser); err != nil {
		return fmt.Errorf("Register: %w", err)
	}
	return nil
}

// NewRegistry returns a registry populated with the built-in parsers.
func NewRegistry(opts Options) (*parser.Registry, error) {
	reg := parser.NewRegistry()
	if err := Register(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}
