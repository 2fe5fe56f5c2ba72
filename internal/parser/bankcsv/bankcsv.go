// Package bankcsv parses delimited bank statement exports described by
// column profiles. It provides the profile-driven generic_csv fallback and
// the dedicated hdfc_bank_csv parser.
package bankcsv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/shopspring/decimal"
)

const version = "1.2.0"

// Parser is a profile-driven CSV parser. With several profiles it picks the
// first one whose headers are found in the file.
type Parser struct {
	desc     parser.Descriptor
	profiles []Profile
}

var _ parser.Parser = (*Parser)(nil)

// NewGeneric returns the configuration-driven fallback parser. User profiles
// are tried before the built-in ones.
func NewGeneric(userProfiles []Profile) *Parser {
	profiles := append(append([]Profile{}, userProfiles...), BuiltinProfiles()...)
	return &Parser{
		desc: parser.Descriptor{
			Name:           "generic_csv",
			Description:    "Generic bank CSV statement (profile driven)",
			SourceType:     domain.SourceBankCSV,
			Formats:        []string{"csv", "txt"},
			OptionalParams: []string{parser.ParamProfile},
			Entity:         "generic",
			EntityType:     "bank_statement",
			Format:         "csv",
			Country:        "IN",
			Priority:       0,
			Version:        version,
		},
		profiles: profiles,
	}
}

// NewHDFC returns the dedicated HDFC Bank account statement parser.
func NewHDFC() *Parser {
	return &Parser{
		desc: parser.Descriptor{
			Name:            "hdfc_bank_csv",
			Description:     "HDFC Bank account statement CSV",
			SourceType:      domain.SourceBankCSV,
			Formats:         []string{"csv", "txt"},
			Entity:          "hdfc",
			EntityType:      "bank_statement",
			Format:          "csv",
			Country:         "IN",
			Priority:        40,
			Keywords:        []string{"Narration", "Debit Amount", "Credit Amount"},
			FilenamePattern: `^Acct_Statement_`,
			Version:         version,
		},
		profiles: []Profile{HDFCBank},
	}
}

// Descriptor implements parser.Parser.
func (p *Parser) Descriptor() parser.Descriptor {
	return p.desc
}

// Profiles lists the profile names this parser can apply, in trial order.
func (p *Parser) Profiles() []string {
	names := make([]string, 0, len(p.profiles))
	for _, prof := range p.profiles {
		names = append(names, prof.Name)
	}
	return names
}

// CanParse implements parser.Parser.
func (p *Parser) CanParse(f *parser.File) bool {
	if !p.desc.SupportsFormat(f.Ext) {
		return false
	}
	sample := []byte(f.TextSample())
	for _, prof := range p.profiles {
		if _, ok := locate(prof, sample); ok {
			return true
		}
	}
	return false
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, f *parser.File, params parser.Params) (*parser.Result, error) {
	log := logger.FromContext(ctx)

	prof, tbl, err := p.pick(f, params.Get(parser.ParamProfile))
	if err != nil {
		return nil, err
	}
	log.Debug().Str("file", f.Name).Str("profile", prof.Name).Msg("parsing bank csv")

	res := parser.NewResult()
	res.Metadata["profile"] = prof.Name
	if masked := parser.MaskedAccountFromFilename(f.Name); masked != "" {
		res.Metadata["account_number_masked"] = masked
	}

	rows, err := tbl.rows(prof)
	if err != nil && len(rows) == 0 {
		return nil, parser.NewError(parser.ErrCorrupt, p.desc.Name, "unreadable csv body", err)
	}
	if err != nil {
		res.Warnf("csv read stopped early: %v", err)
	}

	for _, r := range rows {
		if blank(r.fields) {
			continue
		}
		tx, skip, rowErr := mapRow(prof, tbl.columns, r)
		if rowErr != nil {
			res.Errors = append(res.Errors, *rowErr)
			continue
		}
		if skip != "" {
			res.Warnf("line %d: %s", r.line, skip)
			continue
		}
		res.Add(tx)
	}

	if len(res.Transactions) == 0 && len(res.Errors) == 0 {
		return nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name, "no transaction rows after header", nil)
	}
	return res, nil
}

func (p *Parser) pick(f *parser.File, name string) (Profile, *table, error) {
	if name != "" {
		for _, prof := range p.profiles {
			if !strings.EqualFold(prof.Name, name) {
				continue
			}
			tbl, ok := locate(prof, f.Content)
			if !ok {
				return Profile{}, nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name,
					fmt.Sprintf("headers for profile %s not found", prof.Name), nil)
			}
			return prof, tbl, nil
		}
		return Profile{}, nil, parser.NewError(parser.ErrMissingParam, p.desc.Name, fmt.Sprintf("unknown profile %q", name), nil)
	}
	for _, prof := range p.profiles {
		if tbl, ok := locate(prof, f.Content); ok {
			return prof, tbl, nil
		}
	}
	return Profile{}, nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name, "no profile matches the file headers", nil)
}

var errZero = errors.New("zero amount")

// mapRow converts one record. It returns a skip reason for rows that are
// well formed but carry no transaction.
func mapRow(prof Profile, cols columnMap, r row) (domain.RawTransaction, string, *parser.RowError) {
	fail := func(field string, err error) (domain.RawTransaction, string, *parser.RowError) {
		return domain.RawTransaction{}, "", &parser.RowError{Line: r.line, Field: field, Message: err.Error()}
	}

	layouts := prof.DateLayouts
	if len(layouts) == 0 {
		layouts = parser.DefaultDateLayouts
	}

	date, err := parser.ParseDate(cell(r.fields, cols.date), layouts...)
	if err != nil {
		return fail("date", err)
	}

	var parts []string
	for _, idx := range cols.description {
		if v := cell(r.fields, idx); v != "" {
			parts = append(parts, v)
		}
	}
	desc := strings.Join(parts, " ")
	if desc == "" {
		return fail("description", errors.New("description is empty"))
	}

	amount, typ, err := direction(prof, cols, r.fields)
	if errors.Is(err, errZero) {
		return domain.RawTransaction{}, "zero amount row skipped", nil
	}
	if err != nil {
		return fail("amount", err)
	}

	currency := prof.Currency
	if c := cell(r.fields, cols.currency); c != "" {
		currency = strings.ToUpper(c)
	}
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	tx := domain.RawTransaction{
		TransactionDate:     date,
		Amount:              amount,
		Currency:            currency,
		OriginalDescription: desc,
		Type:                typ,
		ExternalID:          cell(r.fields, cols.reference),
		SourceLine:          r.line,
		Metadata:            map[string]any{},
	}
	if v := cell(r.fields, cols.posted); v != "" {
		if posted, err := parser.ParseDate(v, layouts...); err == nil {
			tx.PostedDate = &posted
		}
		tx.Metadata["value_date"] = v
	}
	if tx.ExternalID != "" {
		tx.Metadata["ref_number"] = tx.ExternalID
	}
	if v := cell(r.fields, cols.balance); v != "" {
		tx.Metadata["closing_balance"] = v
	}
	return tx, "", nil
}

// direction derives the non-negative amount and the transaction type.
func direction(prof Profile, cols columnMap, fields []string) (decimal.Decimal, domain.TransactionType, error) {
	if cols.signed() {
		amt, err := parser.ParseAmount(cell(fields, cols.amount))
		if err != nil {
			return decimal.Zero, "", err
		}
		if amt.Value.IsZero() {
			return decimal.Zero, "", errZero
		}
		switch {
		case cols.direction >= 0:
			ind := strings.ToUpper(cell(fields, cols.direction))
			for _, cv := range prof.creditValues() {
				if strings.HasPrefix(ind, strings.ToUpper(cv)) {
					return amt.Value, domain.TypeIncome, nil
				}
			}
			return amt.Value, domain.TypeExpense, nil
		case amt.Marker == parser.MarkerCredit:
			return amt.Value, domain.TypeIncome, nil
		case amt.Marker == parser.MarkerDebit, amt.Negative:
			return amt.Value, domain.TypeExpense, nil
		}
		return amt.Value, domain.TypeIncome, nil
	}

	debit, derr := optionalAmount(cell(fields, cols.debit))
	credit, cerr := optionalAmount(cell(fields, cols.credit))
	if derr != nil {
		return decimal.Zero, "", fmt.Errorf("debit: %w", derr)
	}
	if cerr != nil {
		return decimal.Zero, "", fmt.Errorf("credit: %w", cerr)
	}
	switch {
	case debit.IsPositive():
		return debit, domain.TypeExpense, nil
	case debit.IsNegative():
		// reversal of a debit
		return debit.Abs(), domain.TypeIncome, nil
	case credit.IsPositive():
		return credit, domain.TypeIncome, nil
	case credit.IsNegative():
		return credit.Abs(), domain.TypeExpense, nil
	}
	return decimal.Zero, "", errZero
}

func optionalAmount(raw string) (decimal.Decimal, error) {
	amt, err := parser.ParseAmount(raw)
	if errors.Is(err, parser.ErrEmptyAmount) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return amt.Signed(), nil
}
