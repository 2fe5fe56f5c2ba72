// Package splitwise parses Splitwise JSON backups into shared-expense records.
package splitwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/shopspring/decimal"
)

const version = "1.1.0"

// Parser reads Splitwise backups.
type Parser struct {
	desc parser.Descriptor
}

var _ parser.Parser = (*Parser)(nil)

// New returns the Splitwise parser.
func New() *Parser {
	return &Parser{desc: parser.Descriptor{
		Name:        "splitwise",
		Description: "Splitwise JSON backup",
		SourceType:  domain.SourceSplitwise,
		Formats:     []string{"json"},
		Entity:      "splitwise",
		EntityType:  "shared_expenses",
		Format:      "json",
		Priority:    50,
		Keywords:    []string{`"expenses"`, `"user"`, `"repayments"`},
		Version:     version,
	}}
}

// Descriptor implements parser.Parser.
func (p *Parser) Descriptor() parser.Descriptor {
	return p.desc
}

// CanParse implements parser.Parser. It walks only the top-level keys.
func (p *Parser) CanParse(f *parser.File) bool {
	if f.Ext != "json" {
		return false
	}
	keys := topLevelKeys(f.Content)
	return keys["expenses"] && keys["user"]
}

func topLevelKeys(content []byte) map[string]bool {
	keys := map[string]bool{}
	dec := json.NewDecoder(bytes.NewReader(content))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return keys
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys[key] = true
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// Parse implements parser.Parser. The current user comes from the user_id
// parameter when given, otherwise from the backup itself.
func (p *Parser) Parse(ctx context.Context, f *parser.File, params parser.Params) (*parser.Result, error) {
	log := logger.FromContext(ctx)

	var doc any
	dec := json.NewDecoder(bytes.NewReader(f.Content))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, parser.NewError(parser.ErrCorrupt, p.desc.Name, "invalid JSON", err)
	}

	userID := params.Get(parser.ParamUserID)
	if userID == "" {
		userID = text(lookup(doc, "$.user.id"))
	}
	expenses, ok := lookup(doc, "$.expenses").([]any)
	if !ok {
		return nil, parser.NewError(parser.ErrCorrupt, p.desc.Name, "backup has no expenses array", nil)
	}
	if len(expenses) == 0 {
		return nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name, "backup contains no expenses", nil)
	}

	groups := map[string]string{}
	if list, ok := lookup(doc, "$.groups").([]any); ok {
		for _, g := range list {
			groups[text(lookup(g, "$.id"))] = text(lookup(g, "$.name"))
		}
	}
	persons := map[string]bool{}
	if userID != "" {
		persons[userID] = true
	}
	if list, ok := lookup(doc, "$.friends").([]any); ok {
		for _, fr := range list {
			if id := text(lookup(fr, "$.id")); id != "" {
				persons[id] = true
			}
		}
	}

	res := parser.NewResult()
	deleted := 0
	for i, exp := range expenses {
		if text(lookup(exp, "$.deleted_at")) != "" {
			deleted++
			continue
		}
		tx, err := p.expense(exp, userID, groups)
		if err != nil {
			res.AddRowError(0, fmt.Sprintf("expenses[%d]", i), "%v", err)
			continue
		}
		for _, share := range usersOf(exp) {
			if id := text(lookup(share, "$.user.id")); id != "" {
				persons[id] = true
			}
		}
		res.Add(tx)
	}
	if deleted > 0 {
		res.Warnf("skipped %d deleted expenses", deleted)
	}

	res.Metadata["current_user_id"] = userID
	res.Metadata["groups"] = len(groups)
	res.Metadata["persons"] = len(persons)
	res.Metadata["total_expenses_in_file"] = len(expenses)

	log.Debug().Str("file", f.Name).Str("user_id", userID).Int("expenses", len(expenses)).Int("deleted", deleted).Msg("parsed splitwise backup")
	return res, nil
}

func (p *Parser) expense(exp any, userID string, groups map[string]string) (domain.RawTransaction, error) {
	id := text(lookup(exp, "$.id"))
	if id == "" {
		return domain.RawTransaction{}, fmt.Errorf("expense without id")
	}
	cost, err := decimalOf(lookup(exp, "$.cost"))
	if err != nil {
		return domain.RawTransaction{}, fmt.Errorf("expense %s: cost: %w", id, err)
	}
	rawDate := text(lookup(exp, "$.date"))
	date, err := parser.ParseDate(rawDate, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02")
	if err != nil {
		return domain.RawTransaction{}, fmt.Errorf("expense %s: %w", id, err)
	}
	currency := strings.ToUpper(text(lookup(exp, "$.currency_code")))
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	isPayment := lookup(exp, "$.payment") == true
	typ := domain.TypeExpense
	switch {
	case isPayment:
		typ = domain.TypeTransfer
	case cost.IsNegative():
		typ = domain.TypeIncome
	}

	meta := map[string]any{
		"splitwise_expense_id":    id,
		"is_payment":              isPayment,
		"splitwise_category_id":   text(lookup(exp, "$.category.id")),
		"splitwise_category_name": text(lookup(exp, "$.category.name")),
		"user_paid":               paidByUser(exp, userID),
		"users_shares":            sharesOf(exp),
	}
	if gid := text(lookup(exp, "$.group_id")); gid != "" {
		meta["group_id"] = gid
		if name := groups[gid]; name != "" {
			meta["group_name"] = name
		}
	}
	if share, ok := owedShare(exp, userID, cost.Abs()); ok {
		meta["user_owed_share"] = share.StringFixed(2)
	}
	if by := text(lookup(exp, "$.created_by.id")); by != "" {
		meta["created_by"] = by
	}

	return domain.RawTransaction{
		TransactionDate:     date,
		Amount:              cost.Abs(),
		Currency:            currency,
		OriginalDescription: strings.TrimSpace(text(lookup(exp, "$.description"))),
		Type:                typ,
		ExternalID:          id,
		Metadata:            meta,
	}, nil
}

func usersOf(exp any) []any {
	list, _ := lookup(exp, "$.users").([]any)
	return list
}

// owedShare is the user's owed_share, or an estimate from repayments when
// the user is not listed.
func owedShare(exp any, userID string, total decimal.Decimal) (decimal.Decimal, bool) {
	for _, u := range usersOf(exp) {
		if text(lookup(u, "$.user.id")) == userID {
			share, err := decimalOf(lookup(u, "$.owed_share"))
			return share, err == nil
		}
	}
	if total.IsZero() {
		return decimal.Zero, true
	}
	owes, owed := decimal.Zero, decimal.Zero
	reps, _ := lookup(exp, "$.repayments").([]any)
	for _, r := range reps {
		amt, err := decimalOf(lookup(r, "$.amount"))
		if err != nil {
			continue
		}
		if text(lookup(r, "$.from")) == userID {
			owes = owes.Add(amt)
		}
		if text(lookup(r, "$.to")) == userID {
			owed = owed.Add(amt)
		}
	}
	switch {
	case owed.IsPositive():
		return total.Sub(owed), true
	case owes.IsPositive():
		return owes, true
	}
	return decimal.Zero, false
}

func paidByUser(exp any, userID string) bool {
	for _, u := range usersOf(exp) {
		if text(lookup(u, "$.user.id")) == userID {
			paid, err := decimalOf(lookup(u, "$.paid_share"))
			return err == nil && paid.IsPositive()
		}
	}
	return false
}

func sharesOf(exp any) []map[string]any {
	var out []map[string]any
	for _, u := range usersOf(exp) {
		out = append(out, map[string]any{
			"user_id":    text(lookup(u, "$.user.id")),
			"first_name": text(lookup(u, "$.user.first_name")),
			"paid_share": text(lookup(u, "$.paid_share")),
			"owed_share": text(lookup(u, "$.owed_share")),
		})
	}
	return out
}

// lookup evaluates a JSONPath and returns nil for missing keys.
func lookup(v any, path string) any {
	out, err := jsonpath.Get(path, v)
	if err != nil {
		return nil
	}
	return out
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return fmt.Sprint(v)
}

func decimalOf(v any) (decimal.Decimal, error) {
	s := strings.TrimSpace(text(v))
	if s == "" {
		return decimal.Zero, fmt.Errorf("missing amount")
	}
	return decimal.NewFromString(s)
}
