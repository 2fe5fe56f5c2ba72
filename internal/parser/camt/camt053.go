// Package camt parses ISO 20022 camt.053 bank-to-customer statements.
package camt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/beevik/etree"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/shopspring/decimal"
)

const version = "1.0.0"

// Parser reads camt.053 XML statements. Every Stmt in the message is read.
type Parser struct {
	desc parser.Descriptor
}

var _ parser.Parser = (*Parser)(nil)

// New returns the camt.053 parser.
func New() *Parser {
	return &Parser{desc: parser.Descriptor{
		Name:        "camt053",
		Description: "ISO 20022 camt.053 bank statement",
		SourceType:  domain.SourceBankXML,
		Formats:     []string{"xml"},
		Entity:      "iso20022",
		EntityType:  "bank_statement",
		Format:      "xml",
		Priority:    45,
		Keywords:    []string{"BkToCstmrStmt", "camt.053", "Ntry"},
		Version:     version,
	}}
}

// Descriptor implements parser.Parser.
func (p *Parser) Descriptor() parser.Descriptor {
	return p.desc
}

// CanParse implements parser.Parser.
func (p *Parser) CanParse(f *parser.File) bool {
	return f.Ext == "xml" && strings.Contains(f.TextSample(), "BkToCstmrStmt")
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, f *parser.File, params parser.Params) (*parser.Result, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(f.Content); err != nil {
		return nil, parser.NewError(parser.ErrCorrupt, p.desc.Name, "invalid XML", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, parser.NewError(parser.ErrCorrupt, p.desc.Name, "empty document", nil)
	}
	msg := root.SelectElement("BkToCstmrStmt")
	if root.Tag == "BkToCstmrStmt" {
		msg = root
	}
	if msg == nil {
		return nil, parser.NewError(parser.ErrCorrupt, p.desc.Name, "not a camt.053 message", nil)
	}

	res := parser.NewResult()
	if id := msg.FindElement("./GrpHdr/MsgId"); id != nil {
		res.Metadata["message_id"] = id.Text()
	}

	entries := 0
	expected, actual := decimal.Zero, decimal.Zero
	haveBalances := false
	for s, stmt := range msg.SelectElements("Stmt") {
		if iban := stmt.FindElement("./Acct/Id/IBAN"); iban != nil {
			res.Metadata["account_number_masked"] = parser.MaskIdentifier(iban.Text())
		} else if other := stmt.FindElement("./Acct/Id/Othr/Id"); other != nil {
			res.Metadata["account_number_masked"] = parser.MaskIdentifier(other.Text())
		}
		acctCcy := text(stmt.FindElement("./Acct/Ccy"))

		if open, close, ok := balances(stmt); ok {
			haveBalances = true
			expected = expected.Add(close.Sub(open))
		}

		for n, ntry := range stmt.SelectElements("Ntry") {
			entries++
			field := fmt.Sprintf("Stmt[%d].Ntry[%d]", s, n)
			if sts := statusOf(ntry); sts != "" && sts != "BOOK" {
				res.Warnf("%s: skipped entry with status %s", field, sts)
				continue
			}
			tx, err := entry(ntry, acctCcy)
			if err != nil {
				res.AddRowError(0, field, "%v", err)
				continue
			}
			if tx.Type == domain.TypeIncome {
				actual = actual.Add(tx.Amount)
			} else {
				actual = actual.Sub(tx.Amount)
			}
			res.Add(tx)
		}
	}
	if entries == 0 {
		return nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name, "statement has no entries", nil)
	}

	if haveBalances {
		res.Reconciliation = parser.Reconcile(&expected, actual, len(res.Transactions))
		if res.Reconciliation.Mismatch() {
			res.Warnf("balance movement mismatch: %s", res.Reconciliation.Summary())
		}
	}

	logger.Ctx(ctx).Debug().Str("file", f.Name).Int("entries", entries).Msg("parsed camt.053 statement")
	return res, nil
}

func entry(ntry *etree.Element, acctCcy string) (domain.RawTransaction, error) {
	amtEl := ntry.SelectElement("Amt")
	if amtEl == nil {
		return domain.RawTransaction{}, fmt.Errorf("missing Amt")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(amtEl.Text()))
	if err != nil {
		return domain.RawTransaction{}, fmt.Errorf("amount %q: %w", amtEl.Text(), err)
	}
	currency := amtEl.SelectAttrValue("Ccy", acctCcy)
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	credit := text(ntry.SelectElement("CdtDbtInd")) == "CRDT"
	if text(ntry.SelectElement("RvslInd")) == "true" {
		credit = !credit
	}
	typ := domain.TypeExpense
	if credit {
		typ = domain.TypeIncome
	}

	booked, err := dateOf(ntry.SelectElement("BookgDt"))
	if err != nil {
		return domain.RawTransaction{}, fmt.Errorf("booking date: %w", err)
	}
	tx := domain.RawTransaction{
		TransactionDate: booked,
		Amount:          amount.Abs(),
		Currency:        strings.ToUpper(currency),
		Type:            typ,
		Metadata:        map[string]any{},
	}
	if val, err := dateOf(ntry.SelectElement("ValDt")); err == nil && val != booked {
		tx.PostedDate = &val
	}

	party := "Dbtr"
	if !credit {
		party = "Cdtr"
	}
	var parts []string
	if nm := text(ntry.FindElement("./NtryDtls/TxDtls/RltdPties/" + party + "/Nm")); nm != "" {
		parts = append(parts, nm)
		tx.Metadata["counterparty"] = nm
	}
	for _, u := range ntry.FindElements("./NtryDtls/TxDtls/RmtInf/Ustrd") {
		if s := text(u); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		if info := text(ntry.SelectElement("AddtlNtryInf")); info != "" {
			parts = append(parts, info)
		}
	}
	tx.OriginalDescription = strings.Join(parts, " ")

	for _, ref := range []string{"AcctSvcrRef", "NtryRef", "NtryDtls/TxDtls/Refs/EndToEndId"} {
		if v := text(ntry.FindElement("./" + ref)); v != "" && v != "NOTPROVIDED" {
			tx.ExternalID = v
			break
		}
	}
	if code := text(ntry.FindElement("./BkTxCd/Domn/Cd")); code != "" {
		tx.Metadata["bank_transaction_code"] = code
	}
	return tx, nil
}

// balances returns the opening and closing booked balances of a statement.
func balances(stmt *etree.Element) (decimal.Decimal, decimal.Decimal, bool) {
	var open, close *decimal.Decimal
	for _, bal := range stmt.SelectElements("Bal") {
		code := text(bal.FindElement("./Tp/CdOrPrtry/Cd"))
		v, err := decimal.NewFromString(strings.TrimSpace(text(bal.SelectElement("Amt"))))
		if err != nil {
			continue
		}
		if text(bal.SelectElement("CdtDbtInd")) == "DBIT" {
			v = v.Neg()
		}
		switch code {
		case "OPBD", "PRCD":
			if open == nil {
				open = &v
			}
		case "CLBD":
			close = &v
		}
	}
	if open == nil || close == nil {
		return decimal.Zero, decimal.Zero, false
	}
	return *open, *close, true
}

func statusOf(ntry *etree.Element) string {
	sts := ntry.SelectElement("Sts")
	if sts == nil {
		return ""
	}
	// camt.053.001.08 nests the code
	if cd := sts.SelectElement("Cd"); cd != nil {
		return text(cd)
	}
	return text(sts)
}

func dateOf(el *etree.Element) (civil.Date, error) {
	if el == nil {
		return civil.Date{}, fmt.Errorf("missing")
	}
	if dt := el.SelectElement("Dt"); dt != nil {
		return parser.ParseDate(text(dt), "2006-01-02")
	}
	if dtm := el.SelectElement("DtTm"); dtm != nil {
		return parser.ParseDate(text(dtm), time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05.000")
	}
	return civil.Date{}, fmt.Errorf("no Dt or DtTm")
}

func text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
