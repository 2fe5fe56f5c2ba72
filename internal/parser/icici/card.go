// Package icici parses ICICI Bank credit card PDF statements.
package icici

import (
	"context"
	"regexp"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/shopspring/decimal"
)

const version = "1.3.0"

var (
	filenameMeta = regexp.MustCompile(`(?i)^(\d{4}X{4,}[\dX]{4,})_(\d+)_Retail_([A-Za-z]+)_NORM\.pdf$`)

	// 19/11/2025 12366165854 SANGEETHA VEG CHENNAI IN 609.00
	txLine = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})\s+(\d+)\s+(.+?)\s+(IN|US|UK|[A-Z]{2})\s+([\d,]+\.?\d*)\s*(CR)?`)

	statementDates = []struct {
		re      *regexp.Regexp
		layouts []string
	}{
		{regexp.MustCompile(`(?i)STATEMENT DATE\s+([A-Za-z]+\s+\d{1,2},\s+\d{4})`), []string{"January 2, 2006", "Jan 2, 2006"}},
		{regexp.MustCompile(`(?i)Statement Date[:\s]+(\d{1,2}/\d{1,2}/\d{4})`), []string{"2/1/2006"}},
	}
	totalDue = regexp.MustCompile("(?im)TOTAL\\s+AMOUNT\\s+DUE\\s*(?:[:\\-]|\\s)*[`₹]?\\s*([\\d,]+(?:\\.\\d{2})?)")
)

// CardParser reads ICICI card statements.
type CardParser struct {
	desc parser.Descriptor
}

var _ parser.Parser = (*CardParser)(nil)

// NewCard returns the ICICI credit card parser.
func NewCard() *CardParser {
	return &CardParser{desc: parser.Descriptor{
		Name:            "icici_credit_card",
		Description:     "ICICI credit card PDF statement",
		SourceType:      domain.SourceCreditCardPDF,
		Formats:         []string{"pdf"},
		RequiredParams:  []string{parser.ParamPassword},
		Entity:          "icici",
		EntityType:      "credit_card",
		Format:          "pdf",
		Country:         "IN",
		Priority:        60,
		Keywords:        []string{"ICICI Bank", "Credit Card", "Statement Date", "Payment Due Date"},
		FilenamePattern: `^\d{4}X{4,}[\dX]{4,}_\d+_Retail_[A-Za-z]+_NORM\.pdf$`,
		Version:         version,
	}}
}

// Descriptor implements parser.Parser.
func (p *CardParser) Descriptor() parser.Descriptor {
	return p.desc
}

// CanParse implements parser.Parser.
func (p *CardParser) CanParse(f *parser.File) bool {
	if !f.IsPDF() {
		return false
	}
	text := strings.ToUpper(strings.Join(strings.Fields(f.TextSample()), " "))
	if strings.Contains(text, "ICICI BANK") &&
		strings.Contains(text, "STATEMENT DATE") &&
		strings.Contains(text, "PAYMENT DUE DATE") &&
		(strings.Contains(text, "TOTAL AMOUNT DUE") || strings.Contains(text, "MINIMUM AMOUNT DUE")) {
		return true
	}
	if !filenameMeta.MatchString(f.Name) {
		return false
	}
	if text == "" {
		return parser.IsEncryptedPDF(f.Content)
	}
	weak := 0
	for _, m := range []string{"STATEMENT DATE", "PAYMENT DUE DATE", "ICICI"} {
		if strings.Contains(text, m) {
			weak++
		}
	}
	return weak >= 2
}

// Parse implements parser.Parser.
func (p *CardParser) Parse(ctx context.Context, f *parser.File, params parser.Params) (*parser.Result, error) {
	if err := parser.CheckParams(p.desc, params); err != nil {
		return nil, err
	}
	text, err := parser.ExtractPDFText(p.desc.Name, f.Content, params.Get(parser.ParamPassword))
	if err != nil {
		return nil, err
	}
	res, err := p.parseText(f.Name, text)
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Debug().
		Str("file", f.Name).
		Str("parser", p.desc.Name).
		Int("transactions", len(res.Transactions)).
		Msg("parsed card statement")
	return res, nil
}

func (p *CardParser) parseText(name string, text *parser.PDFText) (*parser.Result, error) {
	res := parser.NewResult()
	res.Metadata["bank"] = "icici"
	full := text.String()

	if m := filenameMeta.FindStringSubmatch(name); m != nil {
		res.Metadata["card_number_masked"] = parser.MaskIdentifier(m[1])
		res.Metadata["statement_reference"] = m[2]
		res.Metadata["card_type"] = m[3]
	} else if card := parser.MaskedCardNumber(full); card != "" {
		res.Metadata["card_number_masked"] = card
	}
	for _, sd := range statementDates {
		m := sd.re.FindStringSubmatch(full)
		if m == nil {
			continue
		}
		if d, err := parser.ParseDate(m[1], sd.layouts...); err == nil {
			res.Metadata["statement_date"] = d.String()
			break
		}
	}

	for i, line := range text.Lines() {
		m := txLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo := i + 1
		date, err := parser.ParseDate(m[1], "02/01/2006")
		if err != nil {
			res.AddRowError(lineNo, "date", "%v", err)
			continue
		}
		amt, err := parser.ParseAmount(m[5])
		if err != nil {
			res.AddRowError(lineNo, "amount", "%v", err)
			continue
		}
		if !amt.Value.IsPositive() {
			continue
		}
		credit := m[6] != ""
		typ := domain.TypeExpense
		if credit {
			typ = domain.TypeIncome
		}
		res.Add(domain.RawTransaction{
			TransactionDate:     date,
			Amount:              amt.Value,
			Currency:            "INR",
			OriginalDescription: strings.Join(strings.Fields(m[3]), " "),
			Type:                typ,
			ExternalID:          m[2],
			SourceLine:          lineNo,
			Metadata: map[string]any{
				"serial_number": m[2],
				"country_code":  m[4],
				"is_credit":     credit,
			},
		})
	}

	if len(res.Transactions) == 0 && len(res.Errors) == 0 {
		return nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name, "no transaction lines found", nil)
	}

	res.Reconciliation = reconcile(full, res.Transactions)
	if res.Reconciliation.Expected != nil {
		res.Metadata["reconciliation"] = res.Reconciliation.Map()
	}
	if res.Reconciliation.Mismatch() {
		res.Warnf("total amount due mismatch: %s", res.Reconciliation.Summary())
	}
	return res, nil
}

// reconcile nets credits against spending and compares the result with the
// printed total amount due.
func reconcile(text string, txs []domain.RawTransaction) *parser.Reconciliation {
	net := decimal.Zero
	for _, tx := range txs {
		if tx.Type == domain.TypeIncome {
			net = net.Sub(tx.Amount)
		} else {
			net = net.Add(tx.Amount)
		}
	}
	var expected *decimal.Decimal
	if m := totalDue.FindStringSubmatch(text); m != nil {
		if v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil {
			expected = &v
		}
	}
	return parser.Reconcile(expected, net, len(txs))
}
