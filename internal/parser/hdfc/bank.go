package hdfc

import (
	"context"
	"regexp"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/shopspring/decimal"
)

const bankVersion = "1.0.0"

var (
	// 15/01/26 UPI-SWIGGY-REF1 0000412345678901 15/01/26 500.00 10,000.00
	bankRow       = regexp.MustCompile(`^(\d{2}/\d{2}/\d{2,4})\s+(.+?)\s+(\d{2}/\d{2}/\d{2,4})\s+(-?[\d,]+\.\d{2})\s+(-?[\d,]+\.\d{2})$`)
	bankDatedLine = regexp.MustCompile(`^\d{2}/\d{2}/\d{2,4}\s`)
	refToken      = regexp.MustCompile(`^[A-Za-z0-9]*\d[A-Za-z0-9]*$`)

	customerID      = regexp.MustCompile(`(?i)\bCust(?:omer)?\s*ID\s*[:\-]?\s*([A-Z0-9]+)`)
	accountNumber   = regexp.MustCompile(`(?i)\b(?:Account|A/c)\s*(?:No\.?|Number)\s*[:\-]?\s*([0-9Xx]{6,24})`)
	statementPeriod = regexp.MustCompile(`(?i)From\s*:?\s*(\d{2}/\d{2}/\d{4})\s+To\s*:?\s*(\d{2}/\d{2}/\d{4})`)
	// Opening Balance, Dr Count, Cr Count, Debits, Credits, Closing Bal
	summaryValues = regexp.MustCompile(`^(-?[\d,]+\.\d{2})\s+(\d+)\s+(\d+)\s+([\d,]+\.\d{2})\s+([\d,]+\.\d{2})\s+(-?[\d,]+\.\d{2})$`)

	bankDateLayouts = []string{"02/01/06", "02/01/2006"}
	bankStopWords   = []string{"STATEMENT SUMMARY", "PAGE NO", "HDFC BANK LIMITED", "GENERATED ON", "CONTENTS OF THIS STATEMENT", "OPENING BALANCE", "CLOSING BALANCE", "REGISTERED OFFICE", "NARRATION"}
	creditHints     = []string{"NEFT CR", "IMPS CR", "RTGS CR", "SALARY", "INTEREST PAID", "REFUND", "REVERSAL", "CASH DEPOSIT"}
)

// BankParser reads HDFC Bank savings and current account PDF statements.
// The PDF prints debits and credits in separate columns that do not survive
// text extraction, so direction comes from the running balance.
type BankParser struct {
	desc parser.Descriptor
}

var _ parser.Parser = (*BankParser)(nil)

// NewBank returns the HDFC account statement PDF parser.
func NewBank() *BankParser {
	return &BankParser{desc: parser.Descriptor{
		Name:            "hdfc_bank_pdf",
		Description:     "HDFC Bank account PDF statement",
		SourceType:      domain.SourceBankPDF,
		Formats:         []string{"pdf"},
		RequiredParams:  []string{parser.ParamPassword},
		Entity:          "hdfc",
		EntityType:      "bank_statement",
		Format:          "pdf",
		Country:         "IN",
		Priority:        55,
		Keywords:        []string{"HDFC BANK LIMITED", "Account Branch"},
		FilenamePattern: `^Acct_Statement_[0-9X]{8,24}_?\d*\.pdf$`,
		Version:         bankVersion,
	}}
}

// Descriptor implements parser.Parser.
func (p *BankParser) Descriptor() parser.Descriptor {
	return p.desc
}

// CanParse implements parser.Parser.
func (p *BankParser) CanParse(f *parser.File) bool {
	if !f.IsPDF() {
		return false
	}
	text := upper(f.TextSample())
	if text == "" {
		return parser.IsEncryptedPDF(f.Content) && parser.MaskedAccountFromFilename(f.Name) != ""
	}
	return isBankStatement(text)
}

func isBankStatement(text string) bool {
	if !strings.Contains(text, "HDFC BANK LIMITED") || !strings.Contains(text, "ACCOUNT BRANCH") {
		return false
	}
	if !strings.Contains(text, "CUST ID") && !strings.Contains(text, "IFSC") && !strings.Contains(text, "MICR") {
		return false
	}
	if !strings.Contains(text, "ACCOUNT NO") && !strings.Contains(text, "ACCOUNT NUMBER") && !strings.Contains(text, "A/C") {
		return false
	}
	table := 0
	for _, m := range []string{"NARRATION", "WITHDRAWAL", "DEPOSIT", "CLOSING BALANCE"} {
		if strings.Contains(text, m) {
			table++
		}
	}
	return table >= 2
}

// Parse implements parser.Parser.
func (p *BankParser) Parse(ctx context.Context, f *parser.File, params parser.Params) (*parser.Result, error) {
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
		Str("reconciliation", res.Reconciliation.Summary()).
		Msg("parsed account statement")
	return res, nil
}

// summary is the statement summary block printed after the last page of rows.
type summary struct {
	opening, debits, credits, closing decimal.Decimal
}

func findSummary(lines []string) *summary {
	for _, line := range lines {
		m := summaryValues.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		vals := make([]decimal.Decimal, 0, 4)
		for _, raw := range []string{m[1], m[4], m[5], m[6]} {
			v, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
			if err != nil {
				return nil
			}
			vals = append(vals, v)
		}
		return &summary{opening: vals[0], debits: vals[1], credits: vals[2], closing: vals[3]}
	}
	return nil
}

func (p *BankParser) parseText(name string, text *parser.PDFText) (*parser.Result, error) {
	res := parser.NewResult()
	res.Metadata["bank"] = "hdfc"
	full := text.String()

	if len(text.Pages) > 0 {
		first := strings.Join(text.Pages[0], "\n")
		if m := customerID.FindStringSubmatch(first); m != nil {
			res.Metadata["customer_id"] = m[1]
		}
		if m := accountNumber.FindStringSubmatch(first); m != nil {
			res.Metadata["account_number_masked"] = parser.MaskIdentifier(m[1])
		}
	}
	if _, ok := res.Metadata["account_number_masked"]; !ok {
		if acct := parser.MaskedAccountFromFilename(name); acct != "" {
			res.Metadata["account_number_masked"] = acct
		}
	}
	if m := statementPeriod.FindStringSubmatch(full); m != nil {
		if from, err := parser.ParseDate(m[1], "02/01/2006"); err == nil {
			res.Metadata["statement_from"] = from.String()
		}
		if to, err := parser.ParseDate(m[2], "02/01/2006"); err == nil {
			res.Metadata["statement_to"] = to.String()
		}
	}

	sum := findSummary(text.Lines())
	var balance *decimal.Decimal
	if sum != nil {
		res.Metadata["opening_balance"] = sum.opening.StringFixed(2)
		res.Metadata["closing_balance"] = sum.closing.StringFixed(2)
		opening := sum.opening
		balance = &opening
	}

	var pending *domain.RawTransaction
	flush := func() {
		if pending != nil {
			res.Add(*pending)
			pending = nil
		}
	}

	lineNo := 0
	for page, lines := range text.Pages {
		for _, line := range lines {
			lineNo++
			m := bankRow.FindStringSubmatch(line)
			if m == nil {
				switch {
				case bankDatedLine.MatchString(line):
					flush()
					res.AddRowError(lineNo, "", "dated line does not match the account statement layout")
				case pending != nil && !isStopLine(line):
					pending.OriginalDescription += " " + strings.TrimSpace(line)
				default:
					flush()
				}
				continue
			}
			flush()

			tx, err := p.rowToTransaction(res, m, lineNo, page+1, &balance)
			if err != nil {
				res.AddRowError(lineNo, "", "%v", err)
				continue
			}
			if tx != nil {
				pending = tx
			}
		}
		flush()
	}

	if len(res.Transactions) == 0 && len(res.Errors) == 0 {
		return nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name, "no transaction rows found", nil)
	}

	actual := decimal.Zero
	for _, tx := range res.Transactions {
		if tx.Type == domain.TypeIncome {
			actual = actual.Add(tx.Amount)
		} else {
			actual = actual.Sub(tx.Amount)
		}
	}
	var expected *decimal.Decimal
	if sum != nil {
		net := sum.credits.Sub(sum.debits)
		expected = &net
	}
	res.Reconciliation = parser.Reconcile(expected, actual, len(res.Transactions))
	if res.Reconciliation.Mismatch() {
		res.Warnf("statement total mismatch: %s", res.Reconciliation.Summary())
	}
	return res, nil
}

// rowToTransaction builds a record from a matched row. It returns nil for
// zero-amount rows. balance carries the running balance between rows.
func (p *BankParser) rowToTransaction(res *parser.Result, m []string, lineNo, page int, balance **decimal.Decimal) (*domain.RawTransaction, error) {
	date, err := parser.ParseDate(m[1], bankDateLayouts...)
	if err != nil {
		return nil, err
	}
	amt, err := parser.ParseAmount(m[4])
	if err != nil {
		return nil, err
	}
	closing, err := parser.ParseAmount(m[5])
	if err != nil {
		return nil, err
	}
	after := closing.Signed()
	prev := *balance
	*balance = &after
	if amt.Value.IsZero() {
		return nil, nil
	}

	narration, ref := splitRef(m[2])
	typ := domain.TypeExpense
	switch {
	case prev != nil && prev.Add(amt.Value).Sub(after).Abs().LessThan(parser.ReconciliationTolerance):
		typ = domain.TypeIncome
	case prev != nil && prev.Sub(amt.Value).Sub(after).Abs().LessThan(parser.ReconciliationTolerance):
		typ = domain.TypeExpense
	case prev != nil:
		res.Warnf("line %d: balance %s does not follow from %s", lineNo, after.StringFixed(2), prev.StringFixed(2))
		if after.GreaterThan(*prev) {
			typ = domain.TypeIncome
		}
	default:
		if hasCreditHint(narration) {
			typ = domain.TypeIncome
		}
		res.Warnf("line %d: no opening balance, direction inferred from the narration", lineNo)
	}

	meta := map[string]any{"page": page, "closing_balance": after.StringFixed(2)}
	if valueDate, err := parser.ParseDate(m[3], bankDateLayouts...); err == nil {
		meta["value_date"] = valueDate.String()
	}
	tx := &domain.RawTransaction{
		TransactionDate:     date,
		Amount:              amt.Value,
		Currency:            "INR",
		OriginalDescription: narration,
		Type:                typ,
		SourceLine:          lineNo,
		Metadata:            meta,
	}
	if ref != "" {
		meta["ref_number"] = ref
		// all-zero references are placeholders shared by unrelated rows
		if strings.Trim(ref, "0") != "" {
			tx.ExternalID = ref
		}
	}
	return tx, nil
}

// splitRef separates the Chq./Ref.No. column from the end of the narration.
func splitRef(s string) (narration, ref string) {
	fields := strings.Fields(s)
	if len(fields) > 1 {
		last := fields[len(fields)-1]
		if len(last) >= 6 && refToken.MatchString(last) {
			return strings.Join(fields[:len(fields)-1], " "), last
		}
	}
	return strings.Join(fields, " "), ""
}

func isStopLine(line string) bool {
	up := strings.ToUpper(line)
	for _, w := range bankStopWords {
		if strings.Contains(up, w) {
			return true
		}
	}
	return summaryValues.MatchString(line)
}

func hasCreditHint(narration string) bool {
	up := strings.ToUpper(narration)
	for _, h := range creditHints {
		if strings.Contains(up, h) {
			return true
		}
	}
	return false
}
