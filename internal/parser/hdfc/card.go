// Package hdfc parses HDFC Bank PDF statements: credit card statements in the
// current and legacy layouts, and savings account statements.
package hdfc

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/shopspring/decimal"
)

const version = "2.1.0"

var (
	filenameDetect = regexp.MustCompile(`(?i)^\d{4}[X\d]{8,12}\d{2}_\d{2}-\d{2}-\d{4}_\d+\.pdf$`)
	filenameMeta   = regexp.MustCompile(`(?i)^(\d{4}X{4,}[\dX]{4,})_(\d{2})-(\d{2})-(\d{4})_?(.*)\.pdf$`)

	// 22/12/2025| 13:33 SWIGGY BANGALORE + 12 C 500.00 l
	modernLine = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})\|\s*(\d{2}:\d{2})\s+(.+?)\s+C\s+([\d,]+\.?\d*)\s+[lI]`)
	// 22/12/2019 13:33:00 AMAZON MUMBAI 1,234.00 Cr
	oldLine = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})\s+(\d{2}:\d{2}:\d{2})\s+(.+?)\s+([\d,]+\.?\d*)(?:\s*(?i:(Cr)))?$`)

	datedLine     = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}[|\s]`)
	rewardPoints  = regexp.MustCompile(`\s*\+\s*(\d+)\s*$`)
	refTail       = regexp.MustCompile(`\s*\(Ref#.*$`)
	statementDate = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Statement Date[:\s]+(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(?i)Statement for HDFC Bank Credit Card[^0-9]*(\d{1,2}/\d{1,2}/\d{4})`),
	}
	statementTotal = regexp.MustCompile(`(?i)(?:Total\s+(?:Domestic|International)\s+Transactions|Grand\s+Total)[:\s]*([\d,]+\.?\d*)`)

	headerWords = []string{"DATE & TIME", "TRANSACTION DESCRIPTION", "REWARDS AMOUNT", "TRANSACTIONS", "PAGE ", "DOMESTIC", "INTERNATIONAL"}
)

// CardParser handles one HDFC credit card layout. The two layouts share the
// line grammar and differ only in how they are recognized.
type CardParser struct {
	desc   parser.Descriptor
	legacy bool
}

var _ parser.Parser = (*CardParser)(nil)

// NewCard returns the parser for current HDFC card statements.
func NewCard() *CardParser {
	return &CardParser{desc: descriptor("hdfc_credit_card", "HDFC credit card PDF statement", 60)}
}

// NewLegacyCard returns the parser for legacy HDFC card statements.
func NewLegacyCard() *CardParser {
	return &CardParser{desc: descriptor("hdfc_credit_card_legacy", "HDFC credit card PDF statement (legacy)", 59), legacy: true}
}

func descriptor(name, description string, priority int) parser.Descriptor {
	return parser.Descriptor{
		Name:            name,
		Description:     description,
		SourceType:      domain.SourceCreditCardPDF,
		Formats:         []string{"pdf"},
		RequiredParams:  []string{parser.ParamPassword},
		Entity:          "hdfc",
		EntityType:      "credit_card",
		Format:          "pdf",
		Country:         "IN",
		Priority:        priority,
		Keywords:        []string{"HDFC BANK CREDIT CARDS", "Credit Card", "Statement Date"},
		FilenamePattern: `^\d{4}[X\d]{8,12}\d{2}_\d{2}-\d{2}-\d{4}_\d+\.pdf$`,
		Version:         version,
	}
}

// Descriptor implements parser.Parser.
func (p *CardParser) Descriptor() parser.Descriptor {
	return p.desc
}

// CanParse implements parser.Parser. It relies on first-page markers, or on
// the download filename when the document cannot be read without a password.
func (p *CardParser) CanParse(f *parser.File) bool {
	if !f.IsPDF() {
		return false
	}
	text := upper(f.TextSample())
	if p.legacy {
		return text != "" && isLegacy(text)
	}
	if isModern(text) {
		return true
	}
	if !filenameDetect.MatchString(f.Name) {
		return false
	}
	if text == "" {
		return parser.IsEncryptedPDF(f.Content)
	}
	weak := 0
	for _, m := range []string{"CREDIT CARD", "STATEMENT DATE", "BILLING PERIOD"} {
		if strings.Contains(text, m) {
			weak++
		}
	}
	return weak >= 2
}

func upper(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func hasCardID(text string) bool {
	return strings.Contains(text, "CARD NO") || strings.Contains(text, "CARD NUMBER")
}

func isModern(text string) bool {
	return strings.Contains(text, "HDFC BANK CREDIT CARDS") &&
		strings.Contains(text, "STATEMENT DATE") &&
		(strings.Contains(text, "CREDIT CARD STATEMENT") || strings.Contains(text, "BILLING PERIOD")) &&
		hasCardID(text)
}

func isLegacy(text string) bool {
	return strings.Contains(text, "HDFC BANK CREDIT CARDS") &&
		strings.Contains(text, "CREDIT CARD STATEMENT") &&
		strings.Contains(text, "STATEMENT FOR HDFC BANK CREDIT CARD") &&
		strings.Contains(text, "STATEMENT CARD NO") &&
		hasCardID(text) &&
		strings.Contains(text, "PAYMENT DUE DATE") &&
		strings.Contains(text, "TOTAL DUES") &&
		strings.Contains(text, "MINIMUM AMOUNT DUE") &&
		strings.Contains(text, " DATE:")
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
		Str("reconciliation", res.Reconciliation.Summary()).
		Msg("parsed card statement")
	return res, nil
}

func (p *CardParser) parseText(name string, text *parser.PDFText) (*parser.Result, error) {
	res := parser.NewResult()
	res.Metadata["bank"] = "hdfc"
	full := text.String()

	if m := filenameMeta.FindStringSubmatch(name); m != nil {
		res.Metadata["card_number_masked"] = strings.ToUpper(m[1])
		if d, err := filenameDate(m[2], m[3], m[4]); err == nil {
			res.Metadata["statement_date"] = d.String()
		}
		if ref := strings.Trim(m[5], "_"); ref != "" {
			res.Metadata["statement_reference"] = ref
		}
	}
	if _, ok := res.Metadata["statement_date"]; !ok {
		for _, re := range statementDate {
			if m := re.FindStringSubmatch(full); m != nil {
				if d, err := parser.ParseDate(m[1], "2/1/2006"); err == nil {
					res.Metadata["statement_date"] = d.String()
					break
				}
			}
		}
	}
	if _, ok := res.Metadata["card_number_masked"]; !ok {
		if card := parser.MaskedCardNumber(full); card != "" {
			res.Metadata["card_number_masked"] = card
		}
	}

	lines := text.Lines()
	var unmatched []int
	for i, line := range lines {
		lineNo := i + 1
		tx, ok, err := parseLine(lines, i)
		if err != nil {
			res.AddRowError(lineNo, "", "%v", err)
			continue
		}
		if !ok {
			if datedLine.MatchString(line) {
				unmatched = append(unmatched, lineNo)
			}
			continue
		}
		tx.SourceLine = lineNo
		res.Add(tx)
	}

	if len(res.Transactions) == 0 && len(res.Errors) == 0 {
		if len(unmatched) == 0 {
			return nil, parser.NewError(parser.ErrNoTransactions, p.desc.Name, "no transaction lines found", nil)
		}
		for _, n := range unmatched {
			res.AddRowError(n, "", "dated line does not match a transaction layout")
		}
	}

	res.Reconciliation = reconcile(full, res.Transactions)
	if res.Reconciliation.Mismatch() {
		res.Warnf("statement total mismatch: %s", res.Reconciliation.Summary())
	}
	return res, nil
}

func filenameDate(day, month, year string) (civil.Date, error) {
	d, _ := strconv.Atoi(day)
	m, _ := strconv.Atoi(month)
	y, _ := strconv.Atoi(year)
	date := civil.Date{Year: y, Month: time.Month(m), Day: d}
	if !date.IsValid() {
		return civil.Date{}, fmt.Errorf("invalid filename date %s-%s-%s", day, month, year)
	}
	return date, nil
}

// parseLine matches lines[i] against both layouts. ok is false when the line
// is not a transaction.
func parseLine(lines []string, i int) (domain.RawTransaction, bool, error) {
	line := lines[i]
	format := "modern"
	m := modernLine.FindStringSubmatch(line)
	if m == nil {
		format = "old"
		m = oldLine.FindStringSubmatch(line)
	}
	if m == nil {
		return domain.RawTransaction{}, false, nil
	}

	date, err := parser.ParseDate(m[1], "02/01/2006")
	if err != nil {
		return domain.RawTransaction{}, false, err
	}
	amt, err := parser.ParseAmount(m[4])
	if err != nil {
		return domain.RawTransaction{}, false, err
	}
	if !amt.Value.IsPositive() {
		return domain.RawTransaction{}, false, nil
	}

	meta := map[string]any{"time": m[2][:5], "format": format}
	typ := domain.TypeExpense
	desc := strings.TrimSpace(m[3])
	if rp := rewardPoints.FindStringSubmatch(desc); rp != nil {
		meta["reward_points"], _ = strconv.Atoi(rp[1])
		desc = strings.TrimSpace(desc[:len(desc)-len(rp[0])])
	}
	switch {
	case format == "old" && len(m) > 5 && m[5] != "":
		typ = domain.TypeIncome
	case format == "modern" && strings.HasSuffix(desc, "+"):
		// credits carry a bare plus before the amount
		typ = domain.TypeIncome
		desc = strings.TrimSpace(strings.TrimSuffix(desc, "+"))
	}
	desc = clean(desc)
	if len(desc) < 3 {
		desc = describeBackwards(lines, i)
	}
	if len(desc) < 3 {
		desc = "Unknown Transaction"
	}

	return domain.RawTransaction{
		TransactionDate:     date,
		Amount:              amt.Value,
		Currency:            "INR",
		OriginalDescription: desc,
		Type:                typ,
		Metadata:            meta,
	}, true, nil
}

func clean(desc string) string {
	desc = strings.Join(strings.Fields(desc), " ")
	return strings.TrimSpace(refTail.ReplaceAllString(desc, ""))
}

// describeBackwards collects up to three preceding lines when a wrapped row
// printed its description above the date.
func describeBackwards(lines []string, at int) string {
	var parts []string
	for i := 1; i <= 3 && at-i >= 0; i++ {
		prev := strings.TrimSpace(lines[at-i])
		if datedLine.MatchString(prev + " ") {
			break
		}
		up := strings.ToUpper(prev)
		stop := false
		for _, h := range headerWords {
			if strings.Contains(up, h) {
				stop = true
				break
			}
		}
		if stop {
			break
		}
		if prev == "" {
			continue
		}
		if len(parts) == 0 && (strings.HasPrefix(prev, "ST") || len(strings.Fields(prev)) <= 2) {
			continue
		}
		parts = append([]string{prev}, parts...)
		if len(strings.Join(parts, " ")) > 15 {
			break
		}
	}
	return clean(strings.Join(parts, " "))
}

// reconcile compares spending against the statement's printed totals.
// Domestic and international totals are summed.
func reconcile(text string, txs []domain.RawTransaction) *parser.Reconciliation {
	actual := decimal.Zero
	for _, tx := range txs {
		if tx.Type == domain.TypeExpense {
			actual = actual.Add(tx.Amount)
		}
	}
	var expected *decimal.Decimal
	total := decimal.Zero
	for _, m := range statementTotal.FindAllStringSubmatch(text, -1) {
		if v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil {
			total = total.Add(v)
		}
	}
	if total.IsPositive() {
		expected = &total
	}
	return parser.Reconcile(expected, actual, len(txs))
}
