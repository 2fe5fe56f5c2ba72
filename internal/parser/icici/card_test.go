package icici

import (
	"context"
	"testing"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statement() *parser.PDFText {
	return &parser.PDFText{Pages: [][]string{{
		"ICICI Bank Credit Card",
		"STATEMENT DATE November 18, 2025",
		"Payment Due Date December 5, 2025",
		"Total Amount due",
		"`1,109.00",
		"19/11/2025 12366165854 SANGEETHA VEG CHENNAI IN 609.00",
		"20/11/2025 12366165855 AMAZON SELLER SERVICES IN 1,000.00",
		"21/11/2025 12366165856 REFUND AMAZON IN 500.00 CR",
	}}}
}

func TestParseText(t *testing.T) {
	res, err := NewCard().parseText("4315XXXXXXXX1234_1234567_Retail_Coral_NORM.pdf", statement())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Empty(t, res.Errors)

	first := res.Transactions[0]
	assert.Equal(t, "SANGEETHA VEG CHENNAI", first.OriginalDescription)
	assert.Equal(t, "12366165854", first.ExternalID)
	assert.Equal(t, "IN", first.Metadata["country_code"])
	assert.Equal(t, "609", first.Amount.String())
	assert.Equal(t, 6, first.SourceLine)

	refund := res.Transactions[2]
	assert.Equal(t, domain.TypeIncome, refund.Type)
	assert.Equal(t, "REFUND AMAZON", refund.OriginalDescription)
	assert.Equal(t, true, refund.Metadata["is_credit"])

	assert.Equal(t, "4315XXXXXXXX1234", res.Metadata["card_number_masked"])
	assert.Equal(t, "Coral", res.Metadata["card_type"])
	assert.Equal(t, "2025-11-18", res.Metadata["statement_date"])

	require.NotNil(t, res.Reconciliation)
	assert.True(t, res.Reconciliation.Matches, res.Reconciliation.Summary())
	assert.Equal(t, "1109.00", res.Reconciliation.Actual.StringFixed(2))
	assert.Contains(t, res.Metadata, "reconciliation")
}

func TestParseText_Mismatch(t *testing.T) {
	text := statement()
	text.Pages[0] = text.Pages[0][:7]
	res, err := NewCard().parseText("s.pdf", text)
	require.NoError(t, err)
	assert.True(t, res.Reconciliation.Mismatch())
	require.Len(t, res.Warnings, 1)
}

func TestParseText_NoTransactions(t *testing.T) {
	_, err := NewCard().parseText("s.pdf", &parser.PDFText{Pages: [][]string{{"ICICI Bank", "nothing"}}})
	assert.Equal(t, parser.ErrNoTransactions, parser.CodeOf(err))
}

func TestCanParse(t *testing.T) {
	withSample := func(name, sample string) *parser.File {
		f := parser.NewFile(name, []byte("%PDF-1.5\n"))
		f.Sample = sample
		return f
	}
	icici := "ICICI Bank\nSTATEMENT DATE November 18, 2025\nPayment Due Date December 5, 2025\nMinimum Amount due 200"
	hdfc := "HDFC BANK CREDIT CARDS Credit Card Statement Statement Date: 12/01/2026 Card No: 4321"

	assert.True(t, NewCard().CanParse(withSample("x.pdf", icici)))
	assert.False(t, NewCard().CanParse(withSample("x.pdf", hdfc)))
	assert.True(t, NewCard().CanParse(withSample("4315XXXXXXXX1234_1_Retail_Coral_NORM.pdf", "statement date payment due date")))
	assert.True(t, NewCard().CanParse(parser.NewFile("4315XXXXXXXX1234_1_Retail_Coral_NORM.pdf", []byte("%PDF-1.5\n/Encrypt 9 0 R"))))
	assert.False(t, NewCard().CanParse(parser.NewFile("a.json", []byte("{}"))))
}

func TestParse_MissingPassword(t *testing.T) {
	_, err := NewCard().Parse(context.Background(), parser.NewFile("a.pdf", []byte("%PDF-1.5\n")), parser.Params{})
	assert.Equal(t, parser.ErrMissingParam, parser.CodeOf(err))
}
