package hdfc

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modernStatement() *parser.PDFText {
	return &parser.PDFText{Pages: [][]string{{
		"HDFC BANK CREDIT CARDS",
		"Credit Card Statement",
		"Statement Date: 12/01/2026",
		"Credit Card No. 4321 56XX XXXX 9876",
		"Domestic Transactions",
		"DATE & TIME TRANSACTION DESCRIPTION REWARDS AMOUNT",
		"22/12/2025| 13:33 SWIGGY BANGALORE + 12 C 500.00 l",
		"AMAZON PAY INDIA PRIVATE LIMITED",
		"23/12/2025| 09:10 + 5 C 1,250.00 l",
	}, {
		"24/12/2025| 10:00 REFUND FLIPKART (Ref# ST123) + C 300.00 l",
		"Total Domestic Transactions 1,750.00",
	}}}
}

func TestParseText_Modern(t *testing.T) {
	res, err := NewCard().parseText("4321XXXXXXXX9876_12-01-2026_123.pdf", modernStatement())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Empty(t, res.Errors)

	swiggy := res.Transactions[0]
	assert.Equal(t, civil.Date{Year: 2025, Month: time.December, Day: 22}, swiggy.TransactionDate)
	assert.Equal(t, "SWIGGY BANGALORE", swiggy.OriginalDescription)
	assert.Equal(t, "500", swiggy.Amount.String())
	assert.Equal(t, domain.TypeExpense, swiggy.Type)
	assert.Equal(t, 12, swiggy.Metadata["reward_points"])
	assert.Equal(t, "13:33", swiggy.Metadata["time"])
	assert.Equal(t, 7, swiggy.SourceLine)

	wrapped := res.Transactions[1]
	assert.Equal(t, "AMAZON PAY INDIA PRIVATE LIMITED", wrapped.OriginalDescription)
	assert.Equal(t, "1250", wrapped.Amount.String())

	refund := res.Transactions[2]
	assert.Equal(t, "REFUND FLIPKART", refund.OriginalDescription)
	assert.Equal(t, domain.TypeIncome, refund.Type)

	assert.Equal(t, "4321XXXXXXXX9876", res.Metadata["card_number_masked"])
	assert.Equal(t, "2026-01-12", res.Metadata["statement_date"])
	assert.Equal(t, "123", res.Metadata["statement_reference"])

	require.NotNil(t, res.Reconciliation)
	assert.True(t, res.Reconciliation.Matches)
	assert.Empty(t, res.Warnings)
}

func TestParseText_MetadataFromText(t *testing.T) {
	res, err := NewCard().parseText("statement.pdf", modernStatement())
	require.NoError(t, err)
	assert.Equal(t, "2026-01-12", res.Metadata["statement_date"])
	assert.Equal(t, "432156XXXXXX9876", res.Metadata["card_number_masked"])
}

func TestParseText_OldLayout(t *testing.T) {
	text := &parser.PDFText{Pages: [][]string{{
		"Statement for HDFC Bank Credit Card 12/06/2019",
		"01/06/2019 10:15:00 AMAZON MUMBAI 1,234.00",
		"02/06/2019 11:00:00 PAYMENT RECEIVED 5,000.00 Cr",
		"Grand Total 1,000.00",
	}}}
	res, err := NewLegacyCard().parseText("old.pdf", text)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "AMAZON MUMBAI", res.Transactions[0].OriginalDescription)
	assert.Equal(t, "10:15", res.Transactions[0].Metadata["time"])
	assert.Equal(t, domain.TypeIncome, res.Transactions[1].Type)
	assert.Equal(t, "PAYMENT RECEIVED", res.Transactions[1].OriginalDescription)
	assert.Equal(t, "2019-06-12", res.Metadata["statement_date"])

	assert.True(t, res.Reconciliation.Mismatch())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "statement total mismatch")
}

func TestParseText_NoTransactions(t *testing.T) {
	_, err := NewCard().parseText("x.pdf", &parser.PDFText{Pages: [][]string{{"HDFC BANK CREDIT CARDS", "nothing else"}}})
	assert.Equal(t, parser.ErrNoTransactions, parser.CodeOf(err))

	res, err := NewCard().parseText("x.pdf", &parser.PDFText{Pages: [][]string{{"01/06/2019 unreadable row"}}})
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Line)
}

func TestCanParse(t *testing.T) {
	modern := "HDFC BANK CREDIT CARDS\nCredit Card Statement\nStatement Date: 12/01/2026\nCard No: 4321 XXXX XXXX 9876"
	legacy := "HDFC BANK CREDIT CARDS Credit Card Statement Statement for HDFC Bank Credit Card " +
		"Statement Card No: 4321XXXXXXXX9876 Payment Due Date Total Dues Minimum Amount Due Date: 12/06/2019"

	withSample := func(name, sample string) *parser.File {
		f := parser.NewFile(name, []byte("%PDF-1.4\n"))
		f.Sample = sample
		return f
	}

	tests := []struct {
		name   string
		file   *parser.File
		modern bool
		legacy bool
	}{
		{"modern markers", withSample("a.pdf", modern), true, false},
		{"legacy markers", withSample("a.pdf", legacy), false, true},
		{"filename and weak markers", withSample("4321XXXXXXXX9876_12-01-2026_123.pdf", "credit card statement date"), true, false},
		{"filename only, readable", withSample("4321XXXXXXXX9876_12-01-2026_123.pdf", "something else"), false, false},
		{"encrypted with canonical filename", parser.NewFile("4321XXXXXXXX9876_12-01-2026_123.pdf", []byte("%PDF-1.4\n/Encrypt 4 0 R\n")), true, false},
		{"not a pdf", parser.NewFile("a.csv", []byte("Date,Narration")), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.modern, NewCard().CanParse(tt.file))
			assert.Equal(t, tt.legacy, NewLegacyCard().CanParse(tt.file))
		})
	}
}

func TestParse_Credentials(t *testing.T) {
	f := parser.NewFile("a.pdf", []byte("%PDF-1.4\n"))

	_, err := NewCard().Parse(context.Background(), f, nil)
	assert.Equal(t, parser.ErrMissingParam, parser.CodeOf(err))

	_, err = NewCard().Parse(context.Background(), f, parser.Params{parser.ParamPassword: "secret"})
	assert.Equal(t, parser.ErrCorrupt, parser.CodeOf(err))
}
