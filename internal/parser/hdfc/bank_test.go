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

func accountStatement() *parser.PDFText {
	return &parser.PDFText{Pages: [][]string{{
		"HDFC BANK LIMITED",
		"Account Branch : KORAMANGALA",
		"Cust ID : 12345678",
		"Account No : 50100123456789",
		"IFSC : HDFC0000001 MICR : 560240002",
		"Statement From : 01/01/2026 To : 31/01/2026",
		"Date Narration Chq./Ref.No. Value Dt Withdrawal Amt. Deposit Amt. Closing Balance",
		"15/01/26 UPI-SWIGGY-swiggy@icici-REF1 0000412345678901 15/01/26 500.00 9,500.00",
		"16/01/26 NEFT CR-ACME CORP 0000000000000000 16/01/26 90,000.00 99,500.00",
		"SALARY JAN",
	}, {
		"HDFC BANK LIMITED",
		"Page No .: 2",
		"17/01/26 AMAZON PAY INDIA 0000412345678999 17/01/26 1,299.00 98,201.00",
		"18/01/26 ZERO ROW 0000412345678000 18/01/26 0.00 98,201.00",
		"STATEMENT SUMMARY :-",
		"Opening Balance Dr Count Cr Count Debits Credits Closing Bal",
		"10,000.00 2 1 1,799.00 90,000.00 98,201.00",
	}}}
}

func TestBankParseText(t *testing.T) {
	res, err := NewBank().parseText("statement.pdf", accountStatement())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)

	swiggy := res.Transactions[0]
	assert.Equal(t, civil.Date{Year: 2026, Month: time.January, Day: 15}, swiggy.TransactionDate)
	assert.Equal(t, "UPI-SWIGGY-swiggy@icici-REF1", swiggy.OriginalDescription)
	assert.Equal(t, "500", swiggy.Amount.String())
	assert.Equal(t, domain.TypeExpense, swiggy.Type)
	assert.Equal(t, "0000412345678901", swiggy.ExternalID)
	assert.Equal(t, 8, swiggy.SourceLine)
	assert.Equal(t, 1, swiggy.Metadata["page"])

	salary := res.Transactions[1]
	assert.Equal(t, "NEFT CR-ACME CORP SALARY JAN", salary.OriginalDescription, "wrapped narration is joined")
	assert.Equal(t, domain.TypeIncome, salary.Type)
	assert.Empty(t, salary.ExternalID, "zero references are not identities")
	assert.Equal(t, "0000000000000000", salary.Metadata["ref_number"])

	amazon := res.Transactions[2]
	assert.Equal(t, domain.TypeExpense, amazon.Type)
	assert.Equal(t, "1299", amazon.Amount.String())
	assert.Equal(t, 2, amazon.Metadata["page"])

	assert.Equal(t, "5010XXXXXX6789", res.Metadata["account_number_masked"])
	assert.Equal(t, "12345678", res.Metadata["customer_id"])
	assert.Equal(t, "2026-01-01", res.Metadata["statement_from"])
	assert.Equal(t, "2026-01-31", res.Metadata["statement_to"])
	assert.Equal(t, "10000.00", res.Metadata["opening_balance"])

	require.NotNil(t, res.Reconciliation)
	require.NotNil(t, res.Reconciliation.Expected)
	assert.True(t, res.Reconciliation.Matches)
}

func TestBankParseText_WithoutSummary(t *testing.T) {
	text := &parser.PDFText{Pages: [][]string{{
		"15/01/26 UPI-SWIGGY 0000412345678901 15/01/26 500.00 9,500.00",
		"16/01/26 REFUND AMAZON 0000412345678902 16/01/26 200.00 9,700.00",
		"17/01/26 garbage",
	}}}
	res, err := NewBank().parseText("Acct_Statement_XXXXXXXX1234_31012026.pdf", text)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, domain.TypeExpense, res.Transactions[0].Type)
	assert.Equal(t, domain.TypeIncome, res.Transactions[1].Type, "balance went up")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Line)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no opening balance")

	assert.Equal(t, "XXXXXXXX1234", res.Metadata["account_number_masked"])
	assert.False(t, res.Reconciliation.Mismatch())
}

func TestBankParseText_NoTransactions(t *testing.T) {
	_, err := NewBank().parseText("x.pdf", &parser.PDFText{Pages: [][]string{{"HDFC BANK LIMITED", "Account Branch"}}})
	assert.Equal(t, parser.ErrNoTransactions, parser.CodeOf(err))
}

func TestBankCanParse(t *testing.T) {
	first := "HDFC BANK LIMITED Account Branch : KORAMANGALA Cust ID : 12345678 Account No : 50100123456789 " +
		"Date Narration Chq./Ref.No. Withdrawal Amt. Deposit Amt. Closing Balance"

	withSample := func(name, sample string) *parser.File {
		f := parser.NewFile(name, []byte("%PDF-1.4\n"))
		f.Sample = sample
		return f
	}

	tests := []struct {
		name string
		file *parser.File
		want bool
	}{
		{"account statement", withSample("a.pdf", first), true},
		{"card statement", withSample("a.pdf", "HDFC BANK CREDIT CARDS Credit Card Statement Statement Date"), false},
		{"no table markers", withSample("a.pdf", "HDFC BANK LIMITED Account Branch Cust ID Account No"), false},
		{"encrypted with account filename", parser.NewFile("Acct_Statement_XXXXXXXX1234_31012026.pdf", []byte("%PDF-1.4\n/Encrypt 4 0 R\n")), true},
		{"encrypted without hints", parser.NewFile("a.pdf", []byte("%PDF-1.4\n/Encrypt 4 0 R\n")), false},
		{"not a pdf", parser.NewFile("a.csv", []byte("Date,Narration")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewBank().CanParse(tt.file))
		})
	}
	assert.False(t, NewCard().CanParse(withSample("a.pdf", first)))
}

func TestBankParse_Credentials(t *testing.T) {
	f := parser.NewFile("a.pdf", []byte("%PDF-1.4\n"))

	_, err := NewBank().Parse(context.Background(), f, nil)
	assert.Equal(t, parser.ErrMissingParam, parser.CodeOf(err))

	_, err = NewBank().Parse(context.Background(), f, parser.Params{parser.ParamPassword: "secret"})
	assert.Equal(t, parser.ErrCorrupt, parser.CodeOf(err))
}

func TestSplitRef(t *testing.T) {
	n, r := splitRef("UPI-SWIGGY 0000412345678901")
	assert.Equal(t, "UPI-SWIGGY", n)
	assert.Equal(t, "0000412345678901", r)

	n, r = splitRef("CASH WITHDRAWAL")
	assert.Equal(t, "CASH WITHDRAWAL", n)
	assert.Empty(t, r)

	n, r = splitRef("NEFT0001")
	assert.Equal(t, "NEFT0001", n, "a lone token is the narration")
	assert.Empty(t, r)
}
