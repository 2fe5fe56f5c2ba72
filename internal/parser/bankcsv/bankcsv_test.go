package bankcsv

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hdfcSample = `
Date,Narration,Value Dat,Debit Amount,Credit Amount,Chq/Ref Number,Closing Balance
15/01/26,UPI-SWIGGY-swiggy@icici-REF1,15/01/26,500.00,,0000412345678901,10000.00
16/01/26,SALARY ACME, CORP,16/01/26,,"90,000.00",NEFT001,100000.00
17/01/26,REVERSAL,17/01/26,-250.00,,,
18/01/26,ZERO ROW,18/01/26,0.00,0.00,,
`

func TestHDFC_Parse(t *testing.T) {
	p := NewHDFC()
	f := parser.NewFile("Acct_Statement_XXXXXXXX1234_15012026.csv", []byte(hdfcSample))
	require.True(t, p.CanParse(f))

	res, err := p.Parse(context.Background(), f, nil)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "zero amount")
	assert.Equal(t, "XXXXXXXX1234", res.Metadata["account_number_masked"])
	assert.Equal(t, "hdfc_bank", res.Metadata["profile"])

	first := res.Transactions[0]
	assert.Equal(t, civil.Date{Year: 2026, Month: time.January, Day: 15}, first.TransactionDate)
	assert.Equal(t, "500", first.Amount.String())
	assert.Equal(t, domain.TypeExpense, first.Type)
	assert.Equal(t, "0000412345678901", first.ExternalID)
	assert.Equal(t, "INR", first.Currency)
	assert.Equal(t, 3, first.SourceLine)
	require.NotNil(t, first.PostedDate)

	salary := res.Transactions[1]
	assert.Equal(t, "SALARY ACME, CORP", salary.OriginalDescription, "surplus fields merge into the narration")
	assert.Equal(t, domain.TypeIncome, salary.Type)
	assert.Equal(t, "90000", salary.Amount.String())

	reversal := res.Transactions[2]
	assert.Equal(t, domain.TypeIncome, reversal.Type, "a negative debit is a reversal")
	assert.Equal(t, "250", reversal.Amount.String())
}

func TestGeneric_PartialSuccess(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Description,Amount\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "%02d/01/2026,ITEM %d,-%d.00\n", i, i, i*10)
	}
	b.WriteString("32/01/2026,BAD DATE,-5.00\n")
	b.WriteString("05/01/2026,BAD AMOUNT,abc\n")

	p := NewGeneric(nil)
	f := parser.NewFile("export.csv", []byte(b.String()))
	require.True(t, p.CanParse(f))

	res, err := p.Parse(context.Background(), f, nil)
	require.NoError(t, err)
	assert.Len(t, res.Transactions, 10)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 12, res.Errors[0].Line)
	assert.Equal(t, "date", res.Errors[0].Field)
	assert.Equal(t, 13, res.Errors[1].Line)
	assert.Equal(t, "amount", res.Errors[1].Field)
	assert.Equal(t, "generic_signed", res.Metadata["profile"])
	for _, tx := range res.Transactions {
		assert.Equal(t, domain.TypeExpense, tx.Type)
		assert.False(t, tx.Amount.IsNegative())
	}
}

func TestGeneric_PreambleAndDirectionColumn(t *testing.T) {
	content := "Account Statement\nName: Someone\nDate,Description,Amount,DrCr\n02-01-2026,Coffee,120.50,DR\n03-01-2026,Refund,120.50,CR\n"
	res, err := NewGeneric(nil).Parse(context.Background(), parser.NewFile("s.csv", []byte(content)), nil)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "generic_drcr", res.Metadata["profile"])

	assert.Equal(t, civil.Date{Year: 2026, Month: time.January, Day: 2}, res.Transactions[0].TransactionDate)
	assert.Equal(t, domain.TypeExpense, res.Transactions[0].Type)
	assert.Equal(t, 4, res.Transactions[0].SourceLine)
	assert.Equal(t, domain.TypeIncome, res.Transactions[1].Type)
}

func TestGeneric_ExplicitProfile(t *testing.T) {
	f := parser.NewFile("s.csv", []byte("Date,Description,Amount\n01/01/2026,A,-1\n"))

	_, err := NewGeneric(nil).Parse(context.Background(), f, parser.Params{parser.ParamProfile: "nope"})
	assert.Equal(t, parser.ErrMissingParam, parser.CodeOf(err))

	_, err = NewGeneric(nil).Parse(context.Background(), f, parser.Params{parser.ParamProfile: "hdfc_bank"})
	assert.Equal(t, parser.ErrNoTransactions, parser.CodeOf(err))

	res, err := NewGeneric(nil).Parse(context.Background(), f, parser.Params{parser.ParamProfile: "generic_signed"})
	require.NoError(t, err)
	assert.Len(t, res.Transactions, 1)
}

func TestGeneric_ProfileIsOptional(t *testing.T) {
	desc := NewGeneric(nil).Descriptor()
	assert.False(t, desc.Requires(parser.ParamProfile))
	assert.Contains(t, desc.OptionalParams, parser.ParamProfile)
	require.NoError(t, parser.CheckParams(desc, nil))

	f := parser.NewFile("s.csv", []byte("Date,Description,Amount\n01/01/2026,A,-1\n"))
	res, err := NewGeneric(nil).Parse(context.Background(), f, nil)
	require.NoError(t, err)
	assert.Len(t, res.Transactions, 1)
}

func TestCanParse(t *testing.T) {
	tests := []struct {
		name    string
		parser  *Parser
		file    string
		content string
		want    bool
	}{
		{"hdfc on hdfc export", NewHDFC(), "a.csv", hdfcSample, true},
		{"hdfc on signed export", NewHDFC(), "a.csv", "Date,Description,Amount\n", false},
		{"generic on signed export", NewGeneric(nil), "a.csv", "Date,Description,Amount\n", true},
		{"generic on prose", NewGeneric(nil), "a.txt", "hello world\n", false},
		{"wrong extension", NewGeneric(nil), "a.pdf", "Date,Description,Amount\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.parser.CanParse(parser.NewFile(tt.file, []byte(tt.content))))
		})
	}
}

func TestParseProfiles(t *testing.T) {
	yml := `
profiles:
  - name: sbi
    delimiter: "\t"
    date_layouts: ["2 Jan 2006"]
    columns:
      date: ["Txn Date"]
      description: ["Description", "Ref No./Cheque No."]
      debit: ["Debit"]
      credit: ["Credit"]
`
	profiles, err := ParseProfiles([]byte(yml))
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, '\t', profiles[0].delimiter())

	content := "Txn Date\tDescription\tRef No./Cheque No.\tDebit\tCredit\n3 Jan 2026\tATM WDL\tATM123\t2,000.00\t\n"
	p := NewGeneric(profiles)
	assert.Equal(t, "sbi", p.Profiles()[0])

	res, err := p.Parse(context.Background(), parser.NewFile("sbi.txt", []byte(content)), nil)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "ATM WDL ATM123", res.Transactions[0].OriginalDescription)
	assert.Equal(t, "2000", res.Transactions[0].Amount.String())

	_, err = ParseProfiles([]byte("profiles:\n  - name: broken\n    columns:\n      date: [D]\n      description: [X]\n"))
	assert.Error(t, err)
}
