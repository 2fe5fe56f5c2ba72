package camt

import (
	"context"
	"testing"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statement = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>MSG-2026-01</MsgId><CreDtTm>2026-02-01T06:00:00</CreDtTm></GrpHdr>
    <Stmt>
      <Id>STMT-1</Id>
      <Acct><Id><IBAN>DE89370400440532013000</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Bal><Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp><Amt Ccy="EUR">1000.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><Dt><Dt>2026-01-01</Dt></Dt></Bal>
      <Bal><Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp><Amt Ccy="EUR">2937.50</Amt><CdtDbtInd>CRDT</CdtDbtInd><Dt><Dt>2026-01-31</Dt></Dt></Bal>
      <Ntry>
        <Amt Ccy="EUR">62.50</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><Dt>2026-01-15</Dt></BookgDt>
        <ValDt><Dt>2026-01-16</Dt></ValDt>
        <AcctSvcrRef>BANKREF-1</AcctSvcrRef>
        <NtryDtls><TxDtls>
          <RmtInf><Ustrd>Order 7781</Ustrd></RmtInf>
          <RltdPties><Cdtr><Nm>REWE Markt</Nm></Cdtr></RltdPties>
        </TxDtls></NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">2000.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><DtTm>2026-01-28T09:30:00</DtTm></BookgDt>
        <NtryDtls><TxDtls>
          <Refs><EndToEndId>SAL-JAN</EndToEndId></Refs>
          <RltdPties><Dbtr><Nm>ACME GmbH</Nm></Dbtr></RltdPties>
        </TxDtls></NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">10.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <Sts>PDNG</Sts>
        <BookgDt><Dt>2026-01-30</Dt></BookgDt>
        <AddtlNtryInf>Pending card auth</AddtlNtryInf>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">abc</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <BookgDt><Dt>2026-01-30</Dt></BookgDt>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParse(t *testing.T) {
	p := New()
	f := parser.NewFile("statement.xml", []byte(statement))
	require.True(t, p.CanParse(f))

	res, err := p.Parse(context.Background(), f, nil)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Stmt[0].Ntry[3]", res.Errors[0].Field)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "PDNG")

	rewe := res.Transactions[0]
	assert.Equal(t, domain.TypeExpense, rewe.Type)
	assert.Equal(t, "REWE Markt Order 7781", rewe.OriginalDescription)
	assert.Equal(t, "EUR", rewe.Currency)
	assert.Equal(t, "62.5", rewe.Amount.String())
	assert.Equal(t, "BANKREF-1", rewe.ExternalID)
	require.NotNil(t, rewe.PostedDate)
	assert.Equal(t, "2026-01-16", rewe.PostedDate.String())

	salary := res.Transactions[1]
	assert.Equal(t, domain.TypeIncome, salary.Type)
	assert.Equal(t, "ACME GmbH", salary.OriginalDescription)
	assert.Equal(t, "SAL-JAN", salary.ExternalID)
	assert.Equal(t, "2026-01-28", salary.TransactionDate.String())

	assert.Equal(t, "MSG-2026-01", res.Metadata["message_id"])
	require.NotNil(t, res.Reconciliation)
	assert.True(t, res.Reconciliation.Matches, res.Reconciliation.Summary())
}

func TestParse_Reversal(t *testing.T) {
	doc := `<Document><BkToCstmrStmt><Stmt>
	  <Ntry><Amt Ccy="EUR">5.00</Amt><CdtDbtInd>DBIT</CdtDbtInd><RvslInd>true</RvslInd>
	  <BookgDt><Dt>2026-01-02</Dt></BookgDt><AddtlNtryInf>Fee reversal</AddtlNtryInf></Ntry>
	</Stmt></BkToCstmrStmt></Document>`
	res, err := New().Parse(context.Background(), parser.NewFile("r.xml", []byte(doc)), nil)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, domain.TypeIncome, res.Transactions[0].Type)
	assert.Equal(t, "Fee reversal", res.Transactions[0].OriginalDescription)
	assert.Nil(t, res.Reconciliation)
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code parser.ErrorCode
	}{
		{"not xml", "this is not xml", parser.ErrCorrupt},
		{"other message", "<Document><BkToCstmrDbtCdtNtfctn/></Document>", parser.ErrCorrupt},
		{"no entries", "<Document><BkToCstmrStmt><Stmt><Id>1</Id></Stmt></BkToCstmrStmt></Document>", parser.ErrNoTransactions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Parse(context.Background(), parser.NewFile("s.xml", []byte(tt.doc)), nil)
			assert.Equal(t, tt.code, parser.CodeOf(err))
		})
	}
}

func TestCanParse(t *testing.T) {
	assert.True(t, New().CanParse(parser.NewFile("a.xml", []byte(statement))))
	assert.False(t, New().CanParse(parser.NewFile("a.xml", []byte("<Document/>"))))
	assert.False(t, New().CanParse(parser.NewFile("a.csv", []byte(statement))))
}
