// Package dedup decides whether an incoming transaction is new, a better
// sourced copy of a stored one, or a duplicate to drop.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledgers keep statement rows and shared-expense rows from colliding.
const (
	LedgerStatement = "statement"
	LedgerShared    = "shared"
)

// tokenRunes is how much of the match key feeds the fingerprint.
const tokenRunes = 50

// LedgerOf returns the ledger a source type writes into.
func LedgerOf(st domain.SourceType) string {
	if st.IsSharedExpense() {
		return LedgerShared
	}
	return LedgerStatement
}

var fidelity = map[domain.SourceType]int{
	domain.SourceManual:        40,
	domain.SourceBankCSV:       30,
	domain.SourceBankXML:       30,
	domain.SourceBankPDF:       20,
	domain.SourceCreditCardPDF: 20,
	domain.SourceSplitwise:     10,
}

// FidelityRank orders sources by how trustworthy their data is. Higher wins.
func FidelityRank(st domain.SourceType) int {
	return fidelity[st]
}

// Fingerprint hashes the economic identity of a transaction. It does not
// depend on the file the record came from. occurrence numbers identical
// events within one file, starting at 1; only occurrences above 1 change the
// hash.
func Fingerprint(ledger string, date civil.Date, amount decimal.Decimal, typ domain.TransactionType, matchKey string, occurrence int) string {
	token := []rune(matchKey)
	if len(token) > tokenRunes {
		token = token[:tokenRunes]
	}
	payload := strings.Join([]string{
		ledger,
		date.String(),
		amount.StringFixed(2),
		strings.ToUpper(string(typ)),
		string(token),
	}, "|")
	if occurrence > 1 {
		payload += fmt.Sprintf("|#%d", occurrence)
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
