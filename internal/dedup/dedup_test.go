package dedup

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLookup is an in-memory Lookup.
type fakeLookup struct {
	rows []*domain.Transaction
}

func (f *fakeLookup) FindByFingerprint(_ context.Context, fp string) (*domain.Transaction, error) {
	for _, r := range f.rows {
		if r.Fingerprint == fp {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeLookup) FindByEventKey(_ context.Context, key store.EventKey) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, r := range f.rows {
		if store.EventKeyOf(r) == key {
			out = append(out, r)
		}
	}
	return out, nil
}

var jan15 = civil.Date{Year: 2026, Month: time.January, Day: 15}

func candidate(matchKey string, src domain.SourceType) *domain.Transaction {
	return &domain.Transaction{
		Ledger:       LedgerOf(src),
		SourceType:   src,
		FidelityRank: FidelityRank(src),
		Date:         jan15,
		Amount:       decimal.RequireFromString("500.00"),
		Currency:     "INR",
		Type:         domain.TypeExpense,
		MatchKey:     matchKey,
	}
}

func stored(id int64, matchKey string, src domain.SourceType) *domain.Transaction {
	tx := candidate(matchKey, src)
	tx.ID = id
	tx.Fingerprint = Fingerprint(tx.Ledger, tx.Date, tx.Amount, tx.Type, tx.MatchKey, 1)
	return tx
}

func TestFingerprint(t *testing.T) {
	amt := decimal.RequireFromString("500")
	base := Fingerprint(LedgerStatement, jan15, amt, domain.TypeExpense, "swiggy", 1)

	assert.Len(t, base, 64)
	assert.Equal(t, base, Fingerprint(LedgerStatement, jan15, decimal.RequireFromString("500.000"), domain.TypeExpense, "swiggy", 1))
	assert.Equal(t, base, Fingerprint(LedgerStatement, jan15, amt, domain.TypeExpense, "swiggy", 0), "occurrence 0 and 1 are the same")
	assert.NotEqual(t, base, Fingerprint(LedgerShared, jan15, amt, domain.TypeExpense, "swiggy", 1))
	assert.NotEqual(t, base, Fingerprint(LedgerStatement, jan15, amt, domain.TypeIncome, "swiggy", 1))
	assert.NotEqual(t, base, Fingerprint(LedgerStatement, jan15, amt, domain.TypeExpense, "swiggy", 2))

	long := "a very long merchant narration that keeps going well past fifty runes"
	assert.Equal(t,
		Fingerprint(LedgerStatement, jan15, amt, domain.TypeExpense, long, 1),
		Fingerprint(LedgerStatement, jan15, amt, domain.TypeExpense, long+" with a different tail", 1),
		"only the first fifty runes count")
}

func TestFidelityRank(t *testing.T) {
	assert.Greater(t, FidelityRank(domain.SourceBankCSV), FidelityRank(domain.SourceCreditCardPDF))
	assert.Equal(t, FidelityRank(domain.SourceBankCSV), FidelityRank(domain.SourceBankXML))
	assert.Greater(t, FidelityRank(domain.SourceCreditCardPDF), FidelityRank(domain.SourceSplitwise))
	assert.Greater(t, FidelityRank(domain.SourceManual), FidelityRank(domain.SourceBankCSV))
	assert.Equal(t, LedgerShared, LedgerOf(domain.SourceSplitwise))
	assert.Equal(t, LedgerStatement, LedgerOf(domain.SourceBankPDF))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b    string
		atLeast float64
		below   float64
	}{
		{a: "swiggy", b: "swiggy bangalore", atLeast: 1},
		{a: "zomato order", b: "zomato orders", atLeast: 0.9},
		{a: "amazon", b: "swiggy", below: 0.5},
		{a: "", b: "swiggy", below: 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.a+"~"+tt.b, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			assert.Equal(t, got, Similarity(tt.b, tt.a), "symmetric")
			if tt.atLeast > 0 {
				assert.GreaterOrEqual(t, got, tt.atLeast)
			}
			if tt.below > 0 {
				assert.Less(t, got, tt.below)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	eng := New(0)
	require.Equal(t, DefaultThreshold, eng.Threshold())

	t.Run("new event", func(t *testing.T) {
		d, err := eng.Resolve(ctx, &fakeLookup{}, candidate("swiggy", domain.SourceBankCSV), Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionInsert, d.Action)
		assert.NotEmpty(t, d.Fingerprint)
	})

	t.Run("same fingerprint and rank drops", func(t *testing.T) {
		lk := &fakeLookup{rows: []*domain.Transaction{stored(1, "swiggy", domain.SourceBankCSV)}}
		d, err := eng.Resolve(ctx, lk, candidate("swiggy", domain.SourceBankCSV), Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionDrop, d.Action)
		assert.Equal(t, ReasonFingerprint, d.Reason)
		assert.Equal(t, int64(1), d.Existing.ID)
	})

	t.Run("similar description from better source upgrades", func(t *testing.T) {
		lk := &fakeLookup{rows: []*domain.Transaction{stored(1, "swiggy", domain.SourceCreditCardPDF)}}
		d, err := eng.Resolve(ctx, lk, candidate("swiggy bangalore", domain.SourceBankCSV), Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionUpgrade, d.Action)
		assert.Equal(t, ReasonSimilarity, d.Reason)
		assert.GreaterOrEqual(t, d.Score, eng.Threshold())
	})

	t.Run("worse source drops", func(t *testing.T) {
		lk := &fakeLookup{rows: []*domain.Transaction{stored(1, "swiggy bangalore", domain.SourceBankCSV)}}
		d, err := eng.Resolve(ctx, lk, candidate("swiggy", domain.SourceCreditCardPDF), Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionDrop, d.Action)
	})

	t.Run("different external ids never match", func(t *testing.T) {
		existing := stored(1, "swiggy", domain.SourceBankCSV)
		existing.Fingerprint = "other"
		existing.ExternalID = "REF1"
		in := candidate("swiggy", domain.SourceBankCSV)
		in.ExternalID = "REF2"
		d, err := eng.Resolve(ctx, &fakeLookup{rows: []*domain.Transaction{existing}}, in, Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionInsert, d.Action)
	})

	t.Run("same fingerprint with different external ids inserts", func(t *testing.T) {
		existing := stored(1, "starbucks", domain.SourceCreditCardPDF)
		existing.ExternalID = "A"
		in := candidate("starbucks", domain.SourceCreditCardPDF)
		in.ExternalID = "B"
		d, err := eng.Resolve(ctx, &fakeLookup{rows: []*domain.Transaction{existing}}, in, Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionInsert, d.Action)
		assert.Equal(t, Fingerprint(LedgerStatement, jan15, in.Amount, domain.TypeExpense, "starbucks", 2), d.Fingerprint)
	})

	t.Run("equal external ids match despite descriptions", func(t *testing.T) {
		existing := stored(1, "pos 4321 amzn", domain.SourceCreditCardPDF)
		existing.ExternalID = "12366165854"
		in := candidate("amazon seller services", domain.SourceBankCSV)
		in.ExternalID = "12366165854"
		d, err := eng.Resolve(ctx, &fakeLookup{rows: []*domain.Transaction{existing}}, in, Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionUpgrade, d.Action)
		assert.Equal(t, ReasonExternalID, d.Reason)
	})

	t.Run("rows claimed by the same file are skipped", func(t *testing.T) {
		first := stored(1, "swiggy", domain.SourceBankCSV)
		lk := &fakeLookup{rows: []*domain.Transaction{first}}
		d, err := eng.Resolve(ctx, lk, candidate("swiggy", domain.SourceBankCSV), Claims{1: true})
		require.NoError(t, err)
		assert.Equal(t, ActionInsert, d.Action)
		assert.NotEqual(t, first.Fingerprint, d.Fingerprint)
		assert.Equal(t, Fingerprint(LedgerStatement, jan15, first.Amount, domain.TypeExpense, "swiggy", 2), d.Fingerprint)
	})

	t.Run("shared ledger never meets statement rows", func(t *testing.T) {
		lk := &fakeLookup{rows: []*domain.Transaction{stored(1, "swiggy", domain.SourceBankCSV)}}
		d, err := eng.Resolve(ctx, lk, candidate("swiggy", domain.SourceSplitwise), Claims{})
		require.NoError(t, err)
		assert.Equal(t, ActionInsert, d.Action)
	})

	t.Run("best candidate wins", func(t *testing.T) {
		a := stored(1, "amazon pay", domain.SourceCreditCardPDF)
		b := stored(2, "swiggy instamart", domain.SourceCreditCardPDF)
		d, err := eng.Resolve(ctx, &fakeLookup{rows: []*domain.Transaction{a, b}}, candidate("swiggy instamart blr", domain.SourceBankCSV), Claims{})
		require.NoError(t, err)
		require.Equal(t, ActionUpgrade, d.Action)
		assert.Equal(t, int64(2), d.Existing.ID)
	})
}

func TestUpgrade(t *testing.T) {
	existing := stored(7, "swiggy", domain.SourceCreditCardPDF)
	existing.OriginalDescription = "UPI-SWIGGY-REF1"
	existing.CleanedDescription = "SWIGGY"
	existing.SourceFileID = 1
	existing.Metadata = map[string]any{"reward_points": 12}

	in := candidate("swiggy bangalore", domain.SourceBankCSV)
	in.OriginalDescription = "SWIGGY BANGALORE"
	in.CleanedDescription = "SWIGGY BANGALORE"
	in.SourceFileID = 2
	in.Metadata = map[string]any{"reward_points": 12}

	changes := Upgrade(existing, in, "fp-new")
	fields := map[string]Change{}
	for _, c := range changes {
		fields[c.Field] = c
	}
	assert.Equal(t, "UPI-SWIGGY-REF1", fields["original_description"].OldValue)
	assert.Equal(t, "SWIGGY BANGALORE", existing.OriginalDescription)
	assert.Equal(t, "fp-new", existing.Fingerprint)
	assert.Equal(t, int64(2), existing.SourceFileID)
	assert.Equal(t, FidelityRank(domain.SourceBankCSV), existing.FidelityRank)
	assert.NotContains(t, fields, "metadata", "unchanged fields produce no change")
	assert.NotContains(t, fields, "external_id")

	assert.Empty(t, Upgrade(existing, in, "fp-new"), "a second identical upgrade is a no-op")
}
