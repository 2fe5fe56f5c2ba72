package categorize

import (
	"sort"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/normalizer"
)

// MerchantIndex resolves transactions to known merchants by hint, name or
// alias.
type MerchantIndex struct {
	byID  map[int64]*domain.Merchant
	byKey map[string]*domain.Merchant
	// keys sorted longest first so the most specific prefix wins
	keys []string
}

// NewMerchantIndex indexes merchants. When two merchants share a key the
// lower id keeps it.
func NewMerchantIndex(merchants []*domain.Merchant) *MerchantIndex {
	ix := &MerchantIndex{byID: map[int64]*domain.Merchant{}, byKey: map[string]*domain.Merchant{}}
	sorted := append([]*domain.Merchant(nil), merchants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, m := range sorted {
		ix.byID[m.ID] = m
		for _, k := range merchantKeys(m) {
			if _, taken := ix.byKey[k]; !taken {
				ix.byKey[k] = m
				ix.keys = append(ix.keys, k)
			}
		}
	}
	sort.SliceStable(ix.keys, func(i, j int) bool {
		if len(ix.keys[i]) != len(ix.keys[j]) {
			return len(ix.keys[i]) > len(ix.keys[j])
		}
		return ix.keys[i] < ix.keys[j]
	})
	return ix
}

func merchantKeys(m *domain.Merchant) []string {
	var keys []string
	add := func(s string) {
		if k := normalizer.MatchKey(s); k != "" {
			keys = append(keys, k)
		}
	}
	add(m.NormalizedName)
	add(m.Name)
	for _, a := range m.Aliases {
		add(a)
	}
	return keys
}

// Get returns the merchant with id, or nil.
func (ix *MerchantIndex) Get(id *int64) *domain.Merchant {
	if ix == nil || id == nil {
		return nil
	}
	return ix.byID[*id]
}

// Resolve finds the merchant for tx: an exact hint match first, then the
// longest name or alias the match key starts with. It returns nil when
// nothing matches.
func (ix *MerchantIndex) Resolve(tx *domain.Transaction) *domain.Merchant {
	if ix == nil || len(ix.keys) == 0 {
		return nil
	}
	for _, h := range tx.MerchantHints {
		if m := ix.byKey[normalizer.MatchKey(h)]; m != nil {
			return m
		}
	}
	key := tx.MatchKey
	if key == "" {
		key = normalizer.MatchKey(tx.Description())
	}
	for _, k := range ix.keys {
		if key == k || strings.HasPrefix(key, k+" ") {
			return ix.byKey[k]
		}
	}
	return nil
}
