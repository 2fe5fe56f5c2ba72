package rules

import (
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func rule(id int64, priority int, typ domain.RuleType, conditions string, category int64) *domain.CategorizationRule {
	return &domain.CategorizationRule{
		ID:         id,
		Name:       "r" + string(rune('0'+id)),
		Priority:   priority,
		RuleType:   typ,
		Conditions: conditions,
		CategoryID: category,
		Active:     true,
		CreatedAt:  epoch.Add(time.Duration(id) * time.Minute),
	}
}

func tx(desc, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:                 1,
		CleanedDescription: desc,
		Amount:             decimal.RequireFromString(amount),
		Currency:           "INR",
		Type:               domain.TypeExpense,
	}
}

func ptr(v int64) *int64 { return &v }

func TestDecide_FirstMatchByPriority(t *testing.T) {
	eng, warnings := Compile([]*domain.CategorizationRule{
		rule(1, 60, domain.RuleDescriptionPattern, `{"pattern":"RESTAURANT"}`, 9),
		rule(2, 40, domain.RuleDescriptionPattern, `{"pattern":"SWIGGY"}`, 5),
	})
	require.Empty(t, warnings)

	d := eng.Decide(tx("SWIGGY RESTAURANT ORDER", "450"), nil)
	assert.Equal(t, SourceRule, d.Source)
	require.NotNil(t, d.CategoryID)
	assert.Equal(t, int64(5), *d.CategoryID)
	assert.Equal(t, "rule:2", d.Trigger)
}

func TestDecide_PriorityTenBeatsFifty(t *testing.T) {
	eng, _ := Compile([]*domain.CategorizationRule{
		rule(1, 50, domain.RuleAmountRange, `{"min_amount":"0"}`, 2),
		rule(2, 10, domain.RuleDescriptionPattern, `{"pattern":"uber"}`, 3),
	})
	d := eng.Decide(tx("UBER TRIP", "300"), nil)
	assert.Equal(t, int64(3), *d.CategoryID)
}

func TestCompile_TieBreak(t *testing.T) {
	older := rule(9, 10, domain.RuleDescriptionPattern, `{"pattern":"cafe"}`, 1)
	older.CreatedAt = epoch
	newer := rule(3, 10, domain.RuleDescriptionPattern, `{"pattern":"cafe"}`, 2)
	newer.CreatedAt = epoch.Add(time.Hour)
	sameTimeLowID := rule(4, 10, domain.RuleDescriptionPattern, `{"pattern":"cafe"}`, 3)
	sameTimeLowID.CreatedAt = epoch.Add(time.Hour)

	eng, _ := Compile([]*domain.CategorizationRule{newer, sameTimeLowID, older})
	var order []int64
	for _, r := range eng.Rules() {
		order = append(order, r.ID)
	}
	assert.Equal(t, []int64{9, 3, 4}, order)
	assert.Equal(t, int64(1), *eng.Decide(tx("BLUE TOKAI CAFE", "250"), nil).CategoryID)
}

func TestCompile_MalformedRulesAreSkipped(t *testing.T) {
	inactive := rule(7, 1, domain.RuleDescriptionPattern, `{"pattern":"swiggy"}`, 99)
	inactive.Active = false

	eng, warnings := Compile([]*domain.CategorizationRule{
		rule(1, 1, domain.RuleDescriptionPattern, `{"pattern":`, 10),
		rule(2, 2, domain.RuleDescriptionPattern, `{"pattern":"  "}`, 10),
		rule(3, 3, domain.RuleAmountRange, `{"min_amount":"100","max_amount":"10"}`, 10),
		rule(4, 4, domain.RuleAmountRange, `{}`, 10),
		rule(5, 5, domain.RuleMerchant, `{}`, 10),
		rule(6, 6, "REGEX", `{"pattern":"x"}`, 10),
		inactive,
		rule(8, 8, domain.RuleDescriptionPattern, `{"pattern":"swiggy"}`, 5),
	})
	require.Len(t, warnings, 6)
	for i, w := range warnings {
		assert.Equal(t, int64(i+1), w.RuleID)
		assert.NotEmpty(t, w.Error())
	}
	require.Len(t, eng.Rules(), 1)
	assert.Equal(t, int64(5), *eng.Decide(tx("SWIGGY", "100"), nil).CategoryID)
}

func TestMatches(t *testing.T) {
	swiggy := &domain.Merchant{ID: 4, Name: "Swiggy", Aliases: []string{"SWIGGY INSTAMART"}}
	tests := []struct {
		name     string
		typ      domain.RuleType
		cond     string
		desc     string
		amount   string
		merchant *domain.Merchant
		want     bool
	}{
		{"substring", domain.RuleDescriptionPattern, `{"pattern":"zomato"}`, "ZOMATO LTD PAYMENT", "10", nil, true},
		{"glob whole key", domain.RuleDescriptionPattern, `{"pattern":"amazon*pay"}`, "AMAZON INDIA PAY", "10", nil, true},
		{"glob is anchored", domain.RuleDescriptionPattern, `{"pattern":"amazon*"}`, "PAY AMAZON", "10", nil, false},
		{"glob single rune", domain.RuleDescriptionPattern, `{"pattern":"atm?"}`, "ATM1", "10", nil, true},
		{"description with floor", domain.RuleDescriptionPattern, `{"pattern":"amazon","min_amount":"1000"}`, "AMAZON", "999.99", nil, false},
		{"amount lower bound inclusive", domain.RuleAmountRange, `{"min_amount":"100","max_amount":"200"}`, "X", "100", nil, true},
		{"amount upper bound inclusive", domain.RuleAmountRange, `{"min_amount":100,"max_amount":200}`, "X", "200", nil, true},
		{"amount outside", domain.RuleAmountRange, `{"max_amount":"50"}`, "X", "50.01", nil, false},
		{"merchant id", domain.RuleMerchant, `{"merchant_id":4}`, "X", "1", swiggy, true},
		{"merchant alias", domain.RuleMerchant, `{"names":["swiggy instamart"]}`, "X", "1", swiggy, true},
		{"merchant missing", domain.RuleMerchant, `{"names":["swiggy"]}`, "SWIGGY", "1", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.typ, tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Matches(p, SubjectOf(tx(tt.desc, tt.amount), tt.merchant)))
		})
	}
}

func TestDecide_MerchantDefaultAndManual(t *testing.T) {
	eng, _ := Compile([]*domain.CategorizationRule{
		rule(1, 1, domain.RuleDescriptionPattern, `{"pattern":"swiggy"}`, 5),
	})
	m := &domain.Merchant{ID: 3, Name: "Swiggy", DefaultCategoryID: ptr(8)}

	d := eng.Decide(tx("SWIGGY", "100"), m)
	assert.Equal(t, SourceMerchant, d.Source)
	assert.Equal(t, int64(8), *d.CategoryID)
	assert.Equal(t, "merchant:3", d.Trigger)

	manual := tx("SWIGGY", "100")
	manual.IsCategoryManual = true
	manual.CategoryID = ptr(42)
	d = eng.Decide(manual, m)
	assert.Equal(t, SourceManual, d.Source)
	h, dirty := d.Apply(manual, epoch)
	assert.Nil(t, h)
	assert.False(t, dirty)
	assert.Equal(t, int64(42), *manual.CategoryID)
}

func TestApply_Idempotent(t *testing.T) {
	eng, _ := Compile([]*domain.CategorizationRule{
		rule(1, 1, domain.RuleDescriptionPattern, `{"pattern":"swiggy"}`, 5),
	})
	t1 := tx("SWIGGY", "100")

	h, dirty := eng.Decide(t1, nil).Apply(t1, epoch)
	require.NotNil(t, h)
	assert.True(t, dirty)
	assert.Equal(t, "", h.OldValue)
	assert.Equal(t, "5", h.NewValue)
	assert.Equal(t, "rule:1", h.Trigger)
	assert.Equal(t, domain.TransformCategoryAuto, h.Type)
	assert.Equal(t, int64(1), *t1.AppliedRuleID)

	h, dirty = eng.Decide(t1, nil).Apply(t1, epoch)
	assert.Nil(t, h)
	assert.False(t, dirty)
}

func TestApply_ClearsStaleAutoCategory(t *testing.T) {
	eng, _ := Compile(nil)
	t1 := tx("SWIGGY", "100")
	t1.CategoryID = ptr(5)
	t1.AppliedRuleID = ptr(1)

	h, dirty := eng.Decide(t1, nil).Apply(t1, epoch)
	require.NotNil(t, h)
	assert.True(t, dirty)
	assert.Nil(t, t1.CategoryID)
	assert.Nil(t, t1.AppliedRuleID)
	assert.Equal(t, "uncategorized", h.Trigger)
}

func TestEncodeRoundTrip(t *testing.T) {
	floor := decimal.RequireFromString("10")
	typ, cond, err := Encode(DescriptionPredicate{Pattern: "swiggy*", Min: &floor})
	require.NoError(t, err)
	assert.Equal(t, domain.RuleDescriptionPattern, typ)
	p, err := Decode(typ, cond)
	require.NoError(t, err)
	assert.True(t, Matches(p, Subject{MatchKey: "swiggy blr", Amount: decimal.NewFromInt(20)}))
}
