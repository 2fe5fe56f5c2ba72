package categorize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/normalizer"
	"github.com/dvloznov/finance-ingest/internal/rules"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/shopspring/decimal"
)

// suggestMergeRatio is the Levenshtein ratio at which two leading tokens are
// counted as the same merchant.
const suggestMergeRatio = 0.8

// Tokens that never make a useful rule on their own.
var stopTokens = map[string]bool{
	"the": true, "and": true, "for": true, "from": true, "to": true, "by": true,
	"payment": true, "paid": true, "transfer": true, "txn": true, "upi": true,
	"neft": true, "imps": true, "rtgs": true, "pos": true, "ach": true, "nach": true,
	"ecs": true, "trf": true, "ref": true, "bank": true, "card": true, "purchase": true,
}

// Suggestion is a candidate DESCRIPTION_PATTERN rule mined from
// uncategorized transactions.
type Suggestion struct {
	Pattern    string          `json:"pattern"`
	Count      int             `json:"count"`
	Volume     decimal.Decimal `json:"volume"`
	Variants   []string        `json:"variants"`
	Examples   []string        `json:"examples"`
	RuleType   domain.RuleType `json:"rule_type"`
	Conditions string          `json:"conditions"`
}

// Suggest groups uncategorized, non-manual transactions by the leading
// significant token of their match key. Tokens within suggestMergeRatio of
// each other share a group. Groups smaller than minCount are dropped. The
// result is ordered by count, then gross volume, both descending.
func (s *Service) Suggest(ctx context.Context, minCount int) ([]Suggestion, error) {
	if minCount < 1 {
		minCount = 1
	}
	txs, err := s.store.ListTransactions(ctx, store.TransactionFilter{Uncategorized: true, ExcludeManual: true})
	if err != nil {
		return nil, fmt.Errorf("Suggest: %w", err)
	}

	type group struct {
		token    string
		variants map[string]bool
		count    int
		volume   decimal.Decimal
		examples []string
	}
	var groups []*group
	for _, tx := range txs {
		token := leadingToken(tx)
		if token == "" {
			continue
		}
		var g *group
		for _, cand := range groups {
			if cand.token == token || dedup.Ratio(cand.token, token) >= suggestMergeRatio {
				g = cand
				break
			}
		}
		if g == nil {
			g = &group{token: token, variants: map[string]bool{}}
			groups = append(groups, g)
		}
		g.variants[token] = true
		g.count++
		g.volume = g.volume.Add(tx.Amount)
		if len(g.examples) < 3 {
			g.examples = append(g.examples, tx.Description())
		}
	}

	out := []Suggestion{}
	for _, g := range groups {
		if g.count < minCount {
			continue
		}
		_, conditions, err := rules.Encode(rules.DescriptionPredicate{Pattern: g.token})
		if err != nil {
			return nil, fmt.Errorf("Suggest: %w", err)
		}
		variants := make([]string, 0, len(g.variants))
		for v := range g.variants {
			variants = append(variants, v)
		}
		sort.Strings(variants)
		out = append(out, Suggestion{
			Pattern:    g.token,
			Count:      g.count,
			Volume:     g.volume,
			Variants:   variants,
			Examples:   g.examples,
			RuleType:   domain.RuleDescriptionPattern,
			Conditions: conditions,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if c := out[i].Volume.Cmp(out[j].Volume); c != 0 {
			return c > 0
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out, nil
}

// leadingToken is the first token of the match key that is at least three
// letters long, not a stop word and not mostly digits.
func leadingToken(tx *domain.Transaction) string {
	key := tx.MatchKey
	if key == "" {
		key = normalizer.MatchKey(tx.Description())
	}
	for _, tok := range strings.Fields(key) {
		tok = strings.Trim(tok, ".,:;#&()'\"")
		if len([]rune(tok)) < 3 || stopTokens[tok] || !mostlyLetters(tok) {
			continue
		}
		return tok
	}
	return ""
}

func mostlyLetters(s string) bool {
	letters, total := 0, 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return total > 0 && letters*2 > total
}

// SuggestionInput turns a suggestion into a rule input for categoryID.
func SuggestionInput(sg Suggestion, categoryID int64, priority int) RuleInput {
	return RuleInput{
		Name:       "suggested: " + sg.Pattern,
		Priority:   priority,
		Type:       string(sg.RuleType),
		Conditions: sg.Conditions,
		CategoryID: categoryID,
	}
}

