// Package categorize assigns merchants and categories to stored
// transactions and implements the rule, tag and catalog services built on
// top of the rule engine.
package categorize

import (
	"strconv"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/rules"
)

// TriggerMerchantMatch is the history trigger for automatic merchant
// resolution.
const TriggerMerchantMatch = "merchant_match"

// Outcome is the result of Apply on one transaction.
type Outcome struct {
	Decision rules.Decision
	History  []*domain.TransformationHistory
	// Dirty is set when tx was modified and must be written back.
	Dirty bool
}

// CategoryChanged reports whether Apply changed the category.
func (o Outcome) CategoryChanged() bool {
	for _, h := range o.History {
		if h.Field == "category_id" {
			return true
		}
	}
	return false
}

// Apply resolves the merchant of tx and runs the rule engine on it, mutating
// tx in place. A resolved merchant replaces the current one. When nothing
// resolves the current merchant is kept. Manual categories are never touched.
func Apply(tx *domain.Transaction, merchants *MerchantIndex, engine *rules.Engine, now time.Time) Outcome {
	var out Outcome

	merchant := merchants.Get(tx.MerchantID)
	if resolved := merchants.Resolve(tx); resolved != nil && (merchant == nil || resolved.ID != merchant.ID) {
		out.History = append(out.History, &domain.TransformationHistory{
			TransactionID: tx.ID,
			Field:         "merchant_id",
			OldValue:      formatID(tx.MerchantID),
			NewValue:      strconv.FormatInt(resolved.ID, 10),
			Type:          domain.TransformMerchantMatch,
			Trigger:       TriggerMerchantMatch,
			CreatedAt:     now,
		})
		id := resolved.ID
		tx.MerchantID = &id
		merchant = resolved
		out.Dirty = true
	}

	out.Decision = engine.Decide(tx, merchant)
	h, dirty := out.Decision.Apply(tx, now)
	if h != nil {
		out.History = append(out.History, h)
	}
	out.Dirty = out.Dirty || dirty
	return out
}

func formatID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
