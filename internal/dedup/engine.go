package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// DefaultThreshold is the similarity at or above which two records with the
// same event key are treated as one transaction.
const DefaultThreshold = 0.80

// Action is what the importer should do with an incoming record.
type Action string

const (
	ActionInsert  Action = "insert"
	ActionUpgrade Action = "upgrade"
	ActionDrop    Action = "drop"
)

// Match reasons.
const (
	ReasonFingerprint = "fingerprint"
	ReasonExternalID  = "external_id"
	ReasonSimilarity  = "similarity"
)

// Lookup is the read side of the store used for resolution.
type Lookup interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Transaction, error)
	FindByEventKey(ctx context.Context, key store.EventKey) ([]*domain.Transaction, error)
}

// Claims are the stored rows a file has already inserted or matched. They are
// never matched again by the same file.
type Claims map[int64]bool

// Decision is the outcome of Resolve.
type Decision struct {
	Action   Action
	Existing *domain.Transaction
	Score    float64
	Reason   string
	// Fingerprint is the fingerprint the incoming record should be stored
	// under, with its in-file occurrence applied.
	Fingerprint string
}

// Engine resolves incoming records against stored ones.
type Engine struct {
	threshold float64
}

// New returns an Engine. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func New(threshold float64) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Threshold returns the configured similarity threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Resolve classifies tx. tx must carry Ledger, Date, Amount, Currency, Type,
// MatchKey, ExternalID and FidelityRank. Resolve does not write.
func (e *Engine) Resolve(ctx context.Context, lookup Lookup, tx *domain.Transaction, claims Claims) (Decision, error) {
	// Identical events inside one file get successive occurrence numbers so
	// that they stay distinct and re-imports line up one to one.
	var fp string
	for occurrence := 1; ; occurrence++ {
		fp = Fingerprint(tx.Ledger, tx.Date, tx.Amount, tx.Type, tx.MatchKey, occurrence)
		existing, err := lookup.FindByFingerprint(ctx, fp)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return Decision{}, fmt.Errorf("Resolve: %w", err)
		}
		if claims[existing.ID] {
			continue
		}
		// Same event text but different bank references are separate events.
		if existing.ExternalID != "" && tx.ExternalID != "" && existing.ExternalID != tx.ExternalID {
			continue
		}
		return e.collide(existing, tx, fp, 1, ReasonFingerprint), nil
	}

	candidates, err := lookup.FindByEventKey(ctx, store.EventKeyOf(tx))
	if err != nil {
		return Decision{}, fmt.Errorf("Resolve: %w", err)
	}

	var best *domain.Transaction
	bestScore, bestReason := 0.0, ""
	for _, c := range candidates {
		if claims[c.ID] {
			continue
		}
		score, reason := e.score(c, tx)
		if score < e.threshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && c.ID < best.ID) {
			best, bestScore, bestReason = c, score, reason
		}
	}
	if best == nil {
		return Decision{Action: ActionInsert, Fingerprint: fp}, nil
	}
	return e.collide(best, tx, fp, bestScore, bestReason), nil
}

func (e *Engine) score(existing, tx *domain.Transaction) (float64, string) {
	if existing.ExternalID != "" && tx.ExternalID != "" {
		if existing.ExternalID == tx.ExternalID {
			return 1, ReasonExternalID
		}
		return 0, ""
	}
	return Similarity(existing.MatchKey, tx.MatchKey), ReasonSimilarity
}

func (e *Engine) collide(existing, tx *domain.Transaction, fp string, score float64, reason string) Decision {
	d := Decision{Existing: existing, Score: score, Reason: reason, Fingerprint: fp, Action: ActionDrop}
	if tx.FidelityRank > existing.FidelityRank {
		d.Action = ActionUpgrade
	}
	return d
}
