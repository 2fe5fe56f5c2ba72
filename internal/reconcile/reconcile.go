// Package reconcile pairs Splitwise rows with the statement rows that paid
// for them, so shared expenses are counted once at the user's share.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultDateWindow is how many days apart a Splitwise row and its bank row
// may be.
const DefaultDateWindow = 2

// Kind says why a pair was matched.
type Kind string

const (
	KindExpense    Kind = "expense"
	KindSettlement Kind = "settlement"
)

// Pair is one Splitwise row matched to one statement row.
type Pair struct {
	Kind                 Kind            `json:"kind"`
	SplitwiseID          int64           `json:"splitwise_id"`
	BankID               int64           `json:"bank_id"`
	Date                 string          `json:"date"`
	Amount               decimal.Decimal `json:"amount"`
	EffectiveAmount      decimal.Decimal `json:"effective_amount"`
	DaysApart            int             `json:"days_apart"`
	Similarity           float64         `json:"similarity"`
	SplitwiseDescription string          `json:"splitwise_description"`
	BankDescription      string          `json:"bank_description"`
}

// Report summarizes one run.
type Report struct {
	DryRun      bool   `json:"dry_run"`
	Considered  int    `json:"considered"`
	Pairs       []Pair `json:"pairs"`
	Expenses    int    `json:"expense_pairs"`
	Settlements int    `json:"settlement_pairs"`
}

// Options tune a Reconciler.
type Options struct {
	// DateWindow is the largest allowed gap in days. Negative means the default.
	DateWindow int
	Now        func() time.Time
}

// Reconciler matches Splitwise rows against statement rows.
type Reconciler struct {
	store store.Store
	opts  Options
}

// New returns a Reconciler over s.
func New(s store.Store, opts Options) *Reconciler {
	if opts.DateWindow < 0 {
		opts.DateWindow = DefaultDateWindow
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{store: s, opts: opts}
}

// Run pairs every eligible unreconciled Splitwise row with its best
// statement row. With dryRun set nothing is written.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*Report, error) {
	log := logger.FromContext(ctx)
	var report *Report
	err := r.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		report = &Report{DryRun: dryRun}

		shared, err := repo.ListTransactions(ctx, store.TransactionFilter{SourceType: domain.SourceSplitwise, Unreconciled: true})
		if err != nil {
			return err
		}
		bank, err := repo.ListTransactions(ctx, store.TransactionFilter{Ledger: dedup.LedgerStatement, Unreconciled: true})
		if err != nil {
			return err
		}
		sort.SliceStable(shared, func(i, j int) bool {
			if shared[i].Date != shared[j].Date {
				return shared[i].Date.Before(shared[j].Date)
			}
			return shared[i].ID < shared[j].ID
		})

		used := make(map[int64]bool)
		now := r.opts.Now()
		for _, sw := range shared {
			kind, ok := eligible(sw)
			if !ok {
				continue
			}
			report.Considered++
			best := r.bestMatch(sw, bank, used)
			if best == nil {
				continue
			}
			used[best.ID] = true

			pair := Pair{
				Kind:                 kind,
				SplitwiseID:          sw.ID,
				BankID:               best.ID,
				Date:                 best.Date.String(),
				Amount:               best.Amount,
				EffectiveAmount:      effectiveAmount(sw, kind),
				DaysApart:            daysApart(sw, best),
				Similarity:           dedup.Similarity(sw.MatchKey, best.MatchKey),
				SplitwiseDescription: sw.OriginalDescription,
				BankDescription:      best.OriginalDescription,
			}
			report.Pairs = append(report.Pairs, pair)
			if kind == KindSettlement {
				report.Settlements++
			} else {
				report.Expenses++
			}
			if dryRun {
				continue
			}
			if err := link(ctx, repo, sw, best, pair.EffectiveAmount, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	log.Info().Bool("dry_run", dryRun).Int("expenses", report.Expenses).Int("settlements", report.Settlements).Msg("splitwise reconciliation finished")
	return report, nil
}

// eligible reports whether sw can be matched: settlements always, expenses
// only when the user paid.
func eligible(sw *domain.Transaction) (Kind, bool) {
	if sw.Type == domain.TypeTransfer && flag(sw.Metadata, "is_payment") {
		return KindSettlement, true
	}
	if sw.Type == domain.TypeExpense && flag(sw.Metadata, "user_paid") {
		return KindExpense, true
	}
	return "", false
}

// bestMatch returns the closest-dated statement row with the same amount,
// preferring the more similar description on equal distance.
func (r *Reconciler) bestMatch(sw *domain.Transaction, bank []*domain.Transaction, used map[int64]bool) *domain.Transaction {
	var best *domain.Transaction
	bestDays, bestSim := 0, 0.0
	for _, b := range bank {
		if used[b.ID] || b.Currency != sw.Currency || !b.Amount.Equal(sw.Amount) {
			continue
		}
		days := daysApart(sw, b)
		if days > r.opts.DateWindow {
			continue
		}
		sim := dedup.Similarity(sw.MatchKey, b.MatchKey)
		if best == nil || days < bestDays || (days == bestDays && sim > bestSim) {
			best, bestDays, bestSim = b, days, sim
		}
	}
	return best
}

func link(ctx context.Context, repo store.Repository, sw, bank *domain.Transaction, effective decimal.Decimal, now time.Time) error {
	var hist []*domain.TransformationHistory
	record := func(tx *domain.Transaction, other int64, field, oldValue, newValue string) {
		if oldValue == newValue {
			return
		}
		hist = append(hist, &domain.TransformationHistory{
			TransactionID: tx.ID,
			Field:         field,
			OldValue:      oldValue,
			NewValue:      newValue,
			Type:          domain.TransformReconcile,
			Trigger:       "reconcile:" + strconv.FormatInt(other, 10),
			CreatedAt:     now,
		})
	}

	record(sw, bank.ID, "is_reconciled", strconv.FormatBool(sw.IsReconciled), "true")
	record(sw, bank.ID, "reconciled_with", idText(sw.ReconciledWith), strconv.FormatInt(bank.ID, 10))
	record(sw, bank.ID, "is_excluded", strconv.FormatBool(sw.IsExcluded), "true")
	sw.IsReconciled = true
	sw.ReconciledWith = &bank.ID
	sw.IsExcluded = true

	record(bank, sw.ID, "is_reconciled", strconv.FormatBool(bank.IsReconciled), "true")
	record(bank, sw.ID, "reconciled_with", idText(bank.ReconciledWith), strconv.FormatInt(sw.ID, 10))
	old := ""
	if bank.EffectiveAmount != nil {
		old = bank.EffectiveAmount.String()
	}
	record(bank, sw.ID, "effective_amount", old, effective.String())
	bank.IsReconciled = true
	bank.ReconciledWith = &sw.ID
	bank.EffectiveAmount = &effective

	sw.UpdatedAt, bank.UpdatedAt = now, now
	if err := repo.UpdateTransaction(ctx, sw); err != nil {
		return err
	}
	if err := repo.UpdateTransaction(ctx, bank); err != nil {
		return err
	}
	return repo.AppendHistory(ctx, hist...)
}

// effectiveAmount is what the user really spent: their owed share for an
// expense, nothing for a settlement.
func effectiveAmount(sw *domain.Transaction, kind Kind) decimal.Decimal {
	if kind == KindSettlement {
		return decimal.Zero
	}
	if s, ok := sw.Metadata["user_owed_share"].(string); ok {
		if v, err := decimal.NewFromString(s); err == nil {
			return v
		}
	}
	if sw.EffectiveAmount != nil {
		return *sw.EffectiveAmount
	}
	return sw.Amount
}

func daysApart(a, b *domain.Transaction) int {
	d := a.Date.DaysSince(b.Date)
	if d < 0 {
		return -d
	}
	return d
}

func flag(meta map[string]any, key string) bool {
	switch v := meta[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func idText(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
