package categorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/rules"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput wraps validation failures of user-supplied input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownCategory is returned when a referenced category does not exist.
	ErrUnknownCategory = errors.New("unknown category")
)

// Service runs categorization passes and the explicit user actions on
// categories, rules, merchants and tags.
type Service struct {
	store    store.Store
	validate *validator.Validate
	now      func() time.Time
}

// NewService returns a Service backed by s.
func NewService(s store.Store) *Service {
	return &Service{
		store:    s,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Change describes one category change, applied or proposed.
type Change struct {
	TransactionID int64           `json:"transaction_id"`
	Date          string          `json:"date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	OldCategoryID *int64          `json:"old_category_id,omitempty"`
	NewCategoryID *int64          `json:"new_category_id,omitempty"`
	Trigger       string          `json:"trigger"`
}

// Report summarizes a categorization pass.
type Report struct {
	DryRun   bool            `json:"dry_run"`
	Scanned  int             `json:"scanned"`
	Manual   int             `json:"manual_skipped"`
	Changes  []Change        `json:"changes"`
	Warnings []rules.Warning `json:"warnings,omitempty"`
}

// Recategorize re-runs merchant resolution and the rule engine over the
// transactions matching filter. With dryRun nothing is written.
func (s *Service) Recategorize(ctx context.Context, filter store.TransactionFilter, dryRun bool) (*Report, error) {
	var report *Report
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		report, err = s.recategorize(ctx, repo, filter, dryRun, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Recategorize: %w", err)
	}
	return report, nil
}

// recategorize runs one pass inside a transaction. extra rules are compiled
// alongside the stored ones.
func (s *Service) recategorize(ctx context.Context, repo store.Repository, filter store.TransactionFilter, dryRun bool, extra []*domain.CategorizationRule) (*Report, error) {
	log := logger.FromContext(ctx)

	engine, merchants, warnings, err := LoadEngine(ctx, repo, extra...)
	if err != nil {
		return nil, err
	}
	txs, err := repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &Report{DryRun: dryRun, Warnings: warnings, Changes: []Change{}}
	now := s.now()
	for _, tx := range txs {
		report.Scanned++
		if tx.IsCategoryManual {
			report.Manual++
			continue
		}
		before := tx.CategoryID
		out := Apply(tx, merchants, engine, now)
		if out.CategoryChanged() {
			report.Changes = append(report.Changes, Change{
				TransactionID: tx.ID,
				Date:          tx.Date.String(),
				Description:   tx.Description(),
				Amount:        tx.Amount,
				OldCategoryID: before,
				NewCategoryID: tx.CategoryID,
				Trigger:       out.Decision.Trigger,
			})
		}
		if dryRun || !out.Dirty {
			continue
		}
		if err := repo.UpdateTransaction(ctx, tx); err != nil {
			return nil, err
		}
		if len(out.History) > 0 {
			if err := repo.AppendHistory(ctx, out.History...); err != nil {
				return nil, err
			}
		}
	}
	for _, w := range warnings {
		log.Warn().Int64("rule_id", w.RuleID).Str("rule", w.RuleName).Msg(w.Message)
	}
	log.Info().Int("scanned", report.Scanned).Int("changed", len(report.Changes)).Bool("dry_run", dryRun).Msg("categorization pass finished")
	return report, nil
}

// LoadEngine compiles the active rules plus extra and indexes the merchants.
func LoadEngine(ctx context.Context, repo store.Repository, extra ...*domain.CategorizationRule) (*rules.Engine, *MerchantIndex, []rules.Warning, error) {
	rows, err := repo.ListRules(ctx, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("LoadEngine: %w", err)
	}
	engine, warnings := rules.Compile(append(rows, extra...))
	ms, err := repo.ListMerchants(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("LoadEngine: %w", err)
	}
	return engine, NewMerchantIndex(ms), warnings, nil
}

// SetManual assigns categoryID to a transaction as an explicit user choice.
// No automatic pass changes it afterwards.
func (s *Service) SetManual(ctx context.Context, txID, categoryID int64) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if err := checkCategory(ctx, repo, categoryID); err != nil {
			return err
		}
		tx, err := repo.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		now := s.now()
		var history []*domain.TransformationHistory
		if tx.CategoryID == nil || *tx.CategoryID != categoryID {
			history = append(history, &domain.TransformationHistory{
				TransactionID: tx.ID,
				Field:         "category_id",
				OldValue:      formatID(tx.CategoryID),
				NewValue:      formatID(&categoryID),
				Type:          domain.TransformCategoryUser,
				Trigger:       domain.TriggerManual,
				CreatedAt:     now,
			})
		}
		if !tx.IsCategoryManual {
			history = append(history, manualFlagHistory(tx.ID, false, true, now))
		}
		out = tx
		if len(history) == 0 {
			return nil
		}
		tx.CategoryID = &categoryID
		tx.IsCategoryManual = true
		tx.AppliedRuleID = nil
		if err := repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		return repo.AppendHistory(ctx, history...)
	})
	if err != nil {
		return nil, fmt.Errorf("SetManual: %w", err)
	}
	return out, nil
}

// ClearManual drops the manual flag and lets the automatic decision take
// over again.
func (s *Service) ClearManual(ctx context.Context, txID int64) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		tx, err := repo.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		out = tx
		if !tx.IsCategoryManual {
			return nil
		}
		engine, merchants, _, err := LoadEngine(ctx, repo)
		if err != nil {
			return err
		}
		now := s.now()
		tx.IsCategoryManual = false
		history := []*domain.TransformationHistory{manualFlagHistory(tx.ID, true, false, now)}
		res := Apply(tx, merchants, engine, now)
		history = append(history, res.History...)
		if err := repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		return repo.AppendHistory(ctx, history...)
	})
	if err != nil {
		return nil, fmt.Errorf("ClearManual: %w", err)
	}
	return out, nil
}

func manualFlagHistory(txID int64, from, to bool, now time.Time) *domain.TransformationHistory {
	return &domain.TransformationHistory{
		TransactionID: txID,
		Field:         "is_category_manual",
		OldValue:      fmt.Sprint(from),
		NewValue:      fmt.Sprint(to),
		Type:          domain.TransformCategoryUser,
		Trigger:       domain.TriggerManual,
		CreatedAt:     now,
	}
}

// Explanation is the lineage of one transaction.
type Explanation struct {
	Transaction *domain.Transaction             `json:"transaction"`
	History     []*domain.TransformationHistory `json:"history"`
	// Current is what the automatic procedure would decide now.
	Current rules.Decision `json:"current"`
}

// Explain returns the audit history of a transaction and the decision the
// engine would make for it today.
func (s *Service) Explain(ctx context.Context, txID int64) (*Explanation, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("Explain: %w", err)
	}
	history, err := s.store.ListHistory(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("Explain: %w", err)
	}
	engine, merchants, _, err := LoadEngine(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("Explain: %w", err)
	}
	scratch := *tx
	merchant := merchants.Resolve(&scratch)
	if merchant == nil {
		merchant = merchants.Get(tx.MerchantID)
	}
	return &Explanation{
		Transaction: tx,
		History:     history,
		Current:     engine.Decide(&scratch, merchant),
	}, nil
}
