package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/rules"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// RuleInput is a rule as submitted by a user.
type RuleInput struct {
	Name       string `json:"name" validate:"required,max=128"`
	Priority   int    `json:"priority" validate:"gte=0"`
	Type       string `json:"rule_type" validate:"required,oneof=MERCHANT DESCRIPTION_PATTERN AMOUNT_RANGE"`
	Conditions string `json:"conditions" validate:"required,json"`
	CategoryID int64  `json:"category_id" validate:"gt=0"`
}

// previewRuleID marks the unsaved rule during a preview.
const previewRuleID = -1

// rule validates in and decodes its predicate.
func (s *Service) rule(in RuleInput) (*domain.CategorizationRule, error) {
	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := rules.Decode(domain.RuleType(in.Type), in.Conditions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return &domain.CategorizationRule{
		Name:       strings.TrimSpace(in.Name),
		Priority:   in.Priority,
		RuleType:   domain.RuleType(in.Type),
		Conditions: in.Conditions,
		CategoryID: in.CategoryID,
		Active:     true,
	}, nil
}

func checkCategory(ctx context.Context, repo store.Repository, id int64) error {
	if _, err := repo.GetCategory(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownCategory, id)
		}
		return err
	}
	return nil
}

// Preview lists the changes a new rule would cause, without writing anything.
// Only changes attributed to the new rule are returned.
func (s *Service) Preview(ctx context.Context, in RuleInput) ([]Change, error) {
	r, err := s.rule(in)
	if err != nil {
		return nil, fmt.Errorf("Preview: %w", err)
	}
	r.ID = previewRuleID
	r.CreatedAt = s.now()

	var changes []Change
	err = s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if err := checkCategory(ctx, repo, r.CategoryID); err != nil {
			return err
		}
		report, err := s.recategorize(ctx, repo, store.TransactionFilter{ExcludeManual: true}, true, []*domain.CategorizationRule{r})
		if err != nil {
			return err
		}
		trigger := rules.RuleTrigger(previewRuleID)
		for _, c := range report.Changes {
			if c.Trigger == trigger {
				changes = append(changes, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Preview: %w", err)
	}
	return changes, nil
}

// CreateRuleAndApply stores a validated rule and runs a categorization pass
// over every transaction.
func (s *Service) CreateRuleAndApply(ctx context.Context, in RuleInput) (*domain.CategorizationRule, *Report, error) {
	r, err := s.rule(in)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateRuleAndApply: %w", err)
	}
	var report *Report
	err = s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if err := checkCategory(ctx, repo, r.CategoryID); err != nil {
			return err
		}
		r.ID = 0
		r.CreatedAt = s.now()
		if err := repo.InsertRule(ctx, r); err != nil {
			return err
		}
		report, err = s.recategorize(ctx, repo, store.TransactionFilter{}, false, nil)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("CreateRuleAndApply: %w", err)
	}
	return r, report, nil
}

// ListRules returns every stored rule in evaluation order.
func (s *Service) ListRules(ctx context.Context) ([]*domain.CategorizationRule, error) {
	rows, err := s.store.ListRules(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	return rows, nil
}

// SetRuleActive enables or disables a rule. Existing assignments are only
// revisited by the next categorization pass.
func (s *Service) SetRuleActive(ctx context.Context, id int64, active bool) error {
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		r, err := repo.GetRule(ctx, id)
		if err != nil {
			return err
		}
		r.Active = active
		return repo.UpdateRule(ctx, r)
	})
	if err != nil {
		return fmt.Errorf("SetRuleActive: %w", err)
	}
	return nil
}
