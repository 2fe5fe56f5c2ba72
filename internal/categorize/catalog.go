package categorize

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/normalizer"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// MerchantInput describes a new merchant.
type MerchantInput struct {
	Name              string   `json:"name" validate:"required,max=128"`
	Aliases           []string `json:"aliases" validate:"dive,required"`
	DefaultCategoryID *int64   `json:"default_category_id" validate:"omitempty,gt=0"`
}

// CreateMerchant stores a merchant. Existing transactions pick it up on the
// next categorization pass.
func (s *Service) CreateMerchant(ctx context.Context, in MerchantInput) (*domain.Merchant, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("CreateMerchant: %w: %v", ErrInvalidInput, err)
	}
	m := &domain.Merchant{
		Name:              strings.TrimSpace(in.Name),
		NormalizedName:    normalizer.MatchKey(in.Name),
		Aliases:           dedupeFold(in.Aliases),
		DefaultCategoryID: in.DefaultCategoryID,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if m.DefaultCategoryID != nil {
			if err := checkCategory(ctx, repo, *m.DefaultCategoryID); err != nil {
				return err
			}
		}
		return repo.InsertMerchant(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("CreateMerchant: %w", err)
	}
	return m, nil
}

// AddAlias adds alias to a merchant. Adding an alias twice is a no-op.
func (s *Service) AddAlias(ctx context.Context, merchantID int64, alias string) (*domain.Merchant, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil, fmt.Errorf("AddAlias: %w: empty alias", ErrInvalidInput)
	}
	var m *domain.Merchant
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		m, err = repo.GetMerchant(ctx, merchantID)
		if err != nil {
			return err
		}
		merged := dedupeFold(append(m.Aliases, alias))
		if len(merged) == len(m.Aliases) {
			return nil
		}
		m.Aliases = merged
		return repo.UpdateMerchant(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("AddAlias: %w", err)
	}
	return m, nil
}

// SetDefaultCategory sets or clears (nil) a merchant's default category.
func (s *Service) SetDefaultCategory(ctx context.Context, merchantID int64, categoryID *int64) (*domain.Merchant, error) {
	var m *domain.Merchant
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if categoryID != nil {
			if err := checkCategory(ctx, repo, *categoryID); err != nil {
				return err
			}
		}
		var err error
		m, err = repo.GetMerchant(ctx, merchantID)
		if err != nil {
			return err
		}
		m.DefaultCategoryID = categoryID
		return repo.UpdateMerchant(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("SetDefaultCategory: %w", err)
	}
	return m, nil
}

// ListMerchants returns every merchant.
func (s *Service) ListMerchants(ctx context.Context) ([]*domain.Merchant, error) {
	ms, err := s.store.ListMerchants(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListMerchants: %w", err)
	}
	return ms, nil
}

// CategoryInput describes a new category.
type CategoryInput struct {
	Name     string `json:"name" validate:"required,max=64"`
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	Color    string `json:"color" validate:"omitempty,hexcolor"`
	Icon     string `json:"icon" validate:"max=32"`
}

// CreateCategory stores a category under an optional parent.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (*domain.Category, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("CreateCategory: %w: %v", ErrInvalidInput, err)
	}
	c := &domain.Category{Name: strings.TrimSpace(in.Name), ParentID: in.ParentID, Color: in.Color, Icon: in.Icon}
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if c.ParentID != nil {
			if err := checkCategory(ctx, repo, *c.ParentID); err != nil {
				return err
			}
		}
		return repo.InsertCategory(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("CreateCategory: %w", err)
	}
	return c, nil
}

// CategoryNode is a category with its children.
type CategoryNode struct {
	*domain.Category
	Children []*CategoryNode `json:"children,omitempty"`
}

// CategoryTree returns the categories as a forest ordered by name. A
// category whose parent is missing is treated as a root.
func (s *Service) CategoryTree(ctx context.Context) ([]*CategoryNode, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("CategoryTree: %w", err)
	}
	nodes := make(map[int64]*CategoryNode, len(cats))
	for _, c := range cats {
		nodes[c.ID] = &CategoryNode{Category: c}
	}
	var roots []*CategoryNode
	for _, c := range cats {
		n := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok && *c.ParentID != c.ID {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	sortNodes(roots)
	return roots, nil
}

func sortNodes(nodes []*CategoryNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// AddTag tags a transaction. Tags compare case-insensitively.
func (s *Service) AddTag(ctx context.Context, txID int64, tag string) (*domain.Transaction, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, fmt.Errorf("AddTag: %w: empty tag", ErrInvalidInput)
	}
	tx, err := s.retag(ctx, txID, func(tx *domain.Transaction) []string {
		if tx.HasTag(tag) {
			return nil
		}
		return append(append([]string{}, tx.Tags...), tag)
	})
	if err != nil {
		return nil, fmt.Errorf("AddTag: %w", err)
	}
	return tx, nil
}

// RemoveTag removes a tag from a transaction.
func (s *Service) RemoveTag(ctx context.Context, txID int64, tag string) (*domain.Transaction, error) {
	tx, err := s.retag(ctx, txID, func(tx *domain.Transaction) []string {
		if !tx.HasTag(tag) {
			return nil
		}
		kept := []string{}
		for _, t := range tx.Tags {
			if !strings.EqualFold(t, tag) {
				kept = append(kept, t)
			}
		}
		return kept
	})
	if err != nil {
		return nil, fmt.Errorf("RemoveTag: %w", err)
	}
	return tx, nil
}

// retag applies edit to the tag set. edit returns nil when nothing changes.
func (s *Service) retag(ctx context.Context, txID int64, edit func(*domain.Transaction) []string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		tx, err := repo.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		out = tx
		tags := edit(tx)
		if tags == nil {
			return nil
		}
		h := &domain.TransformationHistory{
			TransactionID: tx.ID,
			Field:         "tags",
			OldValue:      strings.Join(tx.Tags, ","),
			NewValue:      strings.Join(tags, ","),
			Type:          domain.TransformTag,
			Trigger:       domain.TriggerManual,
			CreatedAt:     s.now(),
		}
		tx.Tags = tags
		if err := repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		return repo.AppendHistory(ctx, h)
	})
	return out, err
}

func dedupeFold(list []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, v := range list {
		v = strings.TrimSpace(v)
		k := strings.ToLower(v)
		if v == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
