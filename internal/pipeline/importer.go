// Package pipeline imports statement files: detect, parse, normalize, then
// deduplicate and categorize inside one store transaction per file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dvloznov/finance-ingest/internal/categorize"
	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/rules"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// errDryRun rolls back a dry-run commit.
var errDryRun = errors.New("dry run")

// Input is one file to import.
type Input struct {
	// Path is a local path or a gs:// URI. It is also the display name.
	Path string
	// Content, when set, is used instead of reading Path.
	Content []byte
	// Params are explicit parser parameters such as a password.
	Params parser.Params
	// Parser forces a parser by name and skips detection.
	Parser string
}

// Fetcher reads remote inputs.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// RuleLoader compiles the categorization state inside a commit.
type RuleLoader func(ctx context.Context, repo store.Repository, extra ...*domain.CategorizationRule) (*rules.Engine, *categorize.MerchantIndex, []rules.Warning, error)

// Options configure an Importer.
type Options struct {
	Workers int
	// Strict makes statement reconciliation mismatches fatal.
	Strict bool
	// DryRun runs every step, then rolls back each commit.
	DryRun    bool
	Passwords parser.PasswordSource
	Fetcher   Fetcher
	Rules     RuleLoader
	Now       func() time.Time
}

// Importer runs imports. It is safe for concurrent use; commits are
// serialized.
type Importer struct {
	registry *parser.Registry
	detector *parser.Detector
	store    store.Store
	dedup    *dedup.Engine
	opts     Options
	prepare  *Pipeline

	commitMu sync.Mutex
}

// NewImporter wires an importer.
func NewImporter(registry *parser.Registry, detector *parser.Detector, s store.Store, engine *dedup.Engine, opts Options) *Importer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Rules == nil {
		opts.Rules = categorize.LoadEngine
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	im := &Importer{registry: registry, detector: detector, store: s, dedup: engine, opts: opts}
	im.prepare = NewPipeline(
		&ReadStep{Fetcher: opts.Fetcher},
		&DuplicateFileStep{Store: s},
		&DetectStep{Registry: registry, Detector: detector},
		&ParamsStep{Passwords: opts.Passwords},
		&ParseStep{},
		&ReconcileStep{Strict: opts.Strict},
		&NormalizeStep{},
	)
	return im
}

// ImportFile imports a single file.
func (im *Importer) ImportFile(ctx context.Context, in Input) *FileReport {
	state := im.run(ctx, in)
	if state.Report.Status == "" {
		im.commit(ctx, state)
	}
	return state.Report
}

// ImportBatch imports files with a bounded pool of parse workers. Commits
// happen one at a time in input order. Cancelling ctx stops the batch
// between files: committed files stay, the rest are reported CANCELLED.
func (im *Importer) ImportBatch(ctx context.Context, inputs []Input) *BatchReport {
	batch := &BatchReport{ID: uuid.NewString()}
	ctx = logger.ContextWithFields(ctx, map[string]any{"batch_id": batch.ID})
	log := logger.FromContext(ctx)

	states := make([]*PipelineState, len(inputs))
	ready := make([]chan struct{}, len(inputs))
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	go func() {
		var g errgroup.Group
		g.SetLimit(im.opts.Workers)
		for i, in := range inputs {
			i, in := i, in
			g.Go(func() error {
				defer close(ready[i])
				if ctx.Err() != nil {
					states[i] = cancelled(in)
					return nil
				}
				states[i] = im.run(ctx, in)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for i := range inputs {
		<-ready[i]
		state := states[i]
		if state.Report.Status == "" {
			if ctx.Err() != nil {
				state.Report.Status = StatusCancelled
				state.Report.Error = ctx.Err().Error()
			} else {
				im.commit(ctx, state)
			}
		}
		batch.add(state.Report)
	}

	counts := batch.Counts()
	log.Info().
		Int("files", len(inputs)).
		Int("inserted", batch.Inserted).
		Int("upgraded", batch.Upgraded).
		Int("dropped", batch.Dropped).
		Int("failed", counts[StatusFailed]).
		Int("duplicate_files", counts[StatusDuplicateFile]).
		Int("cancelled", counts[StatusCancelled]).
		Msg("batch import finished")
	return batch
}

func cancelled(in Input) *PipelineState {
	return &PipelineState{Input: in, Report: &FileReport{Path: in.Path, Status: StatusCancelled, Error: context.Canceled.Error()}}
}

// run executes the preparation steps. A report with an empty status is
// ready to commit.
func (im *Importer) run(ctx context.Context, in Input) *PipelineState {
	start := time.Now()
	state := &PipelineState{Input: in, Report: &FileReport{Path: in.Path, DryRun: im.opts.DryRun}}
	ctx = logger.ContextWithFields(ctx, map[string]any{"file": in.Path})

	err := im.prepare.Execute(ctx, state)
	state.Report.Duration = time.Since(start)
	switch {
	case errors.Is(err, errSkip):
		logger.Ctx(ctx).Info().Str("status", string(state.Report.Status)).Msg("file skipped")
	case err != nil:
		state.Report.fail(err)
		logger.Ctx(ctx).Error().Err(err).Str("code", string(state.Report.ErrorCode)).Msg("file import failed")
	}
	return state
}

// commit deduplicates and stores the candidates of one file atomically.
func (im *Importer) commit(ctx context.Context, state *PipelineState) {
	im.commitMu.Lock()
	defer im.commitMu.Unlock()

	start := time.Now()
	report := state.Report
	ctx = logger.ContextWithFields(ctx, map[string]any{"file": report.Path, "parser": report.Parser})
	log := logger.FromContext(ctx)

	var outcome commitOutcome
	err := im.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		// InTx may retry, so every attempt starts from scratch.
		outcome = commitOutcome{}
		if err := im.commitFile(ctx, repo, state, &outcome); err != nil {
			return err
		}
		if im.opts.DryRun {
			return errDryRun
		}
		return nil
	})
	report.Duration += time.Since(start)
	if err != nil && !errors.Is(err, errDryRun) {
		report.fail(fmt.Errorf("commit: %w", err))
		log.Error().Err(err).Msg("file import failed")
		return
	}

	report.SourceFileID = outcome.sourceFileID
	if outcome.duplicate {
		report.Status = StatusDuplicateFile
		log.Info().Int64("source_file_id", outcome.sourceFileID).Msg("file already imported")
		return
	}
	report.Inserted = outcome.inserted
	report.Upgraded = outcome.upgraded
	report.Dropped = outcome.dropped
	report.Categorized = outcome.categorized
	report.finish()

	log.Info().
		Str("status", string(report.Status)).
		Int64("source_file_id", report.SourceFileID).
		Int("parsed", report.Parsed).
		Int("inserted", report.Inserted).
		Int("upgraded", report.Upgraded).
		Int("dropped", report.Dropped).
		Int("row_errors", len(report.RowErrors)).
		Bool("dry_run", im.opts.DryRun).
		Msg("file imported")
}

type commitOutcome struct {
	duplicate    bool
	sourceFileID int64
	inserted     int
	upgraded     int
	dropped      int
	categorized  int
}

func (im *Importer) commitFile(ctx context.Context, repo store.Repository, state *PipelineState, out *commitOutcome) error {
	log := logger.FromContext(ctx)
	report := state.Report

	existing, err := repo.FindSourceFileByHash(ctx, report.Hash)
	switch {
	case err == nil:
		out.duplicate = true
		out.sourceFileID = existing.ID
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	sf := &domain.SourceFile{
		ContentHash: report.Hash,
		Path:        state.File.Path,
		Size:        state.File.Size,
		SourceType:  state.Parser.Descriptor().SourceType,
		ParserName:  state.Parser.Descriptor().Name,
		ImportedAt:  im.opts.Now(),
		Metadata:    sourceFileMetadata(state),
	}
	if err := repo.InsertSourceFile(ctx, sf); err != nil {
		if errors.Is(err, store.ErrConflict) {
			out.duplicate = true
			return nil
		}
		return err
	}
	out.sourceFileID = sf.ID

	engine, merchants, warnings, err := im.opts.Rules(ctx, repo)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Warn().Int64("rule_id", w.RuleID).Msg(w.Message)
	}

	now := im.opts.Now()
	upgradeTrigger := "upgrade:" + strconv.FormatInt(sf.ID, 10)
	claims := dedup.Claims{}
	for _, cand := range state.Candidates {
		tx := *cand
		tx.SourceFileID = sf.ID

		d, err := im.dedup.Resolve(ctx, repo, &tx, claims)
		if err != nil {
			return err
		}
		switch d.Action {
		case dedup.ActionInsert:
			tx.Fingerprint = d.Fingerprint
			res := categorize.Apply(&tx, merchants, engine, now)
			if err := repo.InsertTransaction(ctx, &tx); err != nil {
				return err
			}
			history := res.History
			if tx.CleanedDescription != tx.OriginalDescription {
				history = append([]*domain.TransformationHistory{{
					Field:     "cleaned_description",
					OldValue:  tx.OriginalDescription,
					NewValue:  tx.CleanedDescription,
					Type:      domain.TransformNormalize,
					Trigger:   "normalizer",
					CreatedAt: now,
				}}, history...)
			}
			for _, h := range history {
				h.TransactionID = tx.ID
			}
			if err := repo.AppendHistory(ctx, history...); err != nil {
				return err
			}
			claims[tx.ID] = true
			out.inserted++
			if res.CategoryChanged() {
				out.categorized++
			}

		case dedup.ActionUpgrade:
			row := d.Existing
			var history []*domain.TransformationHistory
			for _, c := range dedup.Upgrade(row, &tx, d.Fingerprint) {
				history = append(history, &domain.TransformationHistory{
					TransactionID: row.ID,
					Field:         c.Field,
					OldValue:      c.OldValue,
					NewValue:      c.NewValue,
					Type:          domain.TransformUpgrade,
					Trigger:       upgradeTrigger,
					CreatedAt:     now,
				})
			}
			if !row.IsCategoryManual {
				res := categorize.Apply(row, merchants, engine, now)
				history = append(history, res.History...)
				if res.CategoryChanged() {
					out.categorized++
				}
			}
			if err := repo.UpdateTransaction(ctx, row); err != nil {
				return err
			}
			if err := repo.AppendHistory(ctx, history...); err != nil {
				return err
			}
			claims[row.ID] = true
			out.upgraded++
			log.Debug().Int64("transaction_id", row.ID).Str("reason", d.Reason).Float64("score", d.Score).Msg("upgraded transaction")

		case dedup.ActionDrop:
			claims[d.Existing.ID] = true
			out.dropped++
			log.Debug().Int64("transaction_id", d.Existing.ID).Str("fingerprint", d.Fingerprint).Str("reason", d.Reason).Msg("dropped duplicate")
		}
	}
	return nil
}

func sourceFileMetadata(state *PipelineState) map[string]any {
	meta := map[string]any{}
	for k, v := range state.Result.Metadata {
		meta[k] = v
	}
	if rec := state.Result.Reconciliation; rec != nil {
		meta["reconciliation"] = rec.Map()
	}
	meta["row_errors"] = len(state.Result.Errors)
	meta["warnings"] = len(state.Result.Warnings)
	meta["parser_version"] = state.Parser.Descriptor().Version
	if state.Report.Fallback {
		meta["fallback"] = true
	}
	return meta
}
