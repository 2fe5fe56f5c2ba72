package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/normalizer"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// errSkip stops a pipeline early without failing the file.
var errSkip = errors.New("skip")

// PipelineStep represents a single step in the preparation of one file.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all steps for one file.
type PipelineState struct {
	Input Input

	File      *parser.File
	Detection *parser.Detection
	Parser    parser.Parser
	Params    parser.Params
	Result    *parser.Result
	// Candidates are the normalized records, ready for deduplication.
	Candidates []*domain.Transaction

	Report *FileReport
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially. It stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			if errors.Is(err, errSkip) {
				return err
			}
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// ReadStep loads the file content, from the input itself, a remote fetcher
// or the local disk.
type ReadStep struct {
	Fetcher Fetcher
}

func (s *ReadStep) Name() string { return "read" }

func (s *ReadStep) Execute(ctx context.Context, state *PipelineState) error {
	in := state.Input
	switch {
	case in.Content != nil:
		state.File = parser.NewFile(in.Path, in.Content)
	case strings.HasPrefix(in.Path, "gs://"):
		if s.Fetcher == nil {
			return fmt.Errorf("no fetcher configured for %s", in.Path)
		}
		content, err := s.Fetcher.Fetch(ctx, in.Path)
		if err != nil {
			return err
		}
		state.File = parser.NewFile(in.Path, content)
	default:
		f, err := parser.ReadFile(in.Path)
		if err != nil {
			return err
		}
		state.File = f
	}
	state.Report.Hash = state.File.Hash()
	return nil
}

// DuplicateFileStep short-circuits files whose bytes were already imported.
// The commit repeats the check inside its transaction.
type DuplicateFileStep struct {
	Store store.Repository
}

func (s *DuplicateFileStep) Name() string { return "duplicate_file" }

func (s *DuplicateFileStep) Execute(ctx context.Context, state *PipelineState) error {
	sf, err := s.Store.FindSourceFileByHash(ctx, state.Report.Hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	state.Report.Status = StatusDuplicateFile
	state.Report.SourceFileID = sf.ID
	state.Report.Parser = sf.ParserName
	return errSkip
}

// DetectStep selects the parser, or uses the one named in the input.
type DetectStep struct {
	Registry *parser.Registry
	Detector *parser.Detector
}

func (s *DetectStep) Name() string { return "detect" }

func (s *DetectStep) Execute(ctx context.Context, state *PipelineState) error {
	if name := state.Input.Parser; name != "" {
		p, err := s.Registry.Get(name)
		if err != nil {
			return err
		}
		state.Parser = p
		state.Report.Parser = name
		return nil
	}
	det, err := s.Detector.Detect(ctx, state.File)
	if err != nil {
		return err
	}
	state.Detection = det
	state.Parser = det.Parser
	state.Report.Parser = det.Name
	state.Report.Fallback = det.Fallback
	state.Report.Warnings = append(state.Report.Warnings, det.Warnings...)
	return nil
}

// ParamsStep resolves the parser parameters. Passwords come from the input
// first, then from the configured secrets.
type ParamsStep struct {
	Passwords parser.PasswordSource
}

func (s *ParamsStep) Name() string { return "params" }

func (s *ParamsStep) Execute(ctx context.Context, state *PipelineState) error {
	params, err := parser.ResolveParams(state.Parser.Descriptor(), state.Input.Params, s.Passwords)
	if err != nil {
		return err
	}
	state.Params = params
	return nil
}

// ParseStep runs the parser. A file with row errors and no usable record
// fails here so that nothing is committed for it.
type ParseStep struct{}

func (s *ParseStep) Name() string { return "parse" }

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	res, err := state.Parser.Parse(ctx, state.File, state.Params)
	if err != nil {
		return err
	}
	state.Result = res
	state.Report.RowErrors = res.Errors
	state.Report.Warnings = append(state.Report.Warnings, res.Warnings...)
	state.Report.Reconciliation = res.Reconciliation
	if len(res.Transactions) == 0 {
		return parser.NewError(parser.ErrNoTransactions, state.Parser.Descriptor().Name,
			fmt.Sprintf("no valid transactions, %d row errors", len(res.Errors)), nil)
	}
	return nil
}

// ReconcileStep makes statement total mismatches fatal in strict mode.
type ReconcileStep struct {
	Strict bool
}

func (s *ReconcileStep) Name() string { return "reconcile" }

func (s *ReconcileStep) Execute(ctx context.Context, state *PipelineState) error {
	rec := state.Result.Reconciliation
	if rec == nil || !rec.Mismatch() {
		return nil
	}
	if s.Strict {
		return fmt.Errorf("statement totals do not reconcile: %s", rec.Summary())
	}
	logger.Ctx(ctx).Warn().Str("file", state.File.Name).Str("reconciliation", rec.Summary()).Msg("statement totals do not reconcile")
	return nil
}

// NormalizeStep turns raw records into candidate transactions.
type NormalizeStep struct{}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	st := state.Parser.Descriptor().SourceType
	state.Candidates = make([]*domain.Transaction, 0, len(state.Result.Transactions))
	for _, raw := range state.Result.Transactions {
		state.Candidates = append(state.Candidates, Candidate(raw, st))
	}
	state.Report.Parsed = len(state.Candidates)
	return nil
}

// Candidate builds the transaction a raw record would be stored as.
func Candidate(raw domain.RawTransaction, st domain.SourceType) *domain.Transaction {
	norm := normalizer.Normalize(raw.OriginalDescription)
	meta := make(map[string]any, len(raw.Metadata)+len(norm.Metadata)+1)
	for k, v := range raw.Metadata {
		meta[k] = v
	}
	for k, v := range norm.Metadata {
		meta[k] = v
	}
	if raw.SourceLine > 0 {
		meta["source_line"] = raw.SourceLine
	}
	var posted *civil.Date
	if raw.PostedDate != nil {
		d := *raw.PostedDate
		posted = &d
	}
	return &domain.Transaction{
		SourceType:          st,
		FidelityRank:        dedup.FidelityRank(st),
		Ledger:              dedup.LedgerOf(st),
		Date:                raw.TransactionDate,
		PostedDate:          posted,
		Amount:              raw.Amount,
		Currency:            raw.Currency,
		Type:                raw.Type,
		OriginalDescription: raw.OriginalDescription,
		CleanedDescription:  norm.Cleaned,
		MatchKey:            norm.MatchKey,
		MerchantHints:       norm.MerchantHints,
		ExternalID:          raw.ExternalID,
		Tags:                []string{},
		Metadata:            meta,
	}
}
