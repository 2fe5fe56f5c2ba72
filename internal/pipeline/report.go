package pipeline

import (
	"time"

	"github.com/dvloznov/finance-ingest/internal/parser"
)

// Status is the outcome of importing one file.
type Status string

const (
	StatusSuccess       Status = "SUCCESS"
	StatusPartial       Status = "PARTIAL"
	StatusDuplicateFile Status = "DUPLICATE_FILE"
	StatusFailed        Status = "FAILED"
	StatusCancelled     Status = "CANCELLED"
)

// FileReport describes what happened to one input file.
type FileReport struct {
	Path         string           `json:"path"`
	Hash         string           `json:"hash,omitempty"`
	Parser       string           `json:"parser,omitempty"`
	Fallback     bool             `json:"fallback,omitempty"`
	SourceFileID int64            `json:"source_file_id,omitempty"`
	Status       Status           `json:"status"`
	ErrorCode    parser.ErrorCode `json:"error_code,omitempty"`
	Error        string           `json:"error,omitempty"`

	Parsed      int `json:"parsed"`
	Inserted    int `json:"inserted"`
	Upgraded    int `json:"upgraded"`
	Dropped     int `json:"dropped"`
	Categorized int `json:"categorized"`

	RowErrors      []parser.RowError      `json:"row_errors,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
	Reconciliation *parser.Reconciliation `json:"reconciliation,omitempty"`
	DryRun         bool                   `json:"dry_run,omitempty"`
	Duration       time.Duration          `json:"duration_ns"`

	err error
}

// Err returns the error that failed the file, if any.
func (r *FileReport) Err() error {
	return r.err
}

func (r *FileReport) fail(err error) {
	r.Status = StatusFailed
	r.err = err
	r.Error = err.Error()
	r.ErrorCode = parser.CodeOf(err)
}

// finish sets the final status of a committed file.
func (r *FileReport) finish() {
	switch {
	case len(r.RowErrors) == 0:
		r.Status = StatusSuccess
	case r.Parsed > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusFailed
		r.Error = "every row failed to parse"
	}
}

// BatchReport aggregates the reports of one ImportBatch call.
type BatchReport struct {
	ID       string        `json:"id"`
	Files    []*FileReport `json:"files"`
	Inserted int           `json:"inserted"`
	Upgraded int           `json:"upgraded"`
	Dropped  int           `json:"dropped"`
	Failed   int           `json:"failed"`
}

func (b *BatchReport) add(r *FileReport) {
	b.Files = append(b.Files, r)
	b.Inserted += r.Inserted
	b.Upgraded += r.Upgraded
	b.Dropped += r.Dropped
	if r.Status == StatusFailed {
		b.Failed++
	}
}

// Counts returns the number of files per status.
func (b *BatchReport) Counts() map[Status]int {
	out := map[Status]int{}
	for _, r := range b.Files {
		out[r.Status]++
	}
	return out
}
