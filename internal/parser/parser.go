// Package parser defines the plugin contract for statement parsers, the
// registry that holds them and the detector that picks one for an unknown file.
package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// Well-known parameter keys.
const (
	ParamPassword = "password"
	ParamProfile  = "profile"
	ParamUserID   = "user_id"
)

// sampleLimit caps the text peek used by detection and CanParse.
const sampleLimit = 4096

// Params carries caller-supplied arguments such as a decryption password.
type Params map[string]string

// Get returns the value for key, or "" when absent.
func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// File is an input document held in memory.
type File struct {
	Path    string
	Name    string
	Ext     string // lower case, without the dot
	Size    int64
	Content []byte

	// Sample is a short text peek. The detector fills it for PDFs it could
	// open; otherwise TextSample computes one lazily.
	Sample string
}

// NewFile wraps content read from path.
func NewFile(path string, content []byte) *File {
	name := filepath.Base(path)
	return &File{
		Path:    path,
		Name:    name,
		Ext:     strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		Size:    int64(len(content)),
		Content: content,
	}
}

// ReadFile loads a local file.
func ReadFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadFile: %w", err)
	}
	return NewFile(path, content), nil
}

// Hash returns the hex SHA-256 of the raw bytes.
func (f *File) Hash() string {
	sum := sha256.Sum256(f.Content)
	return hex.EncodeToString(sum[:])
}

// IsPDF reports whether the file looks like a PDF by extension or magic bytes.
func (f *File) IsPDF() bool {
	return f.Ext == "pdf" || strings.HasPrefix(string(f.head(5)), "%PDF-")
}

// TextSample returns up to 4KB of text for plausibility checks. For PDFs it is
// the first page when the document opens without a password.
func (f *File) TextSample() string {
	if f.Sample != "" {
		return f.Sample
	}
	if f.IsPDF() {
		if text, err := FirstPageText(f.Content, ""); err == nil {
			f.Sample = truncate(text, sampleLimit)
		}
		return f.Sample
	}
	f.Sample = truncate(strings.TrimPrefix(string(f.head(sampleLimit)), "\ufeff"), sampleLimit)
	return f.Sample
}

func (f *File) head(n int) []byte {
	if len(f.Content) < n {
		return f.Content
	}
	return f.Content[:n]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// Descriptor is the static, machine-readable description of a parser.
type Descriptor struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	SourceType      domain.SourceType `json:"source_type"`
	Formats         []string          `json:"supported_formats"`
	RequiredParams  []string          `json:"required_params"`
	OptionalParams  []string          `json:"optional_params,omitempty"`
	Entity          string            `json:"entity"`
	EntityType      string            `json:"entity_type"`
	Format          string            `json:"format"`
	Country         string            `json:"country"`
	Priority        int               `json:"detection_priority"`
	Keywords        []string          `json:"detection_keywords,omitempty"`
	FilenamePattern string            `json:"detection_filename,omitempty"`
	Version         string            `json:"parser_version"`
}

// HierarchyPath returns entity/entity_type/format.
func (d Descriptor) HierarchyPath() string {
	return d.Entity + "/" + d.EntityType + "/" + d.Format
}

// Requires reports whether the parser declares param as required.
func (d Descriptor) Requires(param string) bool {
	for _, p := range d.RequiredParams {
		if p == param {
			return true
		}
	}
	return false
}

// SupportsFormat reports whether ext is one of the declared formats.
func (d Descriptor) SupportsFormat(ext string) bool {
	for _, f := range d.Formats {
		if strings.EqualFold(f, ext) {
			return true
		}
	}
	return false
}

// Result is the outcome of a successful Parse. It may still carry row errors.
type Result struct {
	Transactions   []domain.RawTransaction
	Errors         []RowError
	Warnings       []string
	Metadata       map[string]any
	Reconciliation *Reconciliation
}

// NewResult returns an empty result with an initialized metadata map.
func NewResult() *Result {
	return &Result{Metadata: map[string]any{}}
}

// AddRowError records a malformed row and lets extraction continue.
func (r *Result) AddRowError(line int, field, format string, args ...any) {
	r.Errors = append(r.Errors, RowError{Line: line, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Warnf records a non-fatal observation.
func (r *Result) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Add appends a transaction after checking the canonical record invariants.
// A record that fails validation becomes a row error.
func (r *Result) Add(tx domain.RawTransaction) {
	if err := tx.Validate(); err != nil {
		r.AddRowError(tx.SourceLine, "", "%v", err)
		return
	}
	r.Transactions = append(r.Transactions, tx)
}

// Parser extracts canonical transactions from one document format.
type Parser interface {
	// Descriptor returns static metadata. It must not depend on the input.
	Descriptor() Descriptor

	// CanParse is a fast, side-effect-free plausibility check. It never
	// needs credentials.
	CanParse(f *File) bool

	// Parse extracts transactions. Malformed rows are reported in
	// Result.Errors; only whole-file failures return an *Error.
	Parse(ctx context.Context, f *File, params Params) (*Result, error)
}

// CheckParams verifies that every required parameter is present.
func CheckParams(d Descriptor, params Params) error {
	for _, key := range d.RequiredParams {
		if params.Get(key) == "" {
			return NewError(ErrMissingParam, d.Name, fmt.Sprintf("parameter %q is required", key), nil)
		}
	}
	return nil
}
