package parser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dvloznov/finance-ingest/internal/logger"
)

// ErrNoParser is returned when detection finds no candidate and no fallback is set.
var ErrNoParser = errors.New("no parser can handle file")

// Weights are the per-signal contributions to a detection score.
type Weights struct {
	Format   float64
	Keyword  float64
	Filename float64
	Country  float64
}

// DefaultWeights sums to 1.0.
var DefaultWeights = Weights{Format: 0.3, Keyword: 0.3, Filename: 0.2, Country: 0.2}

// PasswordSource returns a configured secret for an issuing entity such as
// "hdfc", or "" when none is known.
type PasswordSource func(entity string) string

// DetectorOptions tune detection.
type DetectorOptions struct {
	Weights Weights
	TopN    int
	Country string
	// Passwords lets the detector peek into encrypted PDFs with configured
	// secrets. It is never asked of the caller.
	Passwords PasswordSource
}

// Features is the snapshot of a file used for scoring.
type Features struct {
	Name        string `json:"name"`
	Ext         string `json:"ext"`
	Size        int64  `json:"size"`
	Encrypted   bool   `json:"encrypted"`
	Decryptable bool   `json:"decryptable"`
	Sample      string `json:"-"`
}

// Candidate is one scored parser.
type Candidate struct {
	Name     string  `json:"name"`
	Priority int     `json:"priority"`
	Score    float64 `json:"score"`
	Checked  bool    `json:"checked"`
	Valid    bool    `json:"valid"`
}

// Detection is the outcome of Detect.
type Detection struct {
	Parser     Parser      `json:"-"`
	Name       string      `json:"parser"`
	Fallback   bool        `json:"fallback"`
	Features   Features    `json:"features"`
	Candidates []Candidate `json:"candidates"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Detector ranks registered parsers for files of unknown origin.
type Detector struct {
	registry *Registry
	opts     DetectorOptions

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewDetector creates a detector over registry.
func NewDetector(registry *Registry, opts DetectorOptions) *Detector {
	if opts.TopN <= 0 {
		opts.TopN = 3
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights
	}
	return &Detector{registry: registry, opts: opts, patterns: make(map[string]*regexp.Regexp)}
}

// Snapshot builds the feature set for f and stores the text sample on it so
// that CanParse implementations can reuse it.
func (d *Detector) Snapshot(f *File) Features {
	feat := Features{Name: f.Name, Ext: f.Ext, Size: f.Size}
	if !f.IsPDF() {
		feat.Sample = f.TextSample()
		return feat
	}

	feat.Encrypted = IsEncryptedPDF(f.Content)
	if f.Sample != "" {
		feat.Decryptable = true
		feat.Sample = f.Sample
		return feat
	}
	for _, pw := range d.passwordsToTry() {
		text, err := FirstPageText(f.Content, pw)
		if err != nil {
			continue
		}
		feat.Decryptable = true
		f.Sample = truncate(text, sampleLimit)
		break
	}
	feat.Sample = f.Sample
	return feat
}

func (d *Detector) passwordsToTry() []string {
	out := []string{""}
	if d.opts.Passwords == nil {
		return out
	}
	seen := map[string]bool{"": true}
	for _, p := range d.registry.All() {
		desc := p.Descriptor()
		if !desc.Requires(ParamPassword) {
			continue
		}
		if pw := d.opts.Passwords(desc.Entity); pw != "" && !seen[pw] {
			seen[pw] = true
			out = append(out, pw)
		}
	}
	return out
}

// Score computes the weighted match of desc against feat.
func (d *Detector) Score(desc Descriptor, feat Features) float64 {
	w := d.opts.Weights
	score := 0.0
	if desc.SupportsFormat(feat.Ext) {
		score += w.Format
	}
	if len(desc.Keywords) > 0 && feat.Sample != "" {
		sample := strings.ToUpper(strings.Join(strings.Fields(feat.Sample), " "))
		found := 0
		for _, kw := range desc.Keywords {
			if strings.Contains(sample, strings.ToUpper(kw)) {
				found++
			}
		}
		score += w.Keyword * float64(found) / float64(len(desc.Keywords))
	}
	if re := d.filenamePattern(desc); re != nil && re.MatchString(feat.Name) {
		score += w.Filename
	}
	if d.opts.Country != "" && strings.EqualFold(desc.Country, d.opts.Country) {
		score += w.Country
	}
	return score
}

func (d *Detector) filenamePattern(desc Descriptor) *regexp.Regexp {
	if desc.FilenamePattern == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if re, ok := d.patterns[desc.Name]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + desc.FilenamePattern)
	if err != nil {
		re = nil
	}
	d.patterns[desc.Name] = re
	return re
}

// Detect selects a parser for f. It never calls Parse.
func (d *Detector) Detect(ctx context.Context, f *File) (*Detection, error) {
	log := logger.FromContext(ctx)

	feat := d.Snapshot(f)
	det := &Detection{Features: feat}
	fallback := d.registry.Fallback()

	type ranked struct {
		parser Parser
		cand   Candidate
	}
	var all []ranked
	for _, p := range d.registry.All() {
		if fallback != nil && p == fallback {
			continue
		}
		desc := p.Descriptor()
		all = append(all, ranked{parser: p, cand: Candidate{Name: desc.Name, Priority: desc.Priority, Score: d.Score(desc, feat)}})
	}
	// Stable sort keeps registration order for exact ties.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].cand.Priority != all[j].cand.Priority {
			return all[i].cand.Priority > all[j].cand.Priority
		}
		return all[i].cand.Score > all[j].cand.Score
	})

	checked := 0
	selected := -1
	for i := range all {
		if all[i].cand.Score <= 0 || checked >= d.opts.TopN {
			continue
		}
		checked++
		all[i].cand.Checked = true
		all[i].cand.Valid = all[i].parser.CanParse(f)
		if all[i].cand.Valid && selected < 0 {
			selected = i
		}
	}

	for _, r := range all {
		det.Candidates = append(det.Candidates, r.cand)
	}

	if selected >= 0 {
		chosen := all[selected]
		var tied []string
		for i, r := range all {
			if i != selected && r.cand.Valid && r.cand.Priority == chosen.cand.Priority && r.cand.Score == chosen.cand.Score {
				tied = append(tied, r.cand.Name)
			}
		}
		if len(tied) > 0 {
			det.Warnings = append(det.Warnings, fmt.Sprintf("ambiguous detection: %s tied with %s", chosen.cand.Name, strings.Join(tied, ", ")))
		}
		det.Parser = chosen.parser
		det.Name = chosen.cand.Name
		log.Debug().Str("file", f.Name).Str("parser", det.Name).Float64("score", chosen.cand.Score).Msg("parser detected")
		return det, nil
	}

	if fallback != nil && fallback.CanParse(f) {
		det.Parser = fallback
		det.Name = fallback.Descriptor().Name
		det.Fallback = true
		log.Debug().Str("file", f.Name).Str("parser", det.Name).Msg("falling back to generic parser")
		return det, nil
	}
	return det, fmt.Errorf("Detect: %s: %w", f.Name, ErrNoParser)
}

// ResolveParams fills in a password for parsers that require one, preferring
// an explicit value, and checks required parameters.
func ResolveParams(desc Descriptor, explicit Params, passwords PasswordSource) (Params, error) {
	out := Params{}
	for k, v := range explicit {
		if v != "" {
			out[k] = v
		}
	}
	if desc.Requires(ParamPassword) && out[ParamPassword] == "" && passwords != nil {
		if pw := passwords(desc.Entity); pw != "" {
			out[ParamPassword] = pw
		}
	}
	if err := CheckParams(desc, out); err != nil {
		return nil, err
	}
	return out, nil
}
