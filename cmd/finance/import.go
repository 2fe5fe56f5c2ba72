package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/infra/gcs"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
	"github.com/google/subcommands"
)

type importCmd struct {
	workers  int
	password string
	profile  string
	parser   string
	dryRun   bool
	json     bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import statement files into the ledger" }
func (*importCmd) Usage() string {
	return `finance import [-workers N] [-password P] [-profile NAME] [-parser NAME] [-dry-run] <path|gs://bucket/prefix>...

  Imports every file given. Directories and gs:// prefixes are expanded to
  the files below them. Files are parsed concurrently and committed in the
  order given; importing the same content twice is a no-op.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.workers, "workers", 0, "Parallel parse workers; overrides import.workers")
	f.StringVar(&c.password, "password", "", "Password for encrypted PDF statements")
	f.StringVar(&c.profile, "profile", "", "CSV profile for the generic CSV parser")
	f.StringVar(&c.parser, "parser", "", "Force a parser by name and skip detection")
	f.BoolVar(&c.dryRun, "dry-run", false, "Run every step and roll back")
	f.BoolVar(&c.json, "json", false, "Print the batch report as JSON")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usagef(f, "import needs at least one path")
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()
	log := logger.FromContext(ctx)

	var remote *gcs.Client
	for _, arg := range f.Args() {
		if gcs.IsURI(arg) {
			remote, err = gcs.NewClient(ctx)
			if err != nil {
				return failf("Error creating storage client: %v", err)
			}
			defer remote.Close()
			break
		}
	}

	paths, err := expandPaths(ctx, remote, f.Args())
	if err != nil {
		return failf("Error: %v", err)
	}
	if len(paths) == 0 {
		return failf("No files to import")
	}

	params := parser.Params{}
	if c.password != "" {
		params[parser.ParamPassword] = c.password
	}
	if c.profile != "" {
		params[parser.ParamProfile] = c.profile
	}
	inputs := make([]pipeline.Input, 0, len(paths))
	for _, p := range paths {
		inputs = append(inputs, pipeline.Input{Path: p, Params: params, Parser: c.parser})
	}

	opts := app.ImportOptions{Workers: c.workers, DryRun: c.dryRun}
	if remote != nil {
		opts.Fetcher = remote
	}
	batch := a.Importer(opts).ImportBatch(ctx, inputs)
	log.Info().Str("batch_id", batch.ID).Int("files", len(batch.Files)).Int("inserted", batch.Inserted).Int("failed", batch.Failed).Msg("import finished")

	if c.json {
		if st := printJSON(batch); st != subcommands.ExitSuccess {
			return st
		}
	} else {
		printBatch(batch)
	}
	if batch.Failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// expandPaths turns directories and gs:// prefixes into file paths, keeping
// the order the user gave.
func expandPaths(ctx context.Context, remote *gcs.Client, args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if gcs.IsURI(arg) {
			uris, err := remote.List(ctx, arg)
			if err != nil {
				return nil, err
			}
			out = append(out, uris...)
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasPrefix(d.Name(), ".") {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printBatch(b *pipeline.BatchReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tPARSER\tPARSED\tINSERTED\tUPGRADED\tDROPPED\tERRORS")
	for _, r := range b.Files {
		name := r.Parser
		if r.Fallback {
			name += " (fallback)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", r.Path, r.Status, name, r.Parsed, r.Inserted, r.Upgraded, r.Dropped, len(r.RowErrors))
	}
	w.Flush()

	for _, r := range b.Files {
		if r.Error != "" {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", r.Path, r.ErrorCode, r.Error)
		}
		for _, re := range r.RowErrors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Path, re)
		}
		for _, warn := range r.Warnings {
			fmt.Fprintf(os.Stderr, "%s: warning: %s\n", r.Path, warn)
		}
		if r.Reconciliation != nil && r.Reconciliation.Mismatch() {
			fmt.Fprintf(os.Stderr, "%s: reconciliation: %s\n", r.Path, r.Reconciliation.Summary())
		}
	}
	fmt.Printf("inserted %d, upgraded %d, dropped %d, failed files %d\n", b.Inserted, b.Upgraded, b.Dropped, b.Failed)
}

type parsersCmd struct{}

func (*parsersCmd) Name() string             { return "parsers" }
func (*parsersCmd) Synopsis() string         { return "list registered parsers" }
func (*parsersCmd) Usage() string            { return "finance parsers\n" }
func (*parsersCmd) SetFlags(f *flag.FlagSet) {}

func (*parsersCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	fallback := ""
	if fb := a.Registry.Fallback(); fb != nil {
		fallback = fb.Descriptor().Name
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tFORMATS\tPRIORITY\tPARAMS\tDESCRIPTION")
	for _, d := range a.Registry.Describe() {
		name := d.Name
		if name == fallback {
			name += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", name, d.SourceType, strings.Join(d.Formats, ","), d.Priority, paramList(d), d.Description)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// paramList renders required params plainly and optional ones in brackets.
func paramList(d parser.Descriptor) string {
	out := append([]string{}, d.RequiredParams...)
	for _, p := range d.OptionalParams {
		out = append(out, "["+p+"]")
	}
	return strings.Join(out, ",")
}

type detectCmd struct {
	json bool
}

func (*detectCmd) Name() string     { return "detect" }
func (*detectCmd) Synopsis() string { return "show which parser would read a file" }
func (*detectCmd) Usage() string {
	return `finance detect [-json] <file>

  Scores every registered parser against the file and prints the ranking.
`
}

func (c *detectCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print the detection as JSON")
}

func (c *detectCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usagef(f, "detect needs exactly one file")
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	file, err := readFile(f.Arg(0))
	if err != nil {
		return failf("Error: %v", err)
	}
	det, err := a.Detector.Detect(ctx, file)
	if det != nil && c.json {
		printJSON(det)
	} else if det != nil {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PARSER\tSCORE\tPRIORITY\tCHECKED\tVALID")
		for _, cand := range det.Candidates {
			fmt.Fprintf(w, "%s\t%.2f\t%d\t%t\t%t\n", cand.Name, cand.Score, cand.Priority, cand.Checked, cand.Valid)
		}
		w.Flush()
		for _, warn := range det.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", warn)
		}
	}
	if err != nil {
		return failf("Error: %v", err)
	}
	suffix := ""
	if det.Fallback {
		suffix = " (fallback)"
	}
	fmt.Printf("selected: %s%s\n", det.Name, suffix)
	return subcommands.ExitSuccess
}

type parseCmd struct {
	password string
	profile  string
	parser   string
}

func (*parseCmd) Name() string     { return "parse" }
func (*parseCmd) Synopsis() string { return "parse a file and print its transactions without storing them" }
func (*parseCmd) Usage() string {
	return `finance parse [-parser NAME] [-password P] [-profile NAME] <file>
`
}

func (c *parseCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.password, "password", "", "Password for encrypted PDF statements")
	f.StringVar(&c.profile, "profile", "", "CSV profile for the generic CSV parser")
	f.StringVar(&c.parser, "parser", "", "Force a parser by name and skip detection")
}

func (c *parseCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usagef(f, "parse needs exactly one file")
	}
	ctx, a, err := openApp(ctx)
	if err != nil {
		return failf("Error: %v", err)
	}
	defer a.Close()

	file, err := readFile(f.Arg(0))
	if err != nil {
		return failf("Error: %v", err)
	}

	var p parser.Parser
	if c.parser != "" {
		p, err = a.Registry.Get(c.parser)
	} else {
		var det *parser.Detection
		det, err = a.Detector.Detect(ctx, file)
		if det != nil {
			p = det.Parser
		}
	}
	if err != nil {
		return failf("Error: %v", err)
	}

	explicit := parser.Params{parser.ParamPassword: c.password, parser.ParamProfile: c.profile}
	params, err := parser.ResolveParams(p.Descriptor(), explicit, a.Config.Secrets.PasswordFor)
	if err != nil {
		return failf("Error: %v", err)
	}
	res, err := p.Parse(ctx, file, params)
	if err != nil {
		return failf("Error: %v", err)
	}
	for _, re := range res.Errors {
		fmt.Fprintf(os.Stderr, "row error: %s\n", re)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warn)
	}
	return printJSON(map[string]interface{}{
		"parser":         p.Descriptor().Name,
		"count":          len(res.Transactions),
		"transactions":   res.Transactions,
		"metadata":       res.Metadata,
		"reconciliation": res.Reconciliation,
	})
}

func readFile(path string) (*parser.File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parser.NewFile(path, content), nil
}

type uploadCmd struct {
	bucket string
	prefix string
}

func (*uploadCmd) Name() string     { return "upload" }
func (*uploadCmd) Synopsis() string { return "upload statement files to Cloud Storage" }
func (*uploadCmd) Usage() string {
	return `finance upload [-bucket NAME] [-prefix statements/] <file>...

  Copies local files to gs://bucket/prefix/<name> for a later
  "finance import gs://bucket/prefix".
`
}

func (c *uploadCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.bucket, "bucket", "", "Destination bucket; overrides gcs.bucket")
	f.StringVar(&c.prefix, "prefix", "statements/", "Object name prefix")
}

func (c *uploadCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usagef(f, "upload needs at least one file")
	}
	cfg, err := loadConfig()
	if err != nil {
		return failf("Error: %v", err)
	}
	ctx = logger.WithContext(ctx, logger.NewWithLevel(cfg.Log.Level))
	bucket := c.bucket
	if bucket == "" {
		bucket = cfg.GCS.Bucket
	}
	if bucket == "" {
		return usagef(f, "no bucket: pass -bucket or set gcs.bucket")
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return failf("Error creating storage client: %v", err)
	}
	defer client.Close()

	prefix := strings.TrimPrefix(c.prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for _, path := range f.Args() {
		object := prefix + filepath.Base(path)
		if err := client.UploadFile(ctx, bucket, object, path); err != nil {
			return failf("Error: %v", err)
		}
		fmt.Printf("%s%s/%s\n", gcs.Scheme, bucket, object)
	}
	return subcommands.ExitSuccess
}
