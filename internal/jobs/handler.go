package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
)

// FileImporter imports a single file. *pipeline.Importer satisfies it.
type FileImporter interface {
	ImportFile(ctx context.Context, in pipeline.Input) *pipeline.FileReport
}

// NewImportHandler returns a JobHandler that runs import jobs through im.
// An import that ends FAILED is still a completed job. Only an import cut
// short by ctx is returned as an error, so the queue can retry it.
func NewImportHandler(im FileImporter) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*ImportFileJob)
		if !ok {
			return fmt.Errorf("import handler: unexpected job type %s", job.GetType())
		}
		ctx = logger.ContextWithFields(ctx, map[string]interface{}{"job_id": j.JobID})

		report := im.ImportFile(ctx, pipeline.Input{
			Path:    j.Filename,
			Content: j.Content,
			Params:  j.Params,
			Parser:  j.Parser,
		})
		j.Report = report
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import handler: %s: %w", j.Filename, err)
		}
		logger.Ctx(ctx).Info().Str("file", j.Filename).Str("status", string(report.Status)).
			Int("inserted", report.Inserted).Msg("import job finished")
		return nil
	}
}
