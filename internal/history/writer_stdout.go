package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/store/model"
)

// StdoutWriter logs records instead of storing them. Used when the history
// database is disabled.
type StdoutWriter struct{}

func (s *StdoutWriter) Write(_ context.Context, record model.JobRecord) error {
	zap.S().Named("stdout_writer").Infow("job finished",
		"job_id", record.JobID,
		"name", record.Name,
		"status", record.Status,
		"stage", record.Stage,
		"error", record.Error,
	)
	return nil
}

func (s *StdoutWriter) Close(_ context.Context) error {
	return nil
}
