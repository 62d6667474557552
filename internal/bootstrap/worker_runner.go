package bootstrap

import (
	"context"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/service/ingest"
	"jobsync_worker/pkg/metrics"
)

// timedPipeline records run durations per trigger.
type timedPipeline struct {
	*ingest.Pipeline
	runs *metrics.Registry
}

func (p timedPipeline) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	start := time.Now()
	result, err := p.Pipeline.Run(ctx, req)

	trigger := req.Trigger
	if trigger == "" {
		trigger = "unknown"
	}
	failed := err != nil || (result != nil && len(result.PerAccountErrors) > 0)
	p.runs.Record(trigger, time.Since(start), failed)

	return result, err
}
