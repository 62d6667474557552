package worker

import (
	"context"
	"errors"
	"fmt"

	"jobsync_worker/adapter/out/messaging"
	"jobsync_worker/core/domain"
	"jobsync_worker/pkg/logger"

	"github.com/goccy/go-json"
)

// Dispatcher routes stream entries to the pipeline.
type Dispatcher struct {
	runner Runner
}

func NewDispatcher(runner Runner) *Dispatcher {
	return &Dispatcher{runner: runner}
}

// Streams lists the streams the dispatcher consumes.
func (d *Dispatcher) Streams() []string {
	return []string{messaging.StreamSyncTrigger}
}

// Handle satisfies messaging.Handler. A returned error leaves the entry
// pending for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, stream string, data []byte) error {
	switch stream {
	case messaging.StreamSyncTrigger:
		return d.handleSyncTrigger(ctx, data)
	default:
		logger.Warn("[Dispatcher] Unknown stream: %s", stream)
		return nil
	}
}

func (d *Dispatcher) handleSyncTrigger(ctx context.Context, data []byte) error {
	var req domain.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		// redelivery cannot fix a malformed payload
		logger.WithError(err).Warn("[Dispatcher] Dropping malformed sync trigger")
		return nil
	}
	if req.Trigger == "" {
		req.Trigger = "queue"
	}

	result, err := d.runner.Run(ctx, req)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		// the running pass will pick up the same mail
		logger.WithField("user_id", req.UserID).Info("[Dispatcher] Run already in progress, dropping trigger")
		return nil
	case domain.IsValidation(err):
		logger.WithError(err).Warn("[Dispatcher] Dropping invalid sync trigger")
		return nil
	case err != nil:
		return fmt.Errorf("sync run failed: %w", err)
	}

	logger.WithFields(map[string]any{
		"run_id":  result.RunID,
		"user_id": req.UserID,
		"trigger": req.Trigger,
	}).Info("[Dispatcher] Run finished: %d processed, %d pending, %d applied",
		result.ProcessedCount, result.NewPendingItems, result.AutoAppliedJobs)
	return nil
}

var _ messaging.Handler = (*Dispatcher)(nil).Handle
