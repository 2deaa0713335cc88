package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// RecorderMiddleware implements [DECORATOR_PATTERN] to add observability
// to the persistence collaborator without touching storage logic.
type RecorderMiddleware struct {
	Next   Recorder
	Logger *slog.Logger
}

// NewRecorderMiddleware creates a new logging decorator for the Recorder.
func NewRecorderMiddleware(next Recorder, logger *slog.Logger) Recorder {
	return &RecorderMiddleware{
		Next:   next,
		Logger: logger,
	}
}

// Record wraps the write with execution timing and outcome logging.
func (m *RecorderMiddleware) Record(ctx context.Context, ev model.Event) error {
	start := time.Now()

	err := m.Next.Record(ctx, ev)

	// [OBSERVABILITY] Scoped logging for performance auditing
	duration := time.Since(start)

	if err != nil {
		m.Logger.Error("RECORD_FAILED",
			"err", err,
			"event_id", ev.ID,
			"stream_id", ev.StreamID,
			"kind", ev.Kind(),
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		m.Logger.Debug("RECORD_COMPLETED",
			"event_id", ev.ID,
			"kind", ev.Kind(),
			"duration_ms", duration.Milliseconds(),
		)
	}

	return err
}

// Tally wraps the aggregation query.
func (m *RecorderMiddleware) Tally(ctx context.Context, streamID, promptID string) (model.VoteTally, error) {
	start := time.Now()

	res, err := m.Next.Tally(ctx, streamID, promptID)
	if err != nil {
		m.Logger.Warn("TALLY_FAILED",
			"stream_id", streamID,
			"prompt_id", promptID,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return res, err
}
