package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
)

// RunStore is the write side of the run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, id uuid.UUID, status string, imagesAcquired int, runErr string, finishedAt time.Time) error
}

// EventSource hands out event subscriptions.
type EventSource interface {
	Subscribe(runID uuid.UUID) <-chan dispatch.Event
	Unsubscribe(runID uuid.UUID, ch <-chan dispatch.Event)
}

// RunRecorder writes run start and end events to the history.
type RunRecorder struct {
	store  RunStore
	source EventSource
	logger *zap.Logger

	writeTimeout time.Duration
}

func NewRunRecorder(store RunStore, source EventSource, logger *zap.Logger) *RunRecorder {
	return &RunRecorder{
		store:        store,
		source:       source,
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

// Run consumes events until ctx is done or the source closes. Write
// failures are logged; the acquisition never waits on the database.
func (r *RunRecorder) Run(ctx context.Context) {
	events := r.source.Subscribe(uuid.Nil)
	defer r.source.Unsubscribe(uuid.Nil, events)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.record(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (r *RunRecorder) record(ctx context.Context, ev dispatch.Event) {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	switch ev.Kind {
	case dispatch.EvtRunStarted:
		run := &RunRecord{
			ID:        ev.RunID,
			CommandID: ev.CommandID,
			Status:    RunStatusRunning,
			StartedAt: ev.Timestamp,
		}
		if ev.Progress != nil {
			run.TotalAcqs = ev.Progress.TotalAcqs
			run.TotalImages = ev.Progress.TotalImageCount
		}
		if err := r.store.CreateRun(ctx, run); err != nil {
			r.logger.Error("Failed to record run start", zap.String("run_id", ev.RunID.String()), zap.Error(err))
		}

	case dispatch.EvtRunFinished, dispatch.EvtRunAborted:
		if ev.Run == nil {
			return
		}
		err := r.store.FinishRun(ctx, ev.Run.RunID, string(ev.Run.Reason), ev.Run.ImagesAcquired, ev.Run.Error, ev.Timestamp)
		if err != nil {
			r.logger.Error("Failed to record run end", zap.String("run_id", ev.Run.RunID.String()), zap.Error(err))
		}
	}
}
