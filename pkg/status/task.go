package status

import (
	"context"
	"log/slog"
	"time"
)

var StatusInterval = 30 * time.Second

// Progress is returned as a struct because we may add more to it later.
// It is designed for wrappers (like a GUI) to be able to summarize the
// current status without parsing log output.
type Progress struct {
	CurrentState State  // state of the current plan, i.e. MoveChunks
	Summary      string // text based representation, i.e. "plan 3/12 moveChunks 7/22 chunks"
}

type Task interface {
	Progress() Progress
	Status() string // prints to logger, to return value
	Cancel()        // a callback to be able to cancel the task.
}

// WatchTask periodically writes the task's current status to the logger
// until the job completes or the context is canceled.
func WatchTask(ctx context.Context, task Task, logger *slog.Logger) {
	go continuallyDumpStatus(ctx, task, logger)
}

func continuallyDumpStatus(ctx context.Context, task Task, logger *slog.Logger) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if task.Progress().CurrentState == Done {
				return
			}
			logger.Info(task.Status())
		}
	}
}
