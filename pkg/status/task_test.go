package status

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTask struct {
	mu       sync.Mutex
	state    State
	statuses int
}

func (f *fakeTask) Progress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Progress{CurrentState: f.state, Summary: f.state.String()}
}

func (f *fakeTask) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	return "migration status: state=" + f.state.String()
}

func (f *fakeTask) Cancel() {}

func (f *fakeTask) statusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses
}

func TestWatchTaskReportsUntilDone(t *testing.T) {
	oldInterval := StatusInterval
	StatusInterval = 5 * time.Millisecond
	defer func() {
		StatusInterval = oldInterval
	}()

	task := &fakeTask{state: MoveChunks}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	WatchTask(ctx, task, slog.Default())

	assert.Eventually(t, func() bool {
		return task.statusCalls() >= 2
	}, time.Second, time.Millisecond)

	// Once the job reports Done the watcher stops on its own.
	task.mu.Lock()
	task.state = Done
	task.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	calls := task.statusCalls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, task.statusCalls())
}

func TestWatchTaskStopsOnCancel(t *testing.T) {
	oldInterval := StatusInterval
	StatusInterval = 5 * time.Millisecond
	defer func() {
		StatusInterval = oldInterval
	}()

	task := &fakeTask{state: MoveChunks}
	ctx, cancel := context.WithCancel(t.Context())
	WatchTask(ctx, task, slog.Default())
	cancel()

	time.Sleep(20 * time.Millisecond)
	calls := task.statusCalls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, task.statusCalls())
}
