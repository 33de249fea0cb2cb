// Package scheduler runs Tasks under bounded parallelism and exposes
// their lifecycle as observable TaskInfo snapshots.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

const defaultMaxWorkers = 4

// Executor runs one Task's body. Returning an error moves the task to
// Failed; returning nil moves it to Completed.
type Executor func(ctx context.Context, task doomsdaytypes.Task) error

// Scheduler runs each scheduled task on its own goroutine, with at most
// maxWorkers of them executing at once. Waiting tasks take free slots
// in the order their goroutines reach the semaphore, which is not
// guaranteed to match the order Schedule was called in.
type Scheduler struct {
	logger     hclog.Logger
	maxWorkers int
	sem        *semaphore.Weighted
	executor   Executor

	mu       sync.Mutex
	tasks    map[string]*doomsdaytypes.TaskInfo
	wg       sync.WaitGroup
	shutdown bool
}

// New builds a Scheduler with the given worker cap (0 uses the
// default of 4) and task executor.
func New(logger hclog.Logger, maxWorkers int, executor Executor) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	return &Scheduler{
		logger:     logger.Named("scheduler"),
		maxWorkers: maxWorkers,
		sem:        semaphore.NewWeighted(int64(maxWorkers)),
		executor:   executor,
		tasks:      make(map[string]*doomsdaytypes.TaskInfo),
	}
}

// Schedule registers a new Pending task and starts a goroutine that
// will run it once a worker slot is free. It fails only once the
// scheduler has begun shutting down.
func (s *Scheduler) Schedule(ctx context.Context, task doomsdaytypes.Task) (string, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return "", doomsdayerr.New(doomsdayerr.Scheduler, "scheduler is shutting down")
	}

	id := uuid.New().String()
	info := &doomsdaytypes.TaskInfo{
		ID:        id,
		Task:      task,
		CreatedAt: time.Now(),
		Status:    doomsdaytypes.TaskPending,
	}
	s.tasks[id] = info
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, id)

	return id, nil
}

// run blocks acquiring a worker slot, then executes the task and
// records its outcome.
func (s *Scheduler) run(ctx context.Context, id string) {
	defer s.wg.Done()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(id, err)
		return
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	info := s.tasks[id]
	now := time.Now()
	info.StartedAt = &now
	info.Status = doomsdaytypes.TaskRunning
	task := info.Task
	s.mu.Unlock()

	err := s.executor(ctx, task)

	s.mu.Lock()
	defer s.mu.Unlock()
	completed := time.Now()
	info.CompletedAt = &completed
	if err != nil {
		info.Status = doomsdaytypes.TaskFailed
		info.Error = err.Error()
		s.logger.Error("task failed", "id", id, "kind", task.Kind, "backend", task.Backend, "error", err)
		return
	}
	info.Status = doomsdaytypes.TaskCompleted
}

func (s *Scheduler) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.tasks[id]
	completed := time.Now()
	info.CompletedAt = &completed
	info.Status = doomsdaytypes.TaskFailed
	info.Error = err.Error()
}

// Get returns the latest snapshot of a task, if known.
func (s *Scheduler) Get(id string) (doomsdaytypes.TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.tasks[id]
	if !ok {
		return doomsdaytypes.TaskInfo{}, false
	}
	return *info, true
}

// ListTasks returns a snapshot of every known task.
func (s *Scheduler) ListTasks() []doomsdaytypes.TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]doomsdaytypes.TaskInfo, 0, len(s.tasks))
	for _, info := range s.tasks {
		out = append(out, *info)
	}
	return out
}

// Info reports current scheduler load.
func (s *Scheduler) Info() doomsdaytypes.SchedulerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := doomsdaytypes.SchedulerInfo{Workers: s.maxWorkers}
	for _, t := range s.tasks {
		switch t.Status {
		case doomsdaytypes.TaskPending:
			info.Pending++
		case doomsdaytypes.TaskRunning:
			info.Running++
		}
	}
	return info
}

// CleanupCompleted drops TaskInfos in a terminal state whose
// completedAt is older than now-maxAge.
func (s *Scheduler) CleanupCompleted(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, info := range s.tasks {
		if info.CompletedAt == nil {
			continue
		}
		if (info.Status == doomsdaytypes.TaskCompleted || info.Status == doomsdaytypes.TaskFailed) && info.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}

// Shutdown stops accepting new Schedule calls and blocks until every
// already-accepted task has reached a terminal state.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.wg.Wait()
}
