// Package scheduler runs named background tasks on fixed intervals or cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TaskFn is a periodic task. ctx is cancelled when the scheduler stops or
// the task is removed.
type TaskFn func(ctx context.Context) error

// TaskInfo is a snapshot of a registered task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval,omitempty"`
	Schedule string        `json:"schedule,omitempty"`
	Runs     int64         `json:"runs"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// Scheduler manages periodic tasks.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	cron   *cron.Cron
	ctx    context.Context
	stop   context.CancelFunc
	logger *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	s := &Scheduler{
		tasks:  make(map[string]*task),
		cron:   cron.New(),
		ctx:    ctx,
		stop:   stop,
		logger: logger,
	}
	s.cron.Start()
	return s
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced. A non-positive
// interval disables the task.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	if interval <= 0 {
		s.logger.Warn("scheduler task disabled", zap.String("name", name), zap.Duration("interval", interval))
		s.Remove(name)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{info: TaskInfo{Name: name, Interval: interval}, cancel: cancel}
	s.tasks[name] = t

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.run(ctx, t, fn)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddCron registers a task on a standard five-field cron spec or a descriptor
// such as "@daily" or "@every 1h". An existing task of the same name is replaced.
func (s *Scheduler) AddCron(name, spec string, fn TaskFn) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: task %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{info: TaskInfo{Name: name, Schedule: spec}}
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() == nil {
			s.run(ctx, t, fn)
		}
	}))
	t.cancel = func() {
		cancel()
		s.cron.Remove(id)
	}
	s.tasks[name] = t
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) run(ctx context.Context, t *task, fn TaskFn) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler task panicked",
					zap.String("task", t.info.Name),
					zap.Any("recover", r))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn(ctx)
	}()
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("scheduler task failed", zap.String("task", t.info.Name), zap.Error(err))
	}

	now := time.Now()
	s.mu.Lock()
	t.info.Runs++
	t.info.LastRun = &now
	t.info.LastErr = ""
	if err != nil {
		t.info.LastErr = err.Error()
	}
	s.mu.Unlock()
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.cancel()
		delete(s.tasks, name)
	}
}

// Stop stops all tasks. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stop()
	<-s.cron.Stop().Done()
}

// Tasks returns a snapshot of the registered tasks ordered by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		info := t.info
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
