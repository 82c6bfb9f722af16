package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Task describes a named periodic callback.
type Task struct {
	Name     string
	Callback func(ctx context.Context) error
	Interval time.Duration
	Enabled  bool
}

// runner is one installed task timer.
type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs named tasks at fixed intervals until reconfigured or stopped.
// Each task runs on its own goroutine, so invocations of one task never overlap.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	runners map[string]*runner
}

// New creates a Scheduler driven by clk.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:   clk,
		logger:  slog.With("component", "refresh"),
		runners: make(map[string]*runner),
	}
}

// Configure cancels every running task and installs the given set.
// Tasks that are disabled or have a non-positive interval are not installed.
func (s *Scheduler) Configure(ctx context.Context, tasks []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	for _, t := range tasks {
		if !t.Enabled || t.Interval <= 0 {
			s.logger.Debug("Auto-refresh skipped", "task", t.Name, "enabled", t.Enabled, "interval", t.Interval)
			continue
		}
		if _, dup := s.runners[t.Name]; dup {
			s.logger.Warn("Duplicate auto-refresh task ignored", "task", t.Name)
			continue
		}

		tctx, cancel := context.WithCancel(ctx)
		r := &runner{cancel: cancel, done: make(chan struct{})}
		ticker := s.clock.Ticker(t.Interval)
		s.runners[t.Name] = r

		s.logger.Info("Auto-refresh installed", "task", t.Name, "interval", t.Interval)
		go s.run(tctx, t, ticker, r.done)
	}
}

// Stop cancels every task and waits for in-flight callbacks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Active returns the names of installed tasks, sorted.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.runners))
	for name := range s.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) stopLocked() {
	for name, r := range s.runners {
		r.cancel()
		<-r.done
		s.logger.Debug("Auto-refresh cleared", "task", name)
	}
	clear(s.runners)
}

func (s *Scheduler) run(ctx context.Context, t Task, ticker *clock.Ticker, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick can race with cancellation; never fire once cancelled.
			if ctx.Err() != nil {
				return
			}
			s.invoke(ctx, t)
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Auto-refresh panicked", "task", t.Name, "panic", fmt.Sprint(r))
		}
	}()

	s.logger.Debug("Auto-refreshing", "task", t.Name)
	if err := t.Callback(ctx); err != nil {
		s.logger.Warn("Auto-refresh failed", "task", t.Name, "error", err)
	}
}
