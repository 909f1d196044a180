// Package task implements the deferred background work mechanism: handlers
// schedule work that runs after the response has been handed back to the
// caller, and the dispatcher drains every scheduled task before the request
// context is released. No ordering guarantee exists between tasks, tasks
// cannot be canceled once scheduled, and a task's failure is logged inside
// the task since there is no caller left to report to.
package task

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shieldedge/shield/internal/metrics"
	"github.com/shieldedge/shield/internal/observability"
)

// DefaultConcurrency bounds how many deferred tasks of one request run at once.
const DefaultConcurrency = 4

// Set collects the deferred tasks of a single request.
type Set struct {
	logger *observability.Logger

	mu      sync.Mutex
	pending []pendingTask
	drained bool
	limit   int
}

type pendingTask struct {
	name string
	fn   func(ctx context.Context) error
}

// NewSet creates an empty task set.
func NewSet(logger *observability.Logger) *Set {
	return &Set{logger: logger, limit: DefaultConcurrency}
}

// Schedule queues fn to run when the set is drained. Scheduling after Drain
// is a programming error; the task is dropped and logged.
func (s *Set) Schedule(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drained {
		s.logger.Error("task scheduled after drain, dropping", "task", name)
		return
	}
	s.pending = append(s.pending, pendingTask{name: name, fn: fn})
}

// Len returns the number of tasks scheduled so far.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Drain runs every scheduled task to completion or failure. Failures and
// panics are caught and logged; Drain itself never fails the request.
func (s *Set) Drain(ctx context.Context) {
	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.drained = true
	s.mu.Unlock()

	if len(tasks) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					metrics.TaskFailures.WithLabelValues(t.name).Inc()
					s.logger.Error("deferred task panicked",
						"task", t.name, "panic", fmt.Sprint(r))
				}
			}()

			if err := t.fn(ctx); err != nil {
				metrics.TaskFailures.WithLabelValues(t.name).Inc()
				s.logger.Warn("deferred task failed", "task", t.name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
