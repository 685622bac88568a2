package generation

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"adflow/internal/infra"
)

// Supervisor runs generation units in the background on behalf of request
// handlers. Submissions return immediately; the number of units doing work at
// once is bounded by a weighted semaphore, and Shutdown drains in-flight work
// during process stop so a unit is never silently abandoned mid-write.
type Supervisor struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger infra.Logger
}

// NewSupervisor creates a supervisor allowing up to maxInFlight concurrent units.
func NewSupervisor(maxInFlight int64, logger infra.Logger) *Supervisor {
	if maxInFlight <= 0 {
		maxInFlight = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		sem:    semaphore.NewWeighted(maxInFlight),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Submit schedules fn to run in the background and returns immediately. The
// unit waits for a semaphore slot before doing work; a failing unit is logged,
// never re-surfaced to the submitting request.
func (s *Supervisor) Submit(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.logger.Warn().Err(err).Str("task", name).Msg("supervisor: task dropped before start")
			return
		}
		defer s.sem.Release(1)
		if err := fn(s.ctx); err != nil {
			s.logger.Error().Err(err).Str("task", name).Msg("supervisor: background task failed")
		}
	}()
}

// Wait blocks until all submitted units have finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown waits for in-flight units to finish, cancelling them when the
// given context expires first.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
