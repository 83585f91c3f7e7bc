/**
 * Auto-Capture Scheduler
 *
 * Drives repeated capture ticks on a fixed interval until the session has
 * accepted its target count or the scheduler is stopped. Ticks are
 * single-flight: a tick is skipped while the previous one is outstanding.
 */

package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// State is the scheduler lifecycle state
type State string

const (
	StateIdle            State = "idle"
	StateRunning         State = "running"
	StateStoppedByTarget State = "stopped-by-target"
	StateStoppedManually State = "stopped-manually"
)

// TickFunc runs one full capture cycle
type TickFunc func(ctx context.Context) (*Tick, error)

// Scheduler runs TickFunc periodically against a session
type Scheduler struct {
	base    context.Context
	tick    TickFunc
	session *Session
	logger  *logging.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	target     int
	stopCh     chan struct{}
	done       chan struct{}

	inFlight atomic.Bool
}

// NewScheduler creates an idle scheduler. base bounds every tick; in-flight
// ticks are not cancelled by Stop.
func NewScheduler(base context.Context, tick TickFunc, session *Session, logger *logging.Logger) *Scheduler {
	done := make(chan struct{})
	close(done)
	return &Scheduler{
		base:    base,
		tick:    tick,
		session: session,
		logger:  logger,
		state:   StateIdle,
		done:    done,
	}
}

// Start begins auto-capture. It is a no-op while running.
func (s *Scheduler) Start(interval time.Duration, target int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return nil
	}
	if interval < MinInterval {
		return scanerrors.NewInvalidConfigError("interval_ms", interval.Milliseconds(), "must be at least 200")
	}
	if target < 1 {
		return scanerrors.NewInvalidConfigError("target_count", target, "must be at least 1")
	}

	settings := s.session.Settings()
	settings.Interval = interval
	settings.TargetCount = target
	s.session.Update(settings)

	s.generation++
	s.target = target
	s.done = make(chan struct{})

	if s.session.Accepted() >= target {
		s.state = StateStoppedByTarget
		close(s.done)
		return nil
	}

	s.state = StateRunning
	s.stopCh = make(chan struct{})
	go s.loop(s.generation, interval, s.stopCh, s.done)

	s.logger.Info("Auto-capture started",
		"session_id", s.session.ID,
		"interval_ms", interval.Milliseconds(),
		"target", target)
	return nil
}

// Stop cancels auto-capture. Stopping a scheduler that is not running is a no-op.
func (s *Scheduler) Stop() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return s.state
	}
	s.state = StateStoppedManually
	close(s.stopCh)
	s.logger.Info("Auto-capture stopped", "session_id", s.session.ID, "accepted", s.session.Accepted())
	return s.state
}

// State returns the lifecycle state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current run's timer loop has exited
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) loop(gen uint64, interval time.Duration, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-s.base.Done():
			s.Stop()
			return
		case <-ticker.C:
			s.launch(gen)
		}
	}
}

func (s *Scheduler) launch(gen uint64) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("Previous tick still in flight, skipping", "session_id", s.session.ID)
		return
	}

	s.mu.Lock()
	running := s.state == StateRunning && s.generation == gen
	s.mu.Unlock()
	if !running {
		s.inFlight.Store(false)
		return
	}

	go func() {
		defer s.inFlight.Store(false)
		t, err := s.tick(s.base)
		s.apply(gen, t, err)
	}()
}

// apply records a tick result unless the run it belongs to has ended
func (s *Scheduler) apply(gen uint64, t *Tick, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning || s.generation != gen {
		s.logger.Debug("Discarding late tick result", "session_id", s.session.ID)
		return
	}

	if err != nil {
		switch scanerrors.CodeOf(err) {
		case scanerrors.ErrorOCRTimeout, scanerrors.ErrorOCRFailed:
			s.logger.Warn("Tick discarded", "session_id", s.session.ID, "code", scanerrors.CodeOf(err), "error", err)
		default:
			s.logger.Debug("Tick discarded", "session_id", s.session.ID, "error", err)
		}
		return
	}

	if !s.session.Accept(t) {
		if t != nil && !t.Skipped {
			s.logger.Debug("Tick below threshold",
				"session_id", s.session.ID,
				"confidence", t.Confidence,
				"candidate", t.Candidate)
		}
		return
	}

	t.markSeen()
	s.logger.Info("Capture accepted",
		"session_id", s.session.ID,
		"candidate", t.Candidate,
		"confidence", t.Confidence,
		"accepted", s.session.Accepted(),
		"target", s.target)

	s.checkTarget()
}

// AcceptLines appends a manual capture to the session and stops a running
// auto-capture when that reaches the target
func (s *Scheduler) AcceptLines(t *Tick) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.session.AcceptLines(t)
	if n > 0 {
		s.checkTarget()
	}
	return n
}

// checkTarget moves a running scheduler to stopped-by-target. Callers hold s.mu.
func (s *Scheduler) checkTarget() {
	if s.state != StateRunning {
		return
	}
	accepted := s.session.Accepted()
	if accepted < s.target {
		return
	}
	s.state = StateStoppedByTarget
	close(s.stopCh)
	s.logger.Info("Target reached, auto-capture stopped", "session_id", s.session.ID, "accepted", accepted)
}
