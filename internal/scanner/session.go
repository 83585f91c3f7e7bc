package scanner

import (
	"sync"
	"time"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/normalize"
)

// MinInterval is the shortest auto-capture period
const MinInterval = 200 * time.Millisecond

// Settings are the user-facing scan controls
type Settings struct {
	Threshold   float64       // minimum OCR confidence, 0..100
	Interval    time.Duration // auto-capture period
	TargetCount int           // accepted captures before auto-stop
}

// Validate checks the control ranges
func (s Settings) Validate() error {
	if s.Threshold < 0 || s.Threshold > 100 {
		return scanerrors.NewInvalidConfigError("threshold", s.Threshold, "must be between 0 and 100")
	}
	if s.Interval < MinInterval {
		return scanerrors.NewInvalidConfigError("interval_ms", s.Interval.Milliseconds(), "must be at least 200")
	}
	if s.TargetCount < 1 {
		return scanerrors.NewInvalidConfigError("target_count", s.TargetCount, "must be at least 1")
	}
	return nil
}

// Session accumulates accepted captures. Candidates are append-only until
// Reset; the number hint always comes from the most recent accepted capture.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	settings   Settings
	candidates []string
	accepted   int
	lastHint   string
}

// SessionSnapshot is a point-in-time copy of a session
type SessionSnapshot struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	Candidates    []string  `json:"candidates"`
	AcceptedCount int       `json:"acceptedCount"`
	NumberHint    string    `json:"numberHint,omitempty"`
	Threshold     float64   `json:"threshold"`
	IntervalMs    int64     `json:"intervalMs"`
	TargetCount   int       `json:"targetCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewSession creates an empty session
func NewSession(id string, settings Settings) *Session {
	return &Session{ID: id, CreatedAt: time.Now(), settings: settings}
}

func (s *Session) passes(t *Tick) bool {
	return t != nil && !t.Skipped && t.Confidence >= s.settings.Threshold
}

// Accept appends the tick's candidate when its confidence reaches the threshold
// and the candidate is long enough. Reports whether it was appended.
func (s *Session) Accept(t *Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.passes(t) || len(t.Candidate) < normalize.MinLength {
		return false
	}
	s.candidates = append(s.candidates, t.Candidate)
	s.accepted++
	s.lastHint = t.NumberHint
	return true
}

// AcceptLines appends every line of a manual capture under the same gate and
// returns how many were appended.
func (s *Session) AcceptLines(t *Tick) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.passes(t) {
		return 0
	}
	n := 0
	for _, line := range t.Lines {
		if len(line) < normalize.MinLength {
			continue
		}
		s.candidates = append(s.candidates, line)
		n++
	}
	if n > 0 {
		s.accepted += n
		s.lastHint = t.NumberHint
	}
	return n
}

// Accepted returns the accepted capture count
func (s *Session) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Candidates returns a copy of the accumulated candidates and the current hint
func (s *Session) Candidates() ([]string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.candidates))
	copy(out, s.candidates)
	return out, s.lastHint
}

// Settings returns the current controls
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Update replaces the controls
func (s *Session) Update(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// Reset clears accumulated state after a hand-off
func (s *Session) Reset() {
	s.mu.Lock()
	s.candidates = nil
	s.accepted = 0
	s.lastHint = ""
	s.mu.Unlock()
}

// Snapshot copies the session state
func (s *Session) Snapshot(state State) SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]string, len(s.candidates))
	copy(candidates, s.candidates)
	return SessionSnapshot{
		ID:            s.ID,
		State:         state,
		Candidates:    candidates,
		AcceptedCount: s.accepted,
		NumberHint:    s.lastHint,
		Threshold:     s.settings.Threshold,
		IntervalMs:    s.settings.Interval.Milliseconds(),
		TargetCount:   s.settings.TargetCount,
		CreatedAt:     s.CreatedAt,
	}
}
