/**
 * Scan session manager
 *
 * Owns the session registry and the lease on the single capture device.
 * Each session holds the device from creation until it is deleted or the
 * manager is closed.
 */

package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/preprocess"
	"github.com/Epetaway/mtg-proxy-generator/internal/resolver"
)

// ErrSessionNotFound is returned for unknown session IDs
var ErrSessionNotFound = errors.New("scan session not found")

// DefaultChangeTolerance is the signature distance under which frames count as unchanged
const DefaultChangeTolerance = 0.02

// IndexLoader prepares the fuzzy name index
type IndexLoader interface {
	EnsureReady(ctx context.Context) error
}

// FinalizedScan is the hand-off of a completed session
type FinalizedScan struct {
	RecordID      string                  `json:"recordId"`
	SessionID     string                  `json:"sessionId"`
	Candidates    []string                `json:"candidates"`
	NumberHint    string                  `json:"numberHint,omitempty"`
	AcceptedCount int                     `json:"acceptedCount"`
	Matches       []catalog.ResolvedMatch `json:"matches"`
	Tally         []catalog.Quantity      `json:"tally"`
	FinalizedAt   time.Time               `json:"finalizedAt"`
	Persisted     bool                    `json:"persisted"`
}

// Persister stores finalized scans
type Persister interface {
	PersistScan(ctx context.Context, scan *FinalizedScan) error
}

// ManagerConfig wires a Manager
type ManagerConfig struct {
	Device          *capture.Device
	Pipeline        *Pipeline
	Resolver        Resolver
	Index           IndexLoader
	Persister       Persister
	Defaults        Settings
	ChangeDetection bool
	Logger          *logging.Logger
}

type entry struct {
	session   *Session
	scheduler *Scheduler
	stream    capture.Capturer
	detector  *preprocess.ChangeDetector
}

// Manager coordinates scan sessions
type Manager struct {
	cfg    ManagerConfig
	logger *logging.Logger

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager creates a manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("scanner")
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		base:     base,
		cancel:   cancel,
		sessions: make(map[string]*entry),
	}
}

// Defaults returns the default scan controls
func (m *Manager) Defaults() Settings {
	return m.cfg.Defaults
}

// Create opens a session and leases the capture device. Index build and camera
// failures are fatal to the session and returned as-is.
func (m *Manager) Create(ctx context.Context, settings Settings) (SessionSnapshot, error) {
	if err := settings.Validate(); err != nil {
		return SessionSnapshot{}, err
	}
	if m.cfg.Index != nil {
		if err := m.cfg.Index.EnsureReady(ctx); err != nil {
			return SessionSnapshot{}, err
		}
	}

	id := uuid.New().String()
	stream, err := m.cfg.Device.Acquire(ctx, id)
	if err != nil {
		return SessionSnapshot{}, err
	}

	session := NewSession(id, settings)
	e := &entry{session: session, stream: stream}
	if m.cfg.ChangeDetection {
		e.detector = preprocess.NewChangeDetector(DefaultChangeTolerance)
	}
	e.scheduler = NewScheduler(m.base, func(ctx context.Context) (*Tick, error) {
		return m.cfg.Pipeline.CaptureOnce(ctx, e.stream, e.detector)
	}, session, m.logger)

	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()

	m.logger.Info("Scan session created",
		"session_id", id,
		"threshold", settings.Threshold,
		"interval_ms", settings.Interval.Milliseconds(),
		"target", settings.TargetCount)
	return session.Snapshot(StateIdle), nil
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

func snapshotOf(e *entry) SessionSnapshot {
	return e.session.Snapshot(e.scheduler.State())
}

// Get returns a session snapshot
func (m *Manager) Get(id string) (SessionSnapshot, error) {
	e, err := m.get(id)
	if err != nil {
		return SessionSnapshot{}, err
	}
	return snapshotOf(e), nil
}

// Start begins auto-capture; zero values keep the session's settings
func (m *Manager) Start(id string, interval time.Duration, target int) (SessionSnapshot, error) {
	e, err := m.get(id)
	if err != nil {
		return SessionSnapshot{}, err
	}
	settings := e.session.Settings()
	if interval == 0 {
		interval = settings.Interval
	}
	if target == 0 {
		target = settings.TargetCount
	}
	if e.detector != nil && e.scheduler.State() != StateRunning {
		e.detector.Reset()
	}
	if err := e.scheduler.Start(interval, target); err != nil {
		return SessionSnapshot{}, err
	}
	return snapshotOf(e), nil
}

// Stop cancels auto-capture
func (m *Manager) Stop(id string) (SessionSnapshot, error) {
	e, err := m.get(id)
	if err != nil {
		return SessionSnapshot{}, err
	}
	e.scheduler.Stop()
	return snapshotOf(e), nil
}

// CaptureLines runs one manual capture and appends every recognized line that
// passes the confidence gate.
func (m *Manager) CaptureLines(ctx context.Context, id string) (*Tick, int, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, 0, err
	}
	tick, err := m.cfg.Pipeline.CaptureOnce(ctx, e.stream, nil)
	if err != nil {
		return nil, 0, err
	}
	n := e.scheduler.AcceptLines(tick)
	m.logger.Debug("Manual capture", "session_id", id, "lines", len(tick.Lines), "accepted", n)
	return tick, n, nil
}

// Resolve resolves the session's candidates without handing them off
func (m *Manager) Resolve(ctx context.Context, id string) ([]catalog.ResolvedMatch, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	candidates, hint := e.session.Candidates()
	return m.cfg.Resolver.Resolve(ctx, candidates, hint), nil
}

// Finalize stops auto-capture, resolves and tallies the candidates, clears the
// session and hands the result to the persister.
func (m *Manager) Finalize(ctx context.Context, id string) (*FinalizedScan, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	e.scheduler.Stop()

	candidates, hint := e.session.Candidates()
	matches := m.cfg.Resolver.Resolve(ctx, candidates, hint)
	scan := &FinalizedScan{
		RecordID:      uuid.New().String(),
		SessionID:     id,
		Candidates:    candidates,
		NumberHint:    hint,
		AcceptedCount: len(candidates),
		Matches:       matches,
		Tally:         resolver.Tally(matches),
		FinalizedAt:   time.Now(),
	}
	e.session.Reset()

	if m.cfg.Persister != nil {
		if err := m.cfg.Persister.PersistScan(ctx, scan); err != nil {
			m.logger.Error("Failed to enqueue scan persistence", "session_id", id, "record_id", scan.RecordID, "error", err)
		} else {
			scan.Persisted = true
		}
	}

	m.logger.Info("Scan session finalized",
		"session_id", id,
		"candidates", len(candidates),
		"printings", len(scan.Tally))
	return scan, nil
}

// Delete stops the session and releases the capture device
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return m.release(id, e)
}

func (m *Manager) release(id string, e *entry) error {
	e.scheduler.Stop()
	<-e.scheduler.Done()
	if err := m.cfg.Device.Release(id); err != nil {
		m.logger.Warn("Failed to release capture device", "session_id", id, "error", err)
		return err
	}
	m.logger.Info("Scan session closed", "session_id", id)
	return nil
}

// RecognizeImage runs a single-shot scan on an uploaded image without a session
func (m *Manager) RecognizeImage(ctx context.Context, img image.Image, source string) (*Recognition, error) {
	if m.cfg.Index != nil {
		if err := m.cfg.Index.EnsureReady(ctx); err != nil {
			return nil, err
		}
	}
	still := capture.NewStillCapturer(img, source)
	defer still.Close()
	return m.cfg.Pipeline.ScanOnce(ctx, still)
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every session and releases the device
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	var firstErr error
	for id, e := range sessions {
		if err := m.release(id, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
