package scanner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/nameindex"
	"github.com/Epetaway/mtg-proxy-generator/internal/ocr"
	"github.com/Epetaway/mtg-proxy-generator/internal/preprocess"
)

var testSettings = Settings{Threshold: 65, Interval: MinInterval, TargetCount: 3}

func waitDone(t *testing.T, s *Scheduler, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatalf("scheduler did not stop within %v (state %s)", timeout, s.State())
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		field    string
	}{
		{"valid", testSettings, ""},
		{"threshold too high", Settings{Threshold: 101, Interval: time.Second, TargetCount: 1}, "threshold"},
		{"negative threshold", Settings{Threshold: -1, Interval: time.Second, TargetCount: 1}, "threshold"},
		{"interval too short", Settings{Threshold: 65, Interval: 199 * time.Millisecond, TargetCount: 1}, "interval_ms"},
		{"zero target", Settings{Threshold: 65, Interval: time.Second}, "target_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var se *scanerrors.ScanError
			if !errors.As(err, &se) || se.Code != scanerrors.ErrorInvalidConfig || se.Details["field"] != tt.field {
				t.Fatalf("expected INVALID_CONFIG on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestSessionAcceptGate(t *testing.T) {
	s := NewSession("s1", testSettings)

	rejected := []*Tick{
		nil,
		{Candidate: "Lightning Bolt", Confidence: 64.9},
		{Candidate: "ab", Confidence: 99},
		{Candidate: "Lightning Bolt", Confidence: 99, Skipped: true},
	}
	for i, tick := range rejected {
		if s.Accept(tick) {
			t.Fatalf("tick %d should be rejected", i)
		}
	}
	if s.Accepted() != 0 {
		t.Fatalf("accepted = %d after rejected ticks", s.Accepted())
	}

	if !s.Accept(&Tick{Candidate: "Lightning Bolt", Confidence: 65, NumberHint: "148"}) {
		t.Fatal("tick at threshold should be accepted")
	}
	if !s.Accept(&Tick{Candidate: "Counterspell", Confidence: 80}) {
		t.Fatal("tick above threshold should be accepted")
	}

	candidates, hint := s.Candidates()
	if strings.Join(candidates, "|") != "Lightning Bolt|Counterspell" {
		t.Fatalf("candidates = %v", candidates)
	}
	if hint != "" {
		t.Fatalf("hint should follow the most recent accepted capture, got %q", hint)
	}

	n := s.AcceptLines(&Tick{Lines: []string{"Opt", "Ponder"}, Confidence: 70, NumberHint: "12"})
	if n != 2 || s.Accepted() != 4 {
		t.Fatalf("AcceptLines = %d, accepted = %d", n, s.Accepted())
	}
	if n := s.AcceptLines(&Tick{Lines: []string{"Brainstorm"}, Confidence: 10}); n != 0 {
		t.Fatalf("low confidence lines accepted: %d", n)
	}

	snap := s.Snapshot(StateIdle)
	if snap.AcceptedCount != 4 || snap.NumberHint != "12" || snap.IntervalMs != 200 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	s.Reset()
	if c, h := s.Candidates(); len(c) != 0 || h != "" || s.Accepted() != 0 {
		t.Fatalf("Reset left %v %q", c, h)
	}
}

func goodTick() *Tick {
	return &Tick{Candidate: "Lightning Bolt", Confidence: 90}
}

func TestSchedulerStopsAtTarget(t *testing.T) {
	var calls atomic.Int32
	session := NewSession("s1", testSettings)
	s := NewScheduler(context.Background(), func(ctx context.Context) (*Tick, error) {
		calls.Add(1)
		return goodTick(), nil
	}, session, logging.Discard())

	if err := s.Start(MinInterval, 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s, 5*time.Second)

	if s.State() != StateStoppedByTarget {
		t.Fatalf("state = %s", s.State())
	}
	if session.Accepted() != 3 {
		t.Fatalf("accepted = %d", session.Accepted())
	}

	time.Sleep(3 * MinInterval)
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 ticks, got %d", got)
	}

	if s.Stop() != StateStoppedByTarget {
		t.Fatal("Stop after target should not change state")
	}
}

func TestSchedulerDiscardsFailedAndWeakTicks(t *testing.T) {
	var calls atomic.Int32
	session := NewSession("s1", testSettings)
	s := NewScheduler(context.Background(), func(ctx context.Context) (*Tick, error) {
		switch calls.Add(1) {
		case 1:
			return &Tick{Candidate: "Lightning Bolt", Confidence: 20}, nil
		case 2:
			return nil, scanerrors.NewOCRTimeoutError("name", time.Second, context.DeadlineExceeded)
		case 3:
			return nil, scanerrors.NewOCRFailedError("name", errors.New("bad image"))
		default:
			return goodTick(), nil
		}
	}, session, logging.Discard())

	if err := s.Start(MinInterval, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s, 5*time.Second)

	if s.State() != StateStoppedByTarget || session.Accepted() != 1 || calls.Load() != 4 {
		t.Fatalf("state=%s accepted=%d calls=%d", s.State(), session.Accepted(), calls.Load())
	}
}

func TestSchedulerDropsResultsAfterStop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	session := NewSession("s1", testSettings)
	s := NewScheduler(context.Background(), func(ctx context.Context) (*Tick, error) {
		once.Do(func() { close(started) })
		<-release
		return goodTick(), nil
	}, session, logging.Discard())

	if err := s.Start(MinInterval, 5); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("tick never started")
	}

	if s.Stop() != StateStoppedManually {
		t.Fatalf("state = %s", s.State())
	}
	waitDone(t, s, time.Second)

	close(release)
	time.Sleep(100 * time.Millisecond)

	if session.Accepted() != 0 {
		t.Fatalf("late result mutated the session: accepted = %d", session.Accepted())
	}
	if s.Stop() != StateStoppedManually {
		t.Fatal("second Stop should be a no-op")
	}
}

func TestSchedulerSingleFlight(t *testing.T) {
	var active, peak, calls atomic.Int32
	session := NewSession("s1", testSettings)
	s := NewScheduler(context.Background(), func(ctx context.Context) (*Tick, error) {
		calls.Add(1)
		n := active.Add(1)
		defer active.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(3 * MinInterval)
		return &Tick{Confidence: 0}, nil
	}, session, logging.Discard())

	if err := s.Start(MinInterval, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	s.Stop()
	waitDone(t, s, time.Second)

	if peak.Load() != 1 {
		t.Fatalf("overlapping ticks: peak = %d", peak.Load())
	}
	if calls.Load() > 3 {
		t.Fatalf("ticks were not skipped while in flight: %d calls", calls.Load())
	}
}

func TestSchedulerStartRules(t *testing.T) {
	session := NewSession("s1", testSettings)
	s := NewScheduler(context.Background(), func(ctx context.Context) (*Tick, error) {
		return &Tick{}, nil
	}, session, logging.Discard())

	if s.State() != StateIdle {
		t.Fatalf("initial state = %s", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed before the first start")
	}
	if s.Stop() != StateIdle {
		t.Fatal("Stop on idle scheduler should be a no-op")
	}

	if err := s.Start(100*time.Millisecond, 3); !scanerrors.HasCode(err, scanerrors.ErrorInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG for short interval, got %v", err)
	}
	if err := s.Start(time.Second, 0); !scanerrors.HasCode(err, scanerrors.ErrorInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG for zero target, got %v", err)
	}

	if err := s.Start(time.Second, 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := s.Done()
	if err := s.Start(MinInterval, 10); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if s.Done() != done || session.Settings().TargetCount != 3 {
		t.Fatal("Start while running should be a no-op")
	}
	s.Stop()
	waitDone(t, s, time.Second)
}

func TestSchedulerStopsWithBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := NewSession("s1", testSettings)
	s := NewScheduler(ctx, func(ctx context.Context) (*Tick, error) {
		return &Tick{}, nil
	}, session, logging.Discard())

	if err := s.Start(time.Second, 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitDone(t, s, time.Second)
	if s.State() != StateStoppedManually {
		t.Fatalf("state = %s", s.State())
	}
}

// pipeline and manager

type fakeReader struct {
	mu      sync.Mutex
	reading ocr.Reading
	err     error
	calls   int
}

func (f *fakeReader) Read(ctx context.Context, frame *capture.Frame) (*ocr.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.reading
	return &r, nil
}

func (f *fakeReader) set(name string, confidence float64, number string) {
	f.mu.Lock()
	f.reading = ocr.Reading{
		Name:   ocr.Result{Text: name, Confidence: confidence},
		Number: ocr.Result{Text: number, Confidence: confidence},
	}
	f.mu.Unlock()
}

type staticNames []string

func (s staticNames) FetchAllNames(ctx context.Context) ([]string, error) { return s, nil }

type failingNames struct{}

func (failingNames) FetchAllNames(ctx context.Context) ([]string, error) {
	return nil, errors.New("catalog offline")
}

func readyIndex(t *testing.T) *nameindex.Index {
	t.Helper()
	ix := nameindex.New(nameindex.Config{
		Source: staticNames{"Lightning Bolt", "Lightning Helix", "Counterspell", "Opt"},
		Logger: logging.Discard(),
	})
	if err := ix.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	return ix
}

type fakeResolver struct {
	mu    sync.Mutex
	calls [][]string
	hints []string
}

func (f *fakeResolver) Resolve(ctx context.Context, candidates []string, hint string) []catalog.ResolvedMatch {
	f.mu.Lock()
	f.calls = append(f.calls, candidates)
	f.hints = append(f.hints, hint)
	f.mu.Unlock()

	out := []catalog.ResolvedMatch{}
	seen := map[string]bool{}
	for _, c := range candidates {
		if seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, catalog.ResolvedMatch{
			Query: c,
			Match: &catalog.CardIdentity{ID: strings.ToLower(c), Name: c, CollectorNumber: hint},
		})
	}
	return out
}

func cardImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 200, 280))
	for y := 0; y < 280; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	return img
}

func TestPipelineProcess(t *testing.T) {
	reader := &fakeReader{}
	reader.set("L1ghtn1ng B0lt\n~~\nC0unterspel1", 78, "148/280 R")
	p := NewPipeline(reader, readyIndex(t), nil, 3, logging.Discard())

	tick, err := p.Process(context.Background(), capture.NewFrame(cardImage(), "test"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tick.Candidate != "Lightning Bolt" || tick.NumberHint != "148" || tick.Confidence != 78 {
		t.Fatalf("unexpected tick %+v", tick)
	}
	if strings.Join(tick.Lines, "|") != "Lightning Bolt|Counterspell" {
		t.Fatalf("lines = %v", tick.Lines)
	}
	if len(tick.Suggestions) == 0 || tick.Suggestions[0] != "Lightning Bolt" {
		t.Fatalf("suggestions = %v", tick.Suggestions)
	}

	reader.set("Zzyzx Qqq", 90, "")
	tick, err = p.Process(context.Background(), capture.NewFrame(cardImage(), "test"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tick.Candidate != "Zzyzx Qqq" || len(tick.Suggestions) != 0 || tick.NumberHint != "" {
		t.Fatalf("unknown names should fall back to the normalized text, got %+v", tick)
	}
}

func (f *fakeReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPipelineSkipsUnchangedFrames(t *testing.T) {
	reader := &fakeReader{}
	reader.set("Lightning Bolt", 90, "")
	p := NewPipeline(reader, readyIndex(t), nil, 3, logging.Discard())
	src := capture.NewStillCapturer(cardImage(), "test")
	detector := preprocess.NewChangeDetector(DefaultChangeTolerance)

	first, err := p.CaptureOnce(context.Background(), src, detector)
	if err != nil || first.Skipped {
		t.Fatalf("first frame: %+v, %v", first, err)
	}
	// not accepted yet, so the same frame is read again
	second, err := p.CaptureOnce(context.Background(), src, detector)
	if err != nil || second.Skipped {
		t.Fatalf("unaccepted frame should be read again: %+v, %v", second, err)
	}

	second.markSeen()
	third, err := p.CaptureOnce(context.Background(), src, detector)
	if err != nil || !third.Skipped {
		t.Fatalf("accepted frame should be skipped: %+v, %v", third, err)
	}
	if reader.callCount() != 2 {
		t.Fatalf("OCR ran %d times", reader.callCount())
	}
}

func TestScanOnce(t *testing.T) {
	reader := &fakeReader{}
	reader.set("L1ghtn1ng B0lt", 78, "#148")
	res := &fakeResolver{}
	p := NewPipeline(reader, readyIndex(t), res, 3, logging.Discard())

	rec, err := p.ScanOnce(context.Background(), capture.NewStillCapturer(cardImage(), "test"))
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if rec.Match == nil || rec.Match.Match.Name != "Lightning Bolt" || rec.Match.Match.CollectorNumber != "148" {
		t.Fatalf("unexpected recognition %+v", rec.Match)
	}
}

type fakePersister struct {
	mu    sync.Mutex
	scans []*FinalizedScan
}

func (f *fakePersister) PersistScan(ctx context.Context, scan *FinalizedScan) error {
	f.mu.Lock()
	f.scans = append(f.scans, scan)
	f.mu.Unlock()
	return nil
}

type managerFixture struct {
	manager   *Manager
	reader    *fakeReader
	resolver  *fakeResolver
	persister *fakePersister
	opened    *atomic.Int32
}

func newManagerFixture(t *testing.T, openErr error) *managerFixture {
	t.Helper()
	f := &managerFixture{
		reader:    &fakeReader{},
		resolver:  &fakeResolver{},
		persister: &fakePersister{},
		opened:    &atomic.Int32{},
	}
	device := capture.NewDevice(func(ctx context.Context) (capture.Capturer, error) {
		if openErr != nil {
			return nil, openErr
		}
		f.opened.Add(1)
		return capture.NewStillCapturer(cardImage(), "test"), nil
	})
	f.manager = NewManager(ManagerConfig{
		Device:    device,
		Pipeline:  NewPipeline(f.reader, readyIndex(t), f.resolver, 3, logging.Discard()),
		Resolver:  f.resolver,
		Index:     readyIndex(t),
		Persister: f.persister,
		Defaults:  testSettings,
		Logger:    logging.Discard(),
	})
	t.Cleanup(func() { f.manager.Close() })
	return f
}

func TestManagerSessionLifecycle(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	snap, err := f.manager.Create(ctx, testSettings)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.State != StateIdle || snap.ID == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if _, err := f.manager.Create(ctx, testSettings); !scanerrors.HasCode(err, scanerrors.ErrorDeviceBusy) {
		t.Fatalf("expected DEVICE_BUSY for a second session, got %v", err)
	}

	f.reader.set("L1ghtn1ng B0lt\nC0unterspel1", 80, "148/280")
	tick, n, err := f.manager.CaptureLines(ctx, snap.ID)
	if err != nil || n != 2 || len(tick.Lines) != 2 {
		t.Fatalf("CaptureLines: tick=%+v n=%d err=%v", tick, n, err)
	}

	f.reader.set("Lightning Bolt", 30, "")
	if _, n, _ := f.manager.CaptureLines(ctx, snap.ID); n != 0 {
		t.Fatalf("low confidence capture appended %d lines", n)
	}

	matches, err := f.manager.Resolve(ctx, snap.ID)
	if err != nil || len(matches) != 2 {
		t.Fatalf("Resolve: %v, %v", matches, err)
	}
	if f.resolver.hints[0] != "148" {
		t.Fatalf("resolve should use the last hint, got %q", f.resolver.hints[0])
	}

	scan, err := f.manager.Finalize(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !scan.Persisted || len(scan.Tally) != 2 || scan.AcceptedCount != 2 {
		t.Fatalf("unexpected finalized scan %+v", scan)
	}
	if len(f.persister.scans) != 1 || f.persister.scans[0].RecordID != scan.RecordID {
		t.Fatal("finalized scan was not handed to the persister")
	}
	if got, _ := f.manager.Get(snap.ID); got.AcceptedCount != 0 || len(got.Candidates) != 0 {
		t.Fatalf("session should be cleared after finalize, got %+v", got)
	}

	if err := f.manager.Delete(snap.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.manager.Get(snap.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := f.manager.Delete(snap.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Delete: %v", err)
	}

	if _, err := f.manager.Create(ctx, testSettings); err != nil {
		t.Fatalf("device should be free after Delete: %v", err)
	}
	if f.opened.Load() != 2 {
		t.Fatalf("stream opened %d times", f.opened.Load())
	}
}

func TestManagerAutoCapture(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.reader.set("L1ghtn1ng B0lt", 90, "")
	ctx := context.Background()

	snap, err := f.manager.Create(ctx, testSettings)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.manager.Start(snap.ID, MinInterval, 2); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, _ := f.manager.Get(snap.ID)
		if got.State == StateStoppedByTarget {
			if got.AcceptedCount != 2 || got.Candidates[0] != "Lightning Bolt" {
				t.Fatalf("unexpected snapshot %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("auto-capture did not reach target: %+v", got)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := f.manager.Start("missing", 0, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerRetriesWeakReadOfSameFrame(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.manager.cfg.ChangeDetection = true
	f.reader.set("Lightning Bolt", 40, "")
	ctx := context.Background()

	snap, err := f.manager.Create(ctx, testSettings)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.manager.Start(snap.ID, MinInterval, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.reader.callCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no tick ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
	f.reader.set("Lightning Bolt", 95, "")

	for {
		got, _ := f.manager.Get(snap.ID)
		if got.State == StateStoppedByTarget {
			if got.AcceptedCount != 1 {
				t.Fatalf("unexpected snapshot %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("still frame was never read again after a weak read: %+v, OCR calls %d", got, f.reader.callCount())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestManualCaptureStopsAutoCaptureAtTarget(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	snap, err := f.manager.Create(ctx, testSettings)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// long interval so no auto tick lands during the test
	if _, err := f.manager.Start(snap.ID, 10*time.Second, 2); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.reader.set("Lightning Bolt\nCounterspell", 90, "")
	if _, n, err := f.manager.CaptureLines(ctx, snap.ID); err != nil || n != 2 {
		t.Fatalf("CaptureLines: n=%d err=%v", n, err)
	}

	got, _ := f.manager.Get(snap.ID)
	if got.State != StateStoppedByTarget || got.AcceptedCount != 2 {
		t.Fatalf("manual capture reaching the target should stop auto-capture, got %+v", got)
	}

	f.manager.mu.Lock()
	sched := f.manager.sessions[snap.ID].scheduler
	f.manager.mu.Unlock()
	waitDone(t, sched, time.Second)
}

func TestManagerCreateFailures(t *testing.T) {
	camErr := scanerrors.NewCameraUnavailableError("webcam 0", errors.New("permission denied"))
	f := newManagerFixture(t, camErr)
	if _, err := f.manager.Create(context.Background(), testSettings); !scanerrors.HasCode(err, scanerrors.ErrorCameraUnavailable) {
		t.Fatalf("expected CAMERA_UNAVAILABLE, got %v", err)
	}
	if f.manager.Count() != 0 {
		t.Fatal("failed Create should not register a session")
	}

	if _, err := f.manager.Create(context.Background(), Settings{Threshold: 65, Interval: time.Millisecond, TargetCount: 1}); !scanerrors.HasCode(err, scanerrors.ErrorInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}

	m := NewManager(ManagerConfig{
		Device:   capture.NewDevice(func(ctx context.Context) (capture.Capturer, error) { return nil, nil }),
		Pipeline: NewPipeline(&fakeReader{}, readyIndex(t), nil, 3, logging.Discard()),
		Resolver: &fakeResolver{},
		Index:    nameindex.New(nameindex.Config{Source: failingNames{}, Logger: logging.Discard()}),
		Logger:   logging.Discard(),
	})
	defer m.Close()
	if _, err := m.Create(context.Background(), testSettings); !scanerrors.HasCode(err, scanerrors.ErrorIndexBuildFailed) {
		t.Fatalf("expected INDEX_BUILD_FAILED, got %v", err)
	}
}

func TestRecognizeImage(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.reader.set("C0unterspel1", 88, "267/303")

	rec, err := f.manager.RecognizeImage(context.Background(), cardImage(), "upload")
	if err != nil {
		t.Fatalf("RecognizeImage: %v", err)
	}
	if rec.Tick.Candidate != "Counterspell" || rec.Match == nil || rec.Match.Match.CollectorNumber != "267" {
		t.Fatalf("unexpected recognition %+v", rec)
	}
	if f.opened.Load() != 0 {
		t.Fatal("single-shot recognition must not lease the capture device")
	}
}
