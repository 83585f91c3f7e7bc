package scanner

import (
	"context"
	"time"

	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/normalize"
	"github.com/Epetaway/mtg-proxy-generator/internal/ocr"
	"github.com/Epetaway/mtg-proxy-generator/internal/preprocess"
)

// FrameReader recognizes the bands of a frame
type FrameReader interface {
	Read(ctx context.Context, frame *capture.Frame) (*ocr.Reading, error)
}

// Suggester maps noisy text to canonical names
type Suggester interface {
	Suggest(query string, limit int) []string
}

// Resolver resolves candidates to printings
type Resolver interface {
	Resolve(ctx context.Context, candidates []string, numberHint string) []catalog.ResolvedMatch
}

// Tick is the outcome of one capture cycle
type Tick struct {
	Raw         string    `json:"raw"`
	Candidate   string    `json:"candidate"`
	Lines       []string  `json:"lines"`
	Suggestions []string  `json:"suggestions"`
	Confidence  float64   `json:"confidence"`
	NumberText  string    `json:"numberText,omitempty"`
	NumberHint  string    `json:"numberHint,omitempty"`
	Skipped     bool      `json:"skipped,omitempty"`
	CapturedAt  time.Time `json:"capturedAt"`

	// seen commits the frame to the change detector once the tick is accepted
	seen func()
}

// markSeen records the tick's frame as the change detector reference
func (t *Tick) markSeen() {
	if t != nil && t.seen != nil {
		t.seen()
	}
}

// Recognition is a single-shot scan result
type Recognition struct {
	Tick  *Tick                  `json:"tick"`
	Match *catalog.ResolvedMatch `json:"match,omitempty"`
}

// Pipeline runs acquire, preprocess, OCR, normalize and fuzzy suggest
type Pipeline struct {
	reader       FrameReader
	names        Suggester
	resolver     Resolver
	suggestLimit int
	logger       *logging.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(reader FrameReader, names Suggester, resolver Resolver, suggestLimit int, logger *logging.Logger) *Pipeline {
	if suggestLimit < 1 {
		suggestLimit = 5
	}
	return &Pipeline{
		reader:       reader,
		names:        names,
		resolver:     resolver,
		suggestLimit: suggestLimit,
		logger:       logger,
	}
}

// CaptureOnce runs one cycle against src. When detector is set and the frame
// looks like the last accepted one, OCR is skipped and the tick is marked Skipped.
func (p *Pipeline) CaptureOnce(ctx context.Context, src capture.Capturer, detector *preprocess.ChangeDetector) (*Tick, error) {
	frame, err := src.AcquireFrame(ctx)
	if err != nil {
		return nil, err
	}
	if detector == nil {
		return p.Process(ctx, frame)
	}

	changed, sig := detector.Check(frame.Image)
	if !changed {
		return &Tick{Skipped: true, CapturedAt: frame.CapturedAt}, nil
	}
	tick, err := p.Process(ctx, frame)
	if err != nil {
		return nil, err
	}
	tick.seen = func() { detector.Commit(sig) }
	return tick, nil
}

// Process recognizes an already acquired frame
func (p *Pipeline) Process(ctx context.Context, frame *capture.Frame) (*Tick, error) {
	reading, err := p.reader.Read(ctx, frame)
	if err != nil {
		return nil, err
	}

	tick := &Tick{
		Raw:         reading.Name.Text,
		Confidence:  reading.Name.Confidence,
		NumberText:  reading.Number.Text,
		NumberHint:  normalize.NumberHint(reading.Number.Text),
		Lines:       []string{},
		Suggestions: []string{},
		CapturedAt:  frame.CapturedAt,
	}

	lines := normalize.All(reading.Name.Text)
	for _, line := range lines {
		tick.Lines = append(tick.Lines, p.canonical(line))
	}
	if len(lines) > 0 {
		tick.Candidate = tick.Lines[0]
		tick.Suggestions = p.names.Suggest(lines[0], p.suggestLimit)
	}

	p.logger.Debug("Frame recognized",
		"candidate", tick.Candidate,
		"confidence", tick.Confidence,
		"number_hint", tick.NumberHint,
		"ocr_ms", reading.Name.Duration.Milliseconds())
	return tick, nil
}

// canonical returns the closest known name, or the normalized text when none is close
func (p *Pipeline) canonical(line string) string {
	if s := p.names.Suggest(line, 1); len(s) > 0 {
		return s[0]
	}
	return line
}

// ScanOnce captures one frame and resolves its candidate to a printing
func (p *Pipeline) ScanOnce(ctx context.Context, src capture.Capturer) (*Recognition, error) {
	tick, err := p.CaptureOnce(ctx, src, nil)
	if err != nil {
		return nil, err
	}

	rec := &Recognition{Tick: tick}
	if tick.Candidate == "" || p.resolver == nil {
		return rec, nil
	}

	matches := p.resolver.Resolve(ctx, []string{tick.Candidate}, tick.NumberHint)
	if len(matches) > 0 {
		rec.Match = &matches[0]
	}
	return rec, nil
}
