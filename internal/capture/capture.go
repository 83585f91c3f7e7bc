/**
 * Frame capture for the card scanner
 *
 * A Capturer reads the current frame of a live source into a still buffer at
 * native resolution. Reading is non-destructive; the stream keeps running.
 */

package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
)

// Frame is one still image grabbed from a capture source
type Frame struct {
	Image      image.Image
	Width      int
	Height     int
	CapturedAt time.Time
	Source     string
}

// NewFrame wraps an image as a Frame
func NewFrame(img image.Image, source string) *Frame {
	b := img.Bounds()
	return &Frame{
		Image:      img,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
		Source:     source,
	}
}

// Capturer is implemented by every frame source
type Capturer interface {
	// AcquireFrame returns the current frame, or CAMERA_UNAVAILABLE when no stream is active
	AcquireFrame(ctx context.Context) (*Frame, error)
	// Close stops the underlying stream
	Close() error
}

// StillCapturer serves one fixed image, for uploads and single-shot CLI scans
type StillCapturer struct {
	frame  *Frame
	closed bool
}

// NewStillCapturer wraps an already decoded image
func NewStillCapturer(img image.Image, source string) *StillCapturer {
	return &StillCapturer{frame: NewFrame(img, source)}
}

// DecodeStill decodes an encoded image (png/jpeg/gif/bmp/tiff) into a StillCapturer
func DecodeStill(data []byte, source string) (*StillCapturer, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return NewStillCapturer(img, source), nil
}

// OpenStill loads an image file into a StillCapturer
func OpenStill(path string) (*StillCapturer, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	return NewStillCapturer(img, path), nil
}

func (s *StillCapturer) AcquireFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.frame == nil {
		return nil, scanerrors.NewCameraUnavailableError("still", nil)
	}
	f := *s.frame
	f.CapturedAt = time.Now()
	return &f, nil
}

func (s *StillCapturer) Close() error {
	s.closed = true
	return nil
}
