package preprocess

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// Preprocessor crops bands out of frames and enhances them for OCR.
// Enhancement never fails the pipeline: on a backend error the raw crop is used.
type Preprocessor struct {
	binarizer Binarizer
	logger    *logging.Logger
}

// NewPreprocessor creates a preprocessor; a nil binarizer means pass-through
func NewPreprocessor(b Binarizer, logger *logging.Logger) *Preprocessor {
	if b == nil {
		b = PassThrough{}
	}
	return &Preprocessor{binarizer: b, logger: logger}
}

// Backend names the active binarization backend
func (p *Preprocessor) Backend() string {
	return p.binarizer.Name()
}

// Extract crops a region out of a frame
func (p *Preprocessor) Extract(frame *capture.Frame, r Region) (image.Image, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("extract %s: empty frame", r.Name)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rect := r.Rect(frame.Image.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("extract %s: region outside %dx%d frame", r.Name, frame.Width, frame.Height)
	}
	return imaging.Crop(frame.Image, rect), nil
}

// Enhance binarizes img, returning it unchanged when the backend fails
func (p *Preprocessor) Enhance(img image.Image) (out image.Image) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("Binarizer panicked, using raw crop", "backend", p.binarizer.Name(), "panic", rec)
			out = img
		}
	}()

	enhanced, err := p.binarizer.Binarize(img)
	if err != nil || enhanced == nil {
		p.logger.Warn("Binarizer failed, using raw crop", "backend", p.binarizer.Name(), "error", err)
		return img
	}
	return enhanced
}

// Prepare crops a region and enhances it when the region asks for binarization
func (p *Preprocessor) Prepare(frame *capture.Frame, r Region) (image.Image, error) {
	crop, err := p.Extract(frame, r)
	if err != nil {
		return nil, err
	}
	if !r.Binarize {
		return crop, nil
	}
	return p.Enhance(crop), nil
}
