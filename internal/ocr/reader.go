package ocr

import (
	"context"
	"image"

	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/preprocess"
)

// Recognizer is the request/response surface of Service
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, profile Profile) (Result, error)
}

// Reading is the OCR output for one frame
type Reading struct {
	Name      Result
	Number    Result
	NumberErr error
}

// RegionReader crops, enhances and recognizes the name and number bands of a frame
type RegionReader struct {
	pre    *preprocess.Preprocessor
	rec    Recognizer
	logger *logging.Logger

	NameRegion   preprocess.Region
	NumberRegion preprocess.Region
}

// NewRegionReader creates a reader using the default card bands
func NewRegionReader(pre *preprocess.Preprocessor, rec Recognizer, logger *logging.Logger) *RegionReader {
	return &RegionReader{
		pre:          pre,
		rec:          rec,
		logger:       logger,
		NameRegion:   preprocess.NameBand,
		NumberRegion: preprocess.NumberBand,
	}
}

// Read recognizes the name band, failing if it fails, then the number band on a
// best-effort basis: a number failure is recorded in NumberErr and leaves Number empty.
func (r *RegionReader) Read(ctx context.Context, frame *capture.Frame) (*Reading, error) {
	nameImg, err := r.pre.Prepare(frame, r.NameRegion)
	if err != nil {
		return nil, err
	}
	name, err := r.rec.Recognize(ctx, nameImg, NameProfile)
	if err != nil {
		return nil, err
	}

	reading := &Reading{Name: name}

	numberImg, err := r.pre.Prepare(frame, r.NumberRegion)
	if err == nil {
		reading.Number, err = r.rec.Recognize(ctx, numberImg, NumberProfile)
	}
	if err != nil {
		r.logger.Debug("Collector number unreadable", "error", err)
		reading.Number = Result{}
		reading.NumberErr = err
	}

	return reading, nil
}
