/**
 * Tesseract OCR engine
 *
 * Offline recognition through gosseract. A gosseract client is not goroutine
 * safe; the engine is meant to be owned by a single ocr.Service worker.
 */

package tesseract

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/Epetaway/mtg-proxy-generator/internal/ocr"
)

// Config holds Tesseract configuration
type Config struct {
	Language string
	// TessdataPrefix overrides the tessdata directory when set
	TessdataPrefix string
}

// Engine recognizes card bands with a long-lived gosseract client
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates the client and applies language settings
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}

	client := gosseract.NewClient()
	if cfg.TessdataPrefix != "" {
		client.TessdataPrefix = cfg.TessdataPrefix
	}
	if err := client.SetLanguage(cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// card names are proper nouns; dictionary correction mangles them
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	return &Engine{client: client}, nil
}

// Version reports the linked Tesseract version
func (e *Engine) Version() string {
	return e.client.Version()
}

// Recognize implements ocr.Engine
func (e *Engine) Recognize(img image.Image, profile ocr.Profile) (ocr.Result, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to encode %s band: %w", profile.Name, err)
	}

	mode := gosseract.PSM_SINGLE_BLOCK
	if profile.SingleLine {
		mode = gosseract.PSM_SINGLE_LINE
	}
	if err := e.client.SetPageSegMode(mode); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to set page segmentation: %w", err)
	}
	if err := e.client.SetWhitelist(profile.Whitelist); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to set whitelist: %w", err)
	}

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract word boxes failed: %w", err)
	}

	return ocr.Result{
		Text:       strings.TrimSpace(text),
		Confidence: meanWordConfidence(boxes),
	}, nil
}

// Close releases the Tesseract client
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// meanWordConfidence averages per-word confidences, ignoring empty words
func meanWordConfidence(boxes []gosseract.BoundingBox) float64 {
	var sum float64
	var n int
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		sum += b.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	conf := sum / float64(n)
	if conf < 0 {
		return 0
	}
	if conf > 100 {
		return 100
	}
	return conf
}
