/**
 * OCR Types - shared data structures for band recognition
 *
 * The engine behind these types is a black box: an image goes in, text and a
 * 0..100 confidence come out.
 */

package ocr

import (
	"image"
	"time"
)

// Result is the recognized text of one band
type Result struct {
	Text       string
	Confidence float64 // 0..100
	Duration   time.Duration
}

// Profile tunes the engine for a band
type Profile struct {
	Name       string
	Whitelist  string
	SingleLine bool
}

// CollectorChars covers collector numbers such as "148/280", "#12a" or "ST12"
const CollectorChars = "0123456789/#ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz "

var (
	// NameProfile reads the title band as free text
	NameProfile = Profile{Name: "name"}

	// NumberProfile reads the collector number line
	NumberProfile = Profile{Name: "number", Whitelist: CollectorChars, SingleLine: true}
)

// Engine recognizes text in an image. Implementations need not be goroutine safe.
type Engine interface {
	Recognize(img image.Image, profile Profile) (Result, error)
	Close() error
}
