package preprocess

import (
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rivo/duplo/haar"
)

const (
	signatureSide  = 32
	signatureBlock = 4
)

// ChangeDetector reports whether a frame differs visibly from the last one
// committed, using the low-frequency Haar coefficients of a small thumbnail.
// Check does not remember anything; a frame only becomes the reference once
// Commit is called for it, so weak or failed reads are retried.
type ChangeDetector struct {
	// Tolerance is the relative signature distance under which frames count as identical
	Tolerance float64

	mu   sync.Mutex
	last []float64
}

// NewChangeDetector creates a detector with the given tolerance
func NewChangeDetector(tolerance float64) *ChangeDetector {
	return &ChangeDetector{Tolerance: tolerance}
}

// Check returns true when nothing is committed yet or the frame's signature
// moved by more than the tolerance, along with the signature to commit.
func (d *ChangeDetector) Check(img image.Image) (bool, []float64) {
	sig := Signature(img)

	d.mu.Lock()
	defer d.mu.Unlock()

	changed := d.last == nil || SignatureDistance(d.last, sig) > d.Tolerance
	return changed, sig
}

// Commit makes sig the reference frame
func (d *ChangeDetector) Commit(sig []float64) {
	d.mu.Lock()
	d.last = sig
	d.mu.Unlock()
}

// Reset forgets the remembered frame
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	d.last = nil
	d.mu.Unlock()
}

// Signature computes the top-left block of luminance Haar coefficients of a thumbnail
func Signature(img image.Image) []float64 {
	thumb := imaging.Resize(img, signatureSide, signatureSide, imaging.Box)
	m := haar.Transform(thumb)

	sig := make([]float64, 0, signatureBlock*signatureBlock)
	for y := uint(0); y < signatureBlock && y < m.Height; y++ {
		for x := uint(0); x < signatureBlock && x < m.Width; x++ {
			sig = append(sig, m.Coefs[y*m.Width+x][0])
		}
	}
	return sig
}

// SignatureDistance is the L1 distance between signatures relative to their magnitude
func SignatureDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var diff, mag float64
	for i := range a {
		diff += math.Abs(a[i] - b[i])
		mag += math.Abs(a[i]) + math.Abs(b[i])
	}
	if mag == 0 {
		return 0
	}
	return diff / mag
}
