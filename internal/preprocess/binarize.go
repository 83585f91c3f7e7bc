package preprocess

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Binarizer turns a cropped band into a high-contrast black/white image
type Binarizer interface {
	Name() string
	Binarize(img image.Image) (image.Image, error)
}

// PassThrough leaves images untouched
type PassThrough struct{}

func (PassThrough) Name() string { return "none" }

func (PassThrough) Binarize(img image.Image) (image.Image, error) { return img, nil }

// ImagingBinarizer is the pure-Go backend: grayscale, Gaussian blur, Otsu threshold
type ImagingBinarizer struct {
	// Sigma of the Gaussian blur; 0.8 roughly matches a 3x3 kernel
	Sigma float64
}

// NewImagingBinarizer returns the pure-Go backend with a 3x3-equivalent blur
func NewImagingBinarizer() *ImagingBinarizer {
	return &ImagingBinarizer{Sigma: 0.8}
}

func (b *ImagingBinarizer) Name() string { return "imaging" }

func (b *ImagingBinarizer) Binarize(img image.Image) (image.Image, error) {
	gray := imaging.Grayscale(img)
	if b.Sigma > 0 {
		gray = imaging.Blur(gray, b.Sigma)
	}

	bounds := gray.Bounds()
	var hist [256]int
	for y := 0; y < bounds.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+bounds.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			hist[row[x]]++
		}
	}
	t := OtsuThreshold(hist)

	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			v := gray.Pix[y*gray.Stride+x*4]
			if v > t {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out, nil
}

// OtsuThreshold picks the gray level that maximizes between-class variance
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	sum := 0.0
	for i, n := range hist {
		total += n
		sum += float64(i * n)
	}
	if total == 0 {
		return 0
	}

	var (
		sumB    float64
		weightB int
		best    float64
		t       uint8
	)
	for i := 0; i < 256; i++ {
		weightB += hist[i]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(i * hist[i])
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			t = uint8(i)
		}
	}
	return t
}
