package vision

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

func requireOpenCV(t *testing.T) {
	t.Helper()
	if os.Getenv("OPENCV_TEST") != "1" {
		t.Skipf("Skipping OpenCV test: set OPENCV_TEST=1 to run")
	}
}

func TestOtsuBinarizer(t *testing.T) {
	requireOpenCV(t)

	img := image.NewRGBA(image.Rect(0, 0, 80, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 80; x++ {
			c := color.RGBA{R: 235, G: 225, B: 210, A: 255}
			if x%8 < 3 && y > 6 && y < 18 {
				c = color.RGBA{R: 15, G: 15, B: 20, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	out, err := OtsuBinarizer{}.Binarize(img)
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	gray := out.(*image.Gray)
	if gray.Bounds().Dx() != 80 || gray.Bounds().Dy() != 24 {
		t.Fatalf("unexpected size %v", gray.Bounds())
	}
	if gray.GrayAt(1, 12).Y != 0 || gray.GrayAt(5, 2).Y != 255 {
		t.Fatalf("ink should be black and paper white")
	}
}

func TestWebcamUnavailable(t *testing.T) {
	requireOpenCV(t)

	if _, err := OpenWebcam(97, logging.Discard()); err == nil {
		t.Fatal("expected an error for a missing camera")
	}
}
