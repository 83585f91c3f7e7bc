package tesseract

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/otiai10/gosseract/v2"

	"github.com/Epetaway/mtg-proxy-generator/internal/ocr"
)

func TestMeanWordConfidence(t *testing.T) {
	tests := []struct {
		name  string
		boxes []gosseract.BoundingBox
		want  float64
	}{
		{"no words", nil, 0},
		{"blank words ignored", []gosseract.BoundingBox{{Word: " ", Confidence: 10}, {Word: "Bolt", Confidence: 80}}, 80},
		{"average", []gosseract.BoundingBox{{Word: "Lightning", Confidence: 70}, {Word: "Bolt", Confidence: 90}}, 80},
		{"clamped", []gosseract.BoundingBox{{Word: "x", Confidence: 140}}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := meanWordConfidence(tt.boxes); got != tt.want {
				t.Errorf("meanWordConfidence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngineOnBlankImage(t *testing.T) {
	if os.Getenv("TESSERACT_TEST") != "1" {
		t.Skipf("Skipping Tesseract test: set TESSERACT_TEST=1 to run")
	}

	eng, err := NewEngine(Config{Language: "eng"})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	img := image.NewGray(image.Rect(0, 0, 200, 40))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(0, 0, color.Gray{Y: 0})

	res, err := eng.Recognize(img, ocr.NameProfile)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Confidence < 0 || res.Confidence > 100 {
		t.Fatalf("confidence out of range: %v", res.Confidence)
	}
}
