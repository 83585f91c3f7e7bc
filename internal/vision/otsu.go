package vision

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// OtsuBinarizer runs gray -> 3x3 Gaussian blur -> Otsu threshold in OpenCV
type OtsuBinarizer struct{}

func (OtsuBinarizer) Name() string { return "opencv" }

func (OtsuBinarizer) Binarize(img image.Image) (image.Image, error) {
	rgba := imaging.Clone(img)
	b := rgba.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	src, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap image: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBAToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(blurred, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	out := image.NewGray(image.Rect(0, 0, binary.Cols(), binary.Rows()))
	copy(out.Pix, binary.ToBytes())
	return out, nil
}
