/**
 * OpenCV-backed capture and binarization
 *
 * Kept in its own package so the rest of the pipeline builds and tests
 * without the OpenCV shared libraries.
 */

package vision

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// Webcam reads frames from a V4L/DirectShow camera through OpenCV
type Webcam struct {
	device int
	logger *logging.Logger

	mu     sync.Mutex
	cam    *gocv.VideoCapture
	buf    gocv.Mat
	closed bool
}

// OpenWebcam starts the camera stream at device index
func OpenWebcam(device int, logger *logging.Logger) (*Webcam, error) {
	cam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, scanerrors.NewCameraUnavailableError(sourceName(device), err)
	}
	if !cam.IsOpened() {
		cam.Close()
		return nil, scanerrors.NewCameraUnavailableError(sourceName(device), nil)
	}

	logger.Info("Camera stream opened", "device", device,
		"width", cam.Get(gocv.VideoCaptureFrameWidth),
		"height", cam.Get(gocv.VideoCaptureFrameHeight))

	return &Webcam{
		device: device,
		logger: logger,
		cam:    cam,
		buf:    gocv.NewMat(),
	}, nil
}

// Opener adapts OpenWebcam to a capture.Device opener
func Opener(device int, logger *logging.Logger) capture.Opener {
	return func(ctx context.Context) (capture.Capturer, error) {
		return OpenWebcam(device, logger)
	}
}

func (w *Webcam) AcquireFrame(ctx context.Context) (*capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, scanerrors.NewCameraUnavailableError(sourceName(w.device), nil)
	}
	if ok := w.cam.Read(&w.buf); !ok || w.buf.Empty() {
		return nil, scanerrors.NewCameraUnavailableError(sourceName(w.device), fmt.Errorf("empty read"))
	}

	img, err := w.buf.ToImage()
	if err != nil {
		return nil, scanerrors.NewCameraUnavailableError(sourceName(w.device), err)
	}
	return capture.NewFrame(img, sourceName(w.device)), nil
}

func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.buf.Close()
	w.logger.Info("Camera stream closed", "device", w.device)
	return w.cam.Close()
}

func sourceName(device int) string {
	return fmt.Sprintf("webcam:%d", device)
}
