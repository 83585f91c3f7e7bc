package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// ErrServiceClosed is returned for requests made after Close
var ErrServiceClosed = errors.New("ocr service closed")

type job struct {
	img     image.Image
	profile Profile
	reply   chan reply
}

type reply struct {
	result Result
	err    error
}

// Service owns an Engine on a dedicated goroutine and serves recognition
// requests over a channel. Images are handed over by reference; callers must
// not modify an image after passing it to Recognize.
type Service struct {
	engine  Engine
	timeout time.Duration
	logger  *logging.Logger

	requests  chan *job
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewService starts the recognition worker
func NewService(engine Engine, timeout time.Duration, logger *logging.Logger) *Service {
	s := &Service{
		engine:   engine,
		timeout:  timeout,
		logger:   logger,
		requests: make(chan *job),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case j := <-s.requests:
			res, err := s.recognize(j)
			// reply is buffered, so a caller that already timed out never blocks the worker
			j.reply <- reply{result: res, err: err}
		}
	}
}

func (s *Service) recognize(j *job) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("engine panic: %v", rec)
		}
	}()

	start := time.Now()
	res, err = s.engine.Recognize(j.img, j.profile)
	res.Duration = time.Since(start)
	return res, err
}

// Recognize runs the engine on img, enforcing the service timeout.
// Timeouts map to OCR_TIMEOUT and engine errors to OCR_FAILED.
func (s *Service) Recognize(ctx context.Context, img image.Image, profile Profile) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	j := &job{img: img, profile: profile, reply: make(chan reply, 1)}

	select {
	case s.requests <- j:
	case <-s.done:
		return Result{}, ErrServiceClosed
	case <-callCtx.Done():
		return Result{}, s.classify(ctx, callCtx, profile)
	}

	select {
	case r := <-j.reply:
		if r.err != nil {
			return Result{}, scanerrors.NewOCRFailedError(profile.Name, r.err)
		}
		return r.result, nil
	case <-callCtx.Done():
		return Result{}, s.classify(ctx, callCtx, profile)
	}
}

func (s *Service) classify(parent, callCtx context.Context, profile Profile) error {
	if parent.Err() == context.Canceled {
		return parent.Err()
	}
	if callCtx.Err() == context.DeadlineExceeded {
		s.logger.Warn("Recognition timed out", "region", profile.Name, "timeout", s.timeout)
		return scanerrors.NewOCRTimeoutError(profile.Name, s.timeout, callCtx.Err())
	}
	return callCtx.Err()
}

// Close stops the worker, waiting for an in-flight recognition, and closes the engine
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.engine.Close()
	})
	return err
}
