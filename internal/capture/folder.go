package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// settleDelay is how long a dropped file must stay untouched before it is read
const settleDelay = 300 * time.Millisecond

// FolderCapturer treats a directory as a camera: a tethering tool writes frames
// into it and the newest settled image is the current frame.
type FolderCapturer struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu     sync.RWMutex
	latest string
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewFolderCapturer starts watching dir; an existing newest image becomes the current frame
func NewFolderCapturer(dir string, logger *logging.Logger) (*FolderCapturer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, scanerrors.NewCameraUnavailableError("folder:"+dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, scanerrors.NewCameraUnavailableError("folder:"+dir, err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, scanerrors.NewCameraUnavailableError("folder:"+dir, err)
	}

	fc := &FolderCapturer{
		dir:     dir,
		watcher: w,
		logger:  logger,
		latest:  newestImage(dir),
		done:    make(chan struct{}),
	}

	fc.wg.Add(1)
	go fc.watch()

	logger.Info("Watching frame folder", "dir", dir, "current", filepath.Base(fc.latest))
	return fc, nil
}

func (f *FolderCapturer) watch() {
	defer f.wg.Done()

	pending := map[string]time.Time{}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isFrameFile(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			var newest string
			var newestAt time.Time
			for name, at := range pending {
				if now.Sub(at) < settleDelay {
					continue
				}
				if newest == "" || at.After(newestAt) {
					newest, newestAt = name, at
				}
				delete(pending, name)
			}
			if newest != "" {
				f.mu.Lock()
				f.latest = newest
				f.mu.Unlock()
				f.logger.Debug("New frame settled", "file", filepath.Base(newest))
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("Frame folder watch error", "error", err)
		}
	}
}

func (f *FolderCapturer) AcquireFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	latest, closed := f.latest, f.closed
	f.mu.RUnlock()

	source := "folder:" + f.dir
	if closed || latest == "" {
		return nil, scanerrors.NewCameraUnavailableError(source, nil)
	}

	img, err := imaging.Open(latest, imaging.AutoOrientation(true))
	if err != nil {
		return nil, scanerrors.NewCameraUnavailableError(source, err)
	}
	return NewFrame(img, latest), nil
}

func (f *FolderCapturer) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	close(f.done)
	err := f.watcher.Close()
	f.wg.Wait()
	return err
}

func newestImage(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !isFrameFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest, newestMod = filepath.Join(dir, e.Name()), info.ModTime()
		}
	}
	return newest
}

func isFrameFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}
