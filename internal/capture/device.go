package capture

import (
	"context"
	"sync"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
)

// Opener starts the underlying stream of a capture device
type Opener func(ctx context.Context) (Capturer, error)

// Device is the single physical capture device. One session at a time holds a
// lease on it; the stream is opened on Acquire and stopped on Release.
type Device struct {
	open Opener

	mu     sync.Mutex
	owner  string
	stream Capturer
}

// NewDevice wraps an opener as an exclusively leased device
func NewDevice(open Opener) *Device {
	return &Device{open: open}
}

// Acquire opens the stream for owner. Re-acquiring by the current owner returns
// the same stream; any other owner gets DEVICE_BUSY.
func (d *Device) Acquire(ctx context.Context, owner string) (Capturer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		if d.owner == owner {
			return d.stream, nil
		}
		return nil, scanerrors.NewDeviceBusyError(d.owner)
	}

	stream, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	d.owner = owner
	d.stream = stream
	return stream, nil
}

// Release stops the stream if owner holds it. Releasing twice is a no-op.
func (d *Device) Release(owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil || d.owner != owner {
		return nil
	}
	err := d.stream.Close()
	d.stream = nil
	d.owner = ""
	return err
}

// Owner returns the current lease holder, or "" when the device is free
func (d *Device) Owner() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner
}

// Close force-releases the device regardless of owner
func (d *Device) Close() error {
	d.mu.Lock()
	owner := d.owner
	d.mu.Unlock()
	return d.Release(owner)
}
