//go:build !linux

package notify

import "errors"

// ErrUnsupported is returned where desktop notifications have no
// backend.
var ErrUnsupported = errors.New("notify: desktop notifications not supported on this platform")

// DesktopNotifier is unavailable outside Linux.
type DesktopNotifier struct{}

// NewDesktopNotifier reports that no desktop backend exists.
func NewDesktopNotifier() (*DesktopNotifier, error) {
	return nil, ErrUnsupported
}

// Close is a no-op.
func (d *DesktopNotifier) Close() error { return nil }
