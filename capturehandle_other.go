//go:build !linux

package trafficsim

import "errors"

// ErrLiveCaptureUnsupported indicates that live capture is not supported.
var ErrLiveCaptureUnsupported = errors.New("trafficsim: live capture requires linux")

// OpenLiveInterface always fails on this platform. This function is a
// [CaptureOpener].
func OpenLiveInterface(name string) (CaptureHandle, error) {
	return nil, ErrLiveCaptureUnsupported
}
