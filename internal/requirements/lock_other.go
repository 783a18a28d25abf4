//go:build !linux

package requirements

import "errors"

var errFlockUnavailable = errors.New("flock not available on this platform")

type tagLock struct{}

// acquireTagLock always fails outside linux; callers fall back to the
// in-process tag mutex.
func acquireTagLock(_, _ string) (*tagLock, error) {
	return nil, errFlockUnavailable
}

func (l *tagLock) Release() {}
