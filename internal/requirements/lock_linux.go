//go:build linux

package requirements

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

var errFlockUnavailable = errors.New("flock not available on this platform")

// tagLock is an exclusive flock on root/.<tag>.lock. It serializes installs
// for a tag across processes sharing the cache root; the kernel drops it if
// the holder dies.
type tagLock struct {
	file *os.File
}

func acquireTagLock(root, tag string) (*tagLock, error) {
	path := lockPath(root, tag)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &tagLock{file: f}, nil
}

// Release is safe to call more than once.
func (l *tagLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		log.Debug("flock unlock failed", "err", err)
	}
	if err := l.file.Close(); err != nil {
		log.Debug("lock file close failed", "err", err)
	}
	l.file = nil
}

func lockPath(root, tag string) string {
	return filepath.Join(root, "."+tag+".lock")
}
