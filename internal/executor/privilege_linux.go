//go:build linux

package executor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var errRegainedRoot = errors.New("privileges could be regained after demotion")

// DemotePrivileges drops supplementary groups, then the group, then the user.
// It is a no-op unless the process runs as root.
func DemotePrivileges(uid, gid int) error {
	if unix.Geteuid() != 0 {
		return nil
	}
	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups(%d): %w", gid, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}
	if uid != 0 && unix.Setuid(0) == nil {
		return errRegainedRoot
	}
	return nil
}
