//go:build !linux

package executor

import (
	"errors"
	"os"
)

func DemotePrivileges(_, _ int) error {
	if os.Geteuid() == 0 {
		return errors.New("privilege demotion is only supported on linux")
	}
	return nil
}
