//go:build linux

package api

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// setSystemClock sets the kernel wall clock. Needs CAP_SYS_TIME; on the
// kiosk image the service runs with it, elsewhere the EPERM is reported
// to the caller and nothing else happens.
func setSystemClock(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		return fmt.Errorf("api: settimeofday: %w", err)
	}
	return nil
}
