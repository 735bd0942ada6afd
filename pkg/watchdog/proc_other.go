//go:build !unix

package watchdog

import "errors"

// Process-group supervision needs POSIX sessions; the watchdog only
// runs on the kiosk targets.
func spawnCommand([]string) (Child, error) {
	return nil, errors.New("watchdog: process supervision unsupported on this platform")
}
