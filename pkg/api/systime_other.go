//go:build !linux

package api

import (
	"errors"
	"time"
)

func setSystemClock(time.Time) error {
	return errors.New("api: system clock adjustment not supported on this platform")
}
