package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const markerName = "linewatch.boot"

// WriteBootMarker clears any stale marker and writes a fresh one in the
// scratch directory. The marker is informational only; failures are
// returned for logging, never fatal.
func WriteBootMarker(pid int, now time.Time) (string, error) {
	path := filepath.Join(os.TempDir(), markerName)
	_ = os.Remove(path)
	body := fmt.Sprintf("pid=%d booted=%s\n", pid, now.Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return path, fmt.Errorf("config: write boot marker: %w", err)
	}
	return path, nil
}
