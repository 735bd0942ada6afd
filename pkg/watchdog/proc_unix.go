//go:build unix

package watchdog

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// osChild wraps one spawned process group. The child is started as a
// session leader so a single group signal reaches its whole subtree.
type osChild struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// spawnCommand starts argv with stdout/stderr inherited from the
// supervisor (no pipes to fill up) in a fresh session.
func spawnCommand(argv []string) (Child, error) {
	if len(argv) == 0 {
		return nil, errors.New("watchdog: empty child command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &osChild{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

func (c *osChild) PID() int { return c.cmd.Process.Pid }

func (c *osChild) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Stop signals the whole process group: SIGTERM, bounded wait, then
// SIGKILL. "Already gone" at any step is success.
func (c *osChild) Stop(log *zap.Logger, grace time.Duration) {
	if c.Exited() {
		log.Info("API server already stopped", zap.Int("pid", c.PID()))
		return
	}

	pid := c.PID()
	log.Info("stopping API server", zap.Int("pid", pid))

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Process vanished between the Exited check and here.
		log.Debug("process already gone", zap.Int("pid", pid))
		return
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			log.Debug("process group already gone", zap.Int("pgid", pgid))
			return
		}
		log.Error("failed to signal process group", zap.Int("pgid", pgid), zap.Error(err))
	}

	select {
	case <-c.done:
		log.Info("API server stopped gracefully")
		return
	case <-time.After(grace):
	}

	log.Warn("API server did not stop, sending SIGKILL", zap.Int("pgid", pgid))
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Error("failed to kill process group", zap.Int("pgid", pgid), zap.Error(err))
	}
	<-c.done
	log.Info("API server killed")
}
