package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is created in the data directory while the daemon runs
const PIDFileName = "knowhub.pid"

// LifecycleManager owns the PID file of a running daemon
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	return &LifecycleManager{
		daemon:  d,
		pidFile: PIDFile(d.config.DataDir),
	}
}

// Start creates the data directory and writes the PID file
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.daemon.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if running, pid := IsRunning(l.pidFile); running && pid != os.Getpid() {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.daemon.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")
	return nil
}

// Stop removes the PID file
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	l.daemon.logger.Info().Msg("Lifecycle manager stopped")
	return nil
}

// PIDFile returns the PID file path inside dataDir
func PIDFile(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// ReadPID reads the PID stored in pidFile
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// IsRunning reports whether the process named by pidFile is alive
func IsRunning(pidFile string) (bool, int) {
	pid, err := ReadPID(pidFile)
	if err != nil || pid <= 0 {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, pid
	}

	// FindProcess always succeeds on Unix; signal 0 probes for existence
	return process.Signal(syscall.Signal(0)) == nil, pid
}
