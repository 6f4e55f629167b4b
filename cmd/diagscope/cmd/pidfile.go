package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// errAlreadyServing is returned when another process holds the PID lock.
var errAlreadyServing = errors.New("another diagscope server is running")

// pidFilePath returns the standard location for the diagscope PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".diagscope", "server.pid")
	}
	return filepath.Join(os.TempDir(), "diagscope-server.pid")
}

// acquirePIDFile locks path+".lock" for the life of the process and writes
// the current PID to path. The lock lives in a separate file so "stop" can
// read the PID on every platform. release removes the PID file and drops
// the lock.
func acquirePIDFile(path string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	lockFile, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLock(lockFile.Fd()); err != nil {
		_ = lockFile.Close()
		if pid := readPIDFile(path); pid != 0 {
			return nil, fmt.Errorf("%w (PID %d)", errAlreadyServing, pid)
		}
		return nil, errAlreadyServing
	}

	if err := writePIDFile(path); err != nil {
		_ = unlock(lockFile.Fd())
		_ = lockFile.Close()
		return nil, err
	}

	return func() {
		_ = os.Remove(path)
		_ = unlock(lockFile.Fd())
		_ = lockFile.Close()
	}, nil
}

// replaceRunningServer stops the server holding the PID lock and takes the
// lock over. The lock is released by the kernel when that process exits,
// so acquisition is retried for a short while after it is gone.
func replaceRunningServer(path string, timeout time.Duration, out io.Writer) (release func(), err error) {
	pid := readPIDFile(path)
	if pid == 0 || pid == os.Getpid() {
		return nil, fmt.Errorf("%w: no replaceable PID in %s", errAlreadyServing, path)
	}
	if err := stopProcess(path, pid, timeout, out); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		release, err = acquirePIDFile(path)
		if !errors.Is(err, errAlreadyServing) || time.Now().After(deadline) {
			return release, err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile reads a PID from the given file path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
