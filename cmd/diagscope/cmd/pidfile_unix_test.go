//go:build !windows

package cmd

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

const lockHolderEnv = "DIAGSCOPE_TEST_LOCK_HOLDER"

// TestLockHolderProcess is not a real test: it runs as a child process that
// holds the PID lock until it is signalled.
func TestLockHolderProcess(t *testing.T) {
	path := os.Getenv(lockHolderEnv)
	if path == "" {
		t.Skip("only runs as a child process")
	}
	release, err := acquirePIDFile(path)
	if err != nil {
		os.Exit(2)
	}
	defer release()
	time.Sleep(time.Minute)
	os.Exit(0)
}

func TestReplaceRunningServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")

	holder := exec.Command(os.Args[0], "-test.run=^TestLockHolderProcess$")
	holder.Env = append(os.Environ(), lockHolderEnv+"="+path)
	if err := holder.Start(); err != nil {
		t.Fatal(err)
	}
	exited := make(chan struct{})
	go func() {
		_ = holder.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		_ = holder.Process.Kill()
		<-exited
	})

	deadline := time.Now().Add(5 * time.Second)
	for readPIDFile(path) != holder.Process.Pid {
		if time.Now().After(deadline) {
			t.Fatal("child never wrote its PID file")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := acquirePIDFile(path); !errors.Is(err, errAlreadyServing) {
		t.Fatalf("acquirePIDFile() with a live holder error = %v, want errAlreadyServing", err)
	}

	release, err := replaceRunningServer(path, 5*time.Second, io.Discard)
	if err != nil {
		t.Fatalf("replaceRunningServer() error = %v", err)
	}
	defer release()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Error("previous server still running")
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("PID file = %d, want %d", got, os.Getpid())
	}
}
