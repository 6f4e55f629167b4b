//go:build !windows

package cmd

import "syscall"

// tryLock takes an exclusive lock without waiting (Unix flock).
func tryLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX|syscall.LOCK_NB)
}

func unlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
