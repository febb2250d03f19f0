//go:build linux

package threading

import "syscall"

// osThreadID returns the ID of the calling OS thread.
func osThreadID() int64 { return int64(syscall.Gettid()) }
