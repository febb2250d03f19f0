//go:build !linux

package threading

// osThreadID is unavailable off Linux; confinement checks the worker
// goroutine alone.
func osThreadID() int64 { return 0 }
