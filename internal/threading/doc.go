// Package threading provides execution contexts for thread-confined work.
//
// A Dispatcher owns one worker goroutine locked to its own OS thread and a
// FIFO run queue. Jobs submitted to the same Dispatcher never run
// concurrently and run in submission order; jobs on different Dispatchers run
// in parallel. A Factory hands out Dispatchers per domain key (a record type
// name).
package threading
