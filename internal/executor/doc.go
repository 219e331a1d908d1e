// Package executor provides a strictly ordered, single-concurrency task queue.
//
// A [Serial] runs submitted [task.Task] values one at a time in submission
// order, independent of how many goroutines the process has available.
// Workers are started on demand and exit when the queue drains, so an idle
// executor holds no goroutines.
//
// Two completion modes are supported:
//
//   - default: a running task that gets cancelled counts as finished, and
//     the next task may start while the cancelled body winds down
//   - [AwaitExit]: the next task starts only after the previous body has
//     returned, so no two bodies ever overlap
package executor
