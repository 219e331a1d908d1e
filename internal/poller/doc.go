// Package poller drives event streams page by page.
//
// This package is internal to pulsesync and handles fetching, classifying and
// applying pages for a single stream, and binding that work to a private
// serial executor so a stream never has two polls in flight.
//
// The main components are:
//
//   - [Poller]: one fetch, classify, apply, advance pass over one stream
//   - [Result]: the outcome of a pass, including whether more pages remain
//   - [Scheduler]: owns a Poller and its private executor, and hands the
//     coordinator one task at a time
//   - [Client]: HTTP implementation of the fetch half of a Source
//
// Users of the pulsesync library should not need to interact with this
// package directly. Configuration is done through the main pulsesync package.
package poller
