package pulsesync

import "github.com/jpalmerr/pulsesync/internal/stream"

// Errors returned by [Coordinator] operations.
var (
	// ErrClosed is returned by every operation after [Coordinator.Close].
	ErrClosed = stream.ErrClosed

	// ErrNotStarted is returned by triggers while the coordinator is not
	// started or has been suspended.
	ErrNotStarted = stream.ErrNotStarted

	// ErrStreamNotEnabled is returned for a stream that is not registered.
	ErrStreamNotEnabled = stream.ErrStreamNotEnabled

	// ErrNoSource is returned when enabling a stream kind with no source.
	ErrNoSource = stream.ErrNoSource

	// ErrStreamIDInUse is returned when enabling a stream under an id the
	// other stream kind is registered with.
	ErrStreamIDInUse = stream.ErrStreamIDInUse
)

// Stream errors, matched against a [*StreamError] with errors.Is.
var (
	ErrMissingCursor         = stream.ErrMissingCursor
	ErrNetwork               = stream.ErrNetwork
	ErrCacheOutdated         = stream.ErrCacheOutdated
	ErrMailCacheOutdated     = stream.ErrMailCacheOutdated
	ErrContactsCacheOutdated = stream.ErrContactsCacheOutdated
	ErrApply                 = stream.ErrApply
	ErrCursorStore           = stream.ErrCursorStore
)

// StreamError is a classified failure of one stream. Terminal errors have
// removed the stream from scheduling by the time they are reported.
type StreamError = stream.Error

// ErrorKind classifies a [StreamError].
type ErrorKind = stream.ErrorKind

// Error kinds.
const (
	KindMissingCursor         = stream.KindMissingCursor
	KindNetwork               = stream.KindNetwork
	KindCacheOutdated         = stream.KindCacheOutdated
	KindMailCacheOutdated     = stream.KindMailCacheOutdated
	KindContactsCacheOutdated = stream.KindContactsCacheOutdated
	KindApply                 = stream.KindApply
	KindCursorStore           = stream.KindCursorStore
)
