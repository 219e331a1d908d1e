package stream

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stream failure.
type ErrorKind int

const (
	// KindMissingCursor means no cursor was stored for the stream.
	KindMissingCursor ErrorKind = iota + 1

	// KindNetwork means the fetch failed.
	KindNetwork

	// KindCacheOutdated means the server invalidated the whole local cache.
	KindCacheOutdated

	// KindMailCacheOutdated means the server invalidated the mail cache.
	KindMailCacheOutdated

	// KindContactsCacheOutdated means the server invalidated the contacts cache.
	KindContactsCacheOutdated

	// KindApply means the page could not be applied to local storage.
	KindApply

	// KindCursorStore means the cursor could not be loaded or saved.
	KindCursorStore
)

// Sentinel errors matched by [Error.Is], one per [ErrorKind].
var (
	ErrMissingCursor         = errors.New("missing cursor")
	ErrNetwork               = errors.New("network error")
	ErrCacheOutdated         = errors.New("cache outdated")
	ErrMailCacheOutdated     = errors.New("mail cache outdated")
	ErrContactsCacheOutdated = errors.New("contacts cache outdated")
	ErrApply                 = errors.New("page processing error")
	ErrCursorStore           = errors.New("cursor store error")
)

var kindSentinels = map[ErrorKind]error{
	KindMissingCursor:         ErrMissingCursor,
	KindNetwork:               ErrNetwork,
	KindCacheOutdated:         ErrCacheOutdated,
	KindMailCacheOutdated:     ErrMailCacheOutdated,
	KindContactsCacheOutdated: ErrContactsCacheOutdated,
	KindApply:                 ErrApply,
	KindCursorStore:           ErrCursorStore,
}

// String returns a short snake_case name, suitable for logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindMissingCursor:
		return "missing_cursor"
	case KindNetwork:
		return "network"
	case KindCacheOutdated:
		return "cache_outdated"
	case KindMailCacheOutdated:
		return "mail_cache_outdated"
	case KindContactsCacheOutdated:
		return "contacts_cache_outdated"
	case KindApply:
		return "apply"
	case KindCursorStore:
		return "cursor_store"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Terminal reports whether the kind removes the stream from scheduling.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindMissingCursor, KindCacheOutdated, KindMailCacheOutdated, KindContactsCacheOutdated:
		return true
	default:
		return false
	}
}

// Error is a classified failure of one stream.
//
// Use errors.Is with the sentinel for the kind (e.g. [ErrNetwork]) or
// errors.As to recover the stream identity.
type Error struct {
	Stream ID
	Kind   ErrorKind
	Err    error
}

// NewError returns an *Error for the stream. err may be nil.
func NewError(id ID, kind ErrorKind, err error) *Error {
	return &Error{Stream: id, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("stream %q: %s", e.Stream, e.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && target == s
}

// Terminal reports whether the error removes the stream from scheduling.
func (e *Error) Terminal() bool {
	return e.Kind.Terminal()
}

func (e *Error) sentinel() error {
	if s, ok := kindSentinels[e.Kind]; ok {
		return s
	}
	return errors.New(e.Kind.String())
}

// Scheduler errors returned by the coordinator's public operations.
var (
	// ErrClosed is returned after the coordinator has been closed.
	ErrClosed = errors.New("coordinator closed")

	// ErrNotStarted is returned by triggers while the coordinator is suspended.
	ErrNotStarted = errors.New("coordinator not started")

	// ErrStreamNotEnabled is returned for a stream that is not registered.
	ErrStreamNotEnabled = errors.New("stream not enabled")

	// ErrNoSource is returned when enabling a stream kind with no source
	// configured.
	ErrNoSource = errors.New("no source configured for stream kind")

	// ErrStreamIDInUse is returned when a core and a special stream would
	// share an id, and with it a cursor.
	ErrStreamIDInUse = errors.New("stream id in use by another stream kind")
)
