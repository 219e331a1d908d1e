// Package stream defines the data model shared by the polling layers.
//
// This package is internal to pulsesync. The root package re-exports its
// types so callers never import it directly.
//
// The main components are:
//
//   - [ID]: identity of one core or special event stream
//   - [Page]: one page of results returned by a fetch
//   - [Source]: fetch and apply capabilities for one kind of stream
//   - [CursorStore]: durable cursor storage
//   - [Error]: a classified stream failure, see [ErrorKind]
package stream
