// Package sqlite provides durable cursor storage and an event journal
// backed by SQLite.
//
// [Store] implements stream.CursorStore. Its [Store.ApplyPage] journals the
// events of a page keyed by stream, fetch cursor and position, so applying
// the same page twice leaves one copy. This makes re-fetching a page after an
// interrupted pass safe.
//
// Schema changes live in the migrations subpackage as numbered *.up.sql
// files and are applied in order when the store is opened.
package sqlite
