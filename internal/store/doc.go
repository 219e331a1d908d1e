// Package store holds per-stream sync status and cursors.
//
// The main components are:
//
//   - [Store]: Interface defining status storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [StreamStatus]: Storage representation of one stream's last pass
//   - [MemoryCursors]: In-memory cursor store for tests and the SDK example
//
// Durable cursors live in the sqlite subpackage.
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the coordinator).
package store
