// Package recorder persists handshake, read and write measurements to three
// append-only CSV channels.
//
// Each channel owns its own file and its own lock, so a burst of read records
// never contends with handshake or write records. Within a channel every
// record is emitted by a single write call while the lock is held, so lines are
// never torn even when many sessions record concurrently.
package recorder
