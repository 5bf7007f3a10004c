// Package core holds the authoritative in-memory registry of rooms and
// their participants. It owns membership only; transport resources are
// owned by the adapter that created them.
package core

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection abstracts the per-client messaging transport.
// TrySend must never block; a full outbound buffer is an error.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
