package core

// Frame is one encoded outbound event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
//
// TrySend never blocks: a full outbound queue yields domain.ErrBackpressure
// and a closed one domain.ErrConnectionClosed.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
