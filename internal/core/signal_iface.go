package core

// Frame is an encoded signaling message.
type Frame []byte

// SignalConnection abstracts the signaling transport of one member.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking; ErrBackpressure means the queue is full.
	TrySend(Frame) error
	Close()
}
