// Package channel provides the generic channel plumbing that decouples
// the tick driver from the storage sinks. The tick driver must never
// block on a slow consumer, so senders expose both a blocking Send and
// a drop-on-full TrySend.
package channel

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(T)
	// TrySend delivers without blocking and reports whether the value
	// was accepted.
	TrySend(T) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}
