// Package channel provides the typed single-consumer channels that connect
// the link actors: the connection reader hands decoded frames to the
// dispatcher through one of these.
package channel

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(T)
	// SendUntil blocks until v is accepted or done is closed. It reports
	// whether v was accepted.
	SendUntil(v T, done <-chan struct{}) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}
