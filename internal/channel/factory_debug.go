//go:build debug

package channel

// New creates a new channel. Debug builds are unbuffered (the size is
// ignored) so backpressure shows up at the point of send.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
