//go:build !debug

package channel

// New creates a new channel with the given buffer size. Production
// builds buffer so a briefly slow sink absorbs bursts of records.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
