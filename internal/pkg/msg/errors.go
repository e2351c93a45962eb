package msg

import "errors"

var (
	// ErrSubscribed is returned when a pid subscribes twice to one topic.
	ErrSubscribed = errors.New("already subscribed")

	// ErrClosed is returned after the publisher is closed.
	ErrClosed = errors.New("publisher closed")
)
