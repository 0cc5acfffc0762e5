package h1

import (
	"errors"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use; every connection reports from its own goroutines.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	ConnectionFailed(reason string)
	BufferGrown(size int)
	RequestFramed(size int)
	ResponseSent(size int)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()       {}
func (nopObserver) ConnectionClosed()       {}
func (nopObserver) ConnectionFailed(string) {}
func (nopObserver) BufferGrown(int)         {}
func (nopObserver) RequestFramed(int)       {}
func (nopObserver) ResponseSent(int)        {}

// Reason maps a connection failure onto a short, bounded label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBufferLimitExceeded):
		return "buffer_limit"
	case errors.Is(err, ErrMissingLength), errors.Is(err, ErrMalformedRequest):
		return "framing"
	case errors.Is(err, ErrReadTimeout):
		return "read_timeout"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	default:
		return "io"
	}
}
