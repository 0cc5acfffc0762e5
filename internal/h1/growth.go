package h1

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingLength is returned when the initial buffer filled up and the
	// message carries neither a Content-Length nor a multipart boundary.
	ErrMissingLength = errors.New("h1: request has no Content-Length or multipart boundary")
	// ErrBufferLimitExceeded is returned when the grown buffer would exceed
	// the per-request ceiling.
	ErrBufferLimitExceeded = errors.New("h1: request too large")
)

// Action tells the connection what to do after a read completed.
type Action uint8

const (
	// ActionContinue issues another read into the current buffer.
	ActionContinue Action = iota
	// ActionGrow replaces the initial buffer with one of Decision.Size bytes.
	ActionGrow
	// ActionComplete hands the framed message to the dispatcher.
	ActionComplete
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionGrow:
		return "grow"
	case ActionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Snapshot is the read-side view the framer decides on. Decide never
// modifies it.
type Snapshot struct {
	Data     []byte // bytes accumulated so far
	Capacity int    // capacity of the buffer Data lives in
	Grown    bool   // Data already lives in the grown buffer
	Boundary string // boundary remembered by an earlier step
}

// Full reports whether the last read filled the buffer.
func (s Snapshot) Full() bool {
	return len(s.Data) >= s.Capacity
}

// Decision is the outcome of one framing step.
type Decision struct {
	Action   Action
	Size     int    // replacement buffer size for ActionGrow
	Boundary string // multipart boundary, once known
}

// GrowthPolicy bounds the single reallocation a connection may perform.
type GrowthPolicy struct {
	Limit int
}

// Grow computes the replacement buffer size for a declared content length.
// The size is contentLength+capacity and must not exceed the limit.
func (p GrowthPolicy) Grow(contentLength, capacity int) (int, error) {
	size := contentLength + capacity
	if contentLength < 0 || size < contentLength || size > p.Limit {
		return 0, fmt.Errorf("%w: limit %d, requested %d", ErrBufferLimitExceeded, p.Limit, size)
	}
	return size, nil
}

// Decide runs one framing step over s.
//
// Before growth a message that fits the initial buffer completes as soon as
// it is framed. A full initial buffer either completes (exact fit), grows to
// Content-Length+capacity, grows to the limit for a length-less multipart
// body, or fails with ErrMissingLength. After growth the message completes on
// the multipart terminator, a satisfied length, or a full grown buffer.
func Decide(s Snapshot, p GrowthPolicy) (Decision, error) {
	d := Decision{Action: ActionContinue, Boundary: s.Boundary}

	if s.Grown {
		if framed(s.Data, d.Boundary) || s.Full() {
			d.Action = ActionComplete
		}
		return d, nil
	}

	if d.Boundary == "" {
		if b, ok := Boundary(s.Data); ok {
			d.Boundary = b
		}
	}

	if framed(s.Data, d.Boundary) {
		d.Action = ActionComplete
		return d, nil
	}
	if !s.Full() {
		return d, nil
	}

	if n, ok := ContentLength(s.Data); ok {
		size, err := p.Grow(n, s.Capacity)
		if err != nil {
			return d, err
		}
		d.Action, d.Size = ActionGrow, size
		return d, nil
	}
	if d.Boundary != "" && p.Limit > s.Capacity {
		d.Action, d.Size = ActionGrow, p.Limit
		return d, nil
	}
	return d, ErrMissingLength
}
