package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when an operation needs a live session.
	ErrNoSession = errors.New("no active session")
	// ErrSendTimeout is returned when the channel did not open in time.
	ErrSendTimeout = errors.New("timed out waiting for channel to open")
	// ErrChannelClosed is returned for sends on a closed channel.
	ErrChannelClosed = errors.New("channel closed")
)

// SignalingError is fatal to the session: the relay subscription failed or
// was lost, or a malformed envelope arrived.
type SignalingError struct {
	Session SessionID
	Err     error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Session, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// NegotiationError is fatal to the current negotiation attempt.
type NegotiationError struct {
	Session SessionID
	Op      string
	Err     error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %s: %v", e.Session, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// CandidateError is logged and otherwise ignored.
type CandidateError struct {
	Session   SessionID
	Candidate string
	Err       error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("candidate %s: %q: %v", e.Session, e.Candidate, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }

// ChannelError reports a failed send or a channel that closed mid-session.
type ChannelError struct {
	Label string
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %q: %v", e.Label, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
