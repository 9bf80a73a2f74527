package session

import (
	"fmt"

	"walkroom/native/internal/domain"
)

type eventKind int

const (
	eventOfferDue eventKind = iota
	eventOfferCreated
	eventEnvelope
	eventMalformed
	eventRemoteApplied
	eventAnswerCreated
	eventLocalCandidate
	eventTransportState
	eventDataChannel
	eventChannelOpen
	eventChannelClosed
	eventRelayLost
	eventPublishFailed
)

func (k eventKind) String() string {
	switch k {
	case eventOfferDue:
		return "offer-due"
	case eventOfferCreated:
		return "offer-created"
	case eventEnvelope:
		return "envelope"
	case eventMalformed:
		return "malformed"
	case eventRemoteApplied:
		return "remote-applied"
	case eventAnswerCreated:
		return "answer-created"
	case eventLocalCandidate:
		return "local-candidate"
	case eventTransportState:
		return "transport-state"
	case eventDataChannel:
		return "data-channel"
	case eventChannelOpen:
		return "channel-open"
	case eventChannelClosed:
		return "channel-closed"
	case eventRelayLost:
		return "relay-lost"
	case eventPublishFailed:
		return "publish-failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// event is everything that can move the state machine. Each one carries the
// session it was produced for; events for any other session are dropped.
type event struct {
	kind      eventKind
	session   domain.SessionID
	envelope  domain.SignalEnvelope
	desc      domain.Description
	candidate domain.Candidate
	state     domain.ConnectionState
	channel   domain.DataChannel
	signal    domain.SignalKind
	err       error
}

// outcome is work a transition defers until the coordinator lock is
// released: tearing down a retired session and calling out to observers.
type outcome struct {
	release *peerSession
	after   []func()
}

func (o *outcome) then(f func()) {
	if f != nil {
		o.after = append(o.after, f)
	}
}

func (o outcome) run() {
	if o.release != nil {
		o.release.release()
	}
	for _, f := range o.after {
		f()
	}
}
