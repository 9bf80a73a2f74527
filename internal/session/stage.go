package session

import "fmt"

// Stage is the negotiation state of the current session.
type Stage int

const (
	StageIdle Stage = iota
	StageInitializing
	// StageOffering: role A is waiting out the grace period or creating its offer.
	StageOffering
	// StageAwaitingOffer: role B is subscribed and waiting for A's offer.
	StageAwaitingOffer
	// StageNegotiating: descriptions are being exchanged.
	StageNegotiating
	StageConnected
	StageDisconnected
	StageFailed
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageInitializing:
		return "initializing"
	case StageOffering:
		return "offering"
	case StageAwaitingOffer:
		return "awaiting-offer"
	case StageNegotiating:
		return "negotiating"
	case StageConnected:
		return "connected"
	case StageDisconnected:
		return "disconnected"
	case StageFailed:
		return "failed"
	case StageClosed:
		return "closed"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}
