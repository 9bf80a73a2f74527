package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownSignal is returned by DecodeEnvelope for a well-formed envelope
// whose type tag is not one of offer, answer or candidate.
var ErrUnknownSignal = errors.New("unknown signal type")

// Description is an SDP offer or answer.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// Candidate is a trickled ICE candidate in its browser JSON form.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalKind tags a SignalEnvelope.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// SignalEnvelope is what travels over the relay. Exactly one of Description
// (offer, answer) or Candidate (candidate) is set, matching Kind.
type SignalEnvelope struct {
	Kind        SignalKind
	Role        Role
	Description *Description
	Candidate   *Candidate
}

// OfferEnvelope builds an offer envelope sent by role.
func OfferEnvelope(role Role, d Description) SignalEnvelope {
	return SignalEnvelope{Kind: SignalOffer, Role: role, Description: &d}
}

// AnswerEnvelope builds an answer envelope sent by role.
func AnswerEnvelope(role Role, d Description) SignalEnvelope {
	return SignalEnvelope{Kind: SignalAnswer, Role: role, Description: &d}
}

// CandidateEnvelope builds a candidate envelope sent by role.
func CandidateEnvelope(role Role, c Candidate) SignalEnvelope {
	return SignalEnvelope{Kind: SignalCandidate, Role: role, Candidate: &c}
}

type wireEnvelope struct {
	Type SignalKind      `json:"type"`
	Data json.RawMessage `json:"data"`
	Role Role            `json:"role"`
}

// EncodeEnvelope validates env and renders it in relay wire form.
func EncodeEnvelope(env SignalEnvelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	var payload any
	if env.Kind == SignalCandidate {
		payload = env.Candidate
	} else {
		payload = env.Description
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", env.Kind, err)
	}
	return json.Marshal(wireEnvelope{Type: env.Kind, Data: data, Role: env.Role})
}

// DecodeEnvelope parses and validates a relay message. Unknown type tags
// yield an error wrapping ErrUnknownSignal; the payload is not inspected.
func DecodeEnvelope(raw []byte) (SignalEnvelope, error) {
	var head struct {
		Type SignalKind      `json:"type"`
		Data json.RawMessage `json:"data"`
		Role string          `json:"role"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return SignalEnvelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	switch head.Type {
	case SignalOffer, SignalAnswer, SignalCandidate:
	default:
		return SignalEnvelope{}, fmt.Errorf("%w: %q", ErrUnknownSignal, head.Type)
	}

	env := SignalEnvelope{Kind: head.Type}
	if err := env.Role.UnmarshalText([]byte(head.Role)); err != nil {
		return SignalEnvelope{}, err
	}
	if len(head.Data) == 0 {
		return SignalEnvelope{}, fmt.Errorf("%s envelope missing data", head.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(head.Data))
	dec.DisallowUnknownFields()
	if head.Type == SignalCandidate {
		var c Candidate
		if err := dec.Decode(&c); err != nil {
			return SignalEnvelope{}, fmt.Errorf("parse candidate: %w", err)
		}
		env.Candidate = &c
	} else {
		var d Description
		if err := dec.Decode(&d); err != nil {
			return SignalEnvelope{}, fmt.Errorf("parse %s: %w", head.Type, err)
		}
		env.Description = &d
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SignalEnvelope{}, fmt.Errorf("unexpected trailing data in %s payload", head.Type)
	}
	if err := env.Validate(); err != nil {
		return SignalEnvelope{}, err
	}
	return env, nil
}

// Validate checks that the payload matches the tag.
func (e SignalEnvelope) Validate() error {
	if !e.Role.Valid() {
		return fmt.Errorf("%s envelope has no sender role", e.Kind)
	}
	switch e.Kind {
	case SignalOffer, SignalAnswer:
		if e.Candidate != nil {
			return fmt.Errorf("%s envelope carries a candidate", e.Kind)
		}
		if e.Description == nil {
			return fmt.Errorf("%s envelope missing description", e.Kind)
		}
		if e.Description.Type != string(e.Kind) {
			return fmt.Errorf("%s envelope has description type %q", e.Kind, e.Description.Type)
		}
		if e.Description.SDP == "" {
			return fmt.Errorf("%s envelope has empty sdp", e.Kind)
		}
	case SignalCandidate:
		if e.Description != nil {
			return errors.New("candidate envelope carries a description")
		}
		if e.Candidate == nil {
			return errors.New("candidate envelope missing candidate")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, e.Kind)
	}
	return nil
}
