package domain

import (
	"fmt"
	"strings"
)

// Role identifies which side of a walk session this client plays.
type Role int

const (
	RoleNone Role = iota
	// RoleA is the stationary owner. It always initiates negotiation.
	RoleA
	// RoleB is the moving walker.
	RoleB
)

// ParseRole accepts the wire names ("A", "B") and the descriptive aliases
// ("owner", "walker"). An empty string yields RoleNone.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RoleNone, nil
	case "a", "owner":
		return RoleA, nil
	case "b", "walker":
		return RoleB, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleA:
		return "A"
	case RoleB:
		return "B"
	default:
		return "none"
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	switch r {
	case RoleA:
		return RoleB
	case RoleB:
		return RoleA
	default:
		return RoleNone
	}
}

// Valid reports whether r is A or B.
func (r Role) Valid() bool {
	return r == RoleA || r == RoleB
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("role %s has no wire form", r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText only accepts the wire names; aliases are a configuration
// convenience and never appear on the wire.
func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "A":
		*r = RoleA
	case "B":
		*r = RoleB
	default:
		return fmt.Errorf("invalid wire role %q", string(b))
	}
	return nil
}
