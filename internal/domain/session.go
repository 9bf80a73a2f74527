package domain

import "fmt"

// SessionID names one incarnation of a peer session. Generation increases
// every time a session is (re)initialized, so results produced on behalf of
// an older session can be recognised and dropped.
type SessionID struct {
	Room       string
	Generation uint64
}

func (id SessionID) String() string {
	return fmt.Sprintf("%s#%d", id.Room, id.Generation)
}

// ConnectionState is the externally visible connectivity of the session.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}
