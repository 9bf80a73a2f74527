package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"walkroom/native/internal/domain"
)

const (
	envICEServersJSON = "WALK_ICE_SERVERS_JSON"

	envStunURLs       = "WALK_STUN_URLS"
	envTurnURLs       = "WALK_TURN_URLS"
	envTurnUsername   = "WALK_TURN_USERNAME"
	envTurnCredential = "WALK_TURN_CREDENTIAL"
)

// ParseICEServers builds the ICE server list. A non-empty JSON value wins
// over the convenience variables.
func ParseICEServers(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]domain.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return parseConvenienceICE(stunURLs, turnURLs, turnUsername, turnCredential)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// stringOrStringSlice accepts "urls" as a single string or a list, as the
// browser RTCIceServer dictionary does.
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a JSON array of RTCIceServer-shaped objects.
func ParseICEServersJSON(raw string) ([]domain.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]domain.ICEServer, 0, len(servers))
	for i, s := range servers {
		server := domain.ICEServer{
			URLs:       splitCommaSeparated(strings.Join(s.URLs, ",")),
			Username:   strings.TrimSpace(s.Username),
			Credential: strings.TrimSpace(s.Credential),
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func parseConvenienceICE(stunURLs, turnURLs, turnUsername, turnCredential string) ([]domain.ICEServer, error) {
	var servers []domain.ICEServer

	if list := splitCommaSeparated(stunURLs); len(list) > 0 {
		server := domain.ICEServer{URLs: list}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if list := splitCommaSeparated(turnURLs); len(list) > 0 {
		server := domain.ICEServer{
			URLs:       list,
			Username:   strings.TrimSpace(turnUsername),
			Credential: strings.TrimSpace(turnCredential),
		}
		if server.Username == "" || server.Credential == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server domain.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	turn := false
	for _, u := range server.URLs {
		switch {
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if turn && (server.Username == "" || server.Credential == "") {
		return errors.New("turn urls require username and credential")
	}
	return nil
}
