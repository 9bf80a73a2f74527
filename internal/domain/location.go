package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is finite and within range.
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// LocationSample is a position received from, or sent to, the peer.
// Timestamp is local receive/send time and is never transmitted.
type LocationSample struct {
	Position  LatLng
	Sender    Role
	Timestamp time.Time
}

type locationMessage struct {
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
	Role *Role    `json:"role"`
}

// EncodeLocation renders the channel wire form {lat, lng, role}.
func EncodeLocation(p LatLng, sender Role) ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid position %v", p)
	}
	return json.Marshal(locationMessage{Lat: &p.Lat, Lng: &p.Lng, Role: &sender})
}

// DecodeLocation parses one channel message. All three fields are required.
func DecodeLocation(data []byte) (LocationSample, error) {
	var msg locationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return LocationSample{}, fmt.Errorf("parse location: %w", err)
	}
	if msg.Lat == nil || msg.Lng == nil || msg.Role == nil {
		return LocationSample{}, errors.New("location message missing lat, lng or role")
	}
	p := LatLng{Lat: *msg.Lat, Lng: *msg.Lng}
	if !p.Valid() {
		return LocationSample{}, fmt.Errorf("location out of range: %v", p)
	}
	return LocationSample{Position: p, Sender: *msg.Role}, nil
}
