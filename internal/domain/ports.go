package domain

import "context"

// Relay is the publish/subscribe signaling collaborator. Publish must not
// invoke subscriber handlers synchronously.
type Relay interface {
	// Subscribe returns once the subscription is active. onLost is called at
	// most once if the subscription ends for any reason other than
	// Unsubscribe.
	Subscribe(ctx context.Context, room string, onMessage func([]byte), onLost func(error)) (Subscription, error)
	Publish(ctx context.Context, room string, data []byte) error
}

// Subscription is an active relay subscription.
type Subscription interface {
	Unsubscribe() error
}

// TransportFactory creates one Transport per session.
type TransportFactory interface {
	NewTransport() (Transport, error)
}

// Transport is the peer connection. Event handlers must be registered before
// negotiation starts. CreateOffer and CreateAnswer also apply the result as
// the local description.
type Transport interface {
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(func(DataChannel))
	OnICECandidate(func(Candidate))
	OnConnectionStateChange(func(ConnectionState))
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetRemoteDescription(Description) error
	AddICECandidate(Candidate) error
	Close() error
}

// DataChannel is a message channel on a Transport.
type DataChannel interface {
	Label() string
	Ordered() bool
	// Reliable reports whether neither retransmit nor lifetime limits are set.
	Reliable() bool
	IsOpen() bool
	OnOpen(func())
	OnClose(func())
	OnMessage(func([]byte))
	Send(data []byte) error
	Close() error
}

// GeoSource provides the device position.
type GeoSource interface {
	CurrentPosition(ctx context.Context) (LatLng, error)
	// Watch calls fn on every position change until ctx is done.
	Watch(ctx context.Context, fn func(LatLng)) error
}

// MarkerRenderer places named markers on a map.
type MarkerRenderer interface {
	SetMarker(id string, lat, lng float64)
}

// CenterStore holds the view center.
type CenterStore interface {
	Center() LatLng
	SetCenter(LatLng)
}

// ICEServer is one STUN/TURN endpoint.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
