// Package locsync exchanges positions with the peer over the session
// channel and tracks the last known remote position.
package locsync

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"walkroom/native/internal/domain"
	"walkroom/native/internal/geo"
)

const (
	DefaultMoveThreshold = 10.0 // meters
	DefaultKeepAlive     = 30 * time.Second
	DefaultTickInterval  = time.Second

	MarkerSelf   = "self"
	MarkerRemote = "remote"
)

// Cadence selects which triggers send the local position.
type Cadence struct {
	// OnMove sends once the position moved MoveThreshold since the last send.
	OnMove bool
	// Periodic sends when KeepAlive has elapsed since the last send.
	Periodic bool
	// OnOpen sends as soon as the channel opens.
	OnOpen bool
}

// DefaultCadence returns the cadence for role: the walker reports on every
// trigger, the owner only when the channel opens.
func DefaultCadence(role domain.Role) Cadence {
	if role == domain.RoleB {
		return Cadence{OnMove: true, Periodic: true, OnOpen: true}
	}
	return Cadence{OnOpen: true}
}

// Sender delivers one channel message.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, data []byte) error

func (f SenderFunc) Send(ctx context.Context, data []byte) error { return f(ctx, data) }

// Config configures a Service. Zero values select the defaults.
type Config struct {
	Role          domain.Role
	Cadence       Cadence
	MoveThreshold float64
	KeepAlive     time.Duration
	NearbyRadius  float64
	TickInterval  time.Duration

	Sender  Sender
	Markers domain.MarkerRenderer
	Center  domain.CenterStore
	Now     func() time.Time
	Logger  *slog.Logger
}

// Update is published to observers for every accepted remote position.
type Update struct {
	Remote domain.LocationSample
	// HasLocal is false until the first local fix; Distance and Nearby are
	// only meaningful when it is set.
	HasLocal bool
	Local    domain.LatLng
	Distance float64
	Nearby   bool
}

// Service implements session.Handler.
type Service struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	local       domain.LatLng
	hasLocal    bool
	lastSent    domain.LatLng
	lastSentAt  time.Time
	hasSent     bool
	open        bool
	openPending bool // opened before the first fix
	remote      domain.LocationSample
	hasRemote   bool
	observers   []func(Update)
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.MoveThreshold <= 0 {
		cfg.MoveThreshold = DefaultMoveThreshold
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.NearbyRadius <= 0 {
		cfg.NearbyRadius = geo.DefaultNearbyRadius
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, log: logger.With("component", "locsync")}
}

// OnRemote registers fn for remote position updates.
func (s *Service) OnRemote(fn func(Update)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Remote returns the last accepted remote position.
func (s *Service) Remote() (domain.LocationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote, s.hasRemote
}

// Local returns the last local position.
func (s *Service) Local() (domain.LatLng, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local, s.hasLocal
}

// UpdateLocal records a new local fix and sends it if a trigger fires.
func (s *Service) UpdateLocal(ctx context.Context, p domain.LatLng) {
	if !p.Valid() {
		s.log.Warn("ignoring invalid position", "lat", p.Lat, "lng", p.Lng)
		return
	}
	if s.cfg.Markers != nil {
		s.cfg.Markers.SetMarker(MarkerSelf, p.Lat, p.Lng)
	}
	if s.cfg.Center != nil {
		s.cfg.Center.SetCenter(p)
	}

	s.mu.Lock()
	s.local, s.hasLocal = p, true
	send := s.open && (s.openPending || s.movedLocked(p) || s.dueLocked())
	if send {
		s.openPending = false
		s.markSentLocked(p)
	}
	s.mu.Unlock()

	if send {
		s.send(ctx, p)
	}
}

// Tick sends the local position if the keep-alive interval has elapsed.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	p := s.local
	send := s.open && s.hasLocal && s.dueLocked()
	if send {
		s.markSentLocked(p)
	}
	s.mu.Unlock()

	if send {
		s.send(ctx, p)
	}
}

func (s *Service) movedLocked(p domain.LatLng) bool {
	if !s.cfg.Cadence.OnMove {
		return false
	}
	return !s.hasSent || geo.FlatDistance(s.lastSent, p) >= s.cfg.MoveThreshold
}

func (s *Service) dueLocked() bool {
	if !s.cfg.Cadence.Periodic {
		return false
	}
	return !s.hasSent || s.cfg.Now().Sub(s.lastSentAt) >= s.cfg.KeepAlive
}

func (s *Service) markSentLocked(p domain.LatLng) {
	s.lastSent, s.lastSentAt, s.hasSent = p, s.cfg.Now(), true
}

func (s *Service) send(ctx context.Context, p domain.LatLng) {
	data, err := domain.EncodeLocation(p, s.cfg.Role)
	if err != nil {
		s.log.Error("encode location", "err", err)
		return
	}
	if err := s.cfg.Sender.Send(ctx, data); err != nil {
		s.log.Warn("send location", "err", err)
		return
	}
	s.log.Debug("sent location", "lat", p.Lat, "lng", p.Lng)
}

// ChannelOpened starts sending. With OnOpen cadence the current position
// goes out immediately.
func (s *Service) ChannelOpened() {
	s.mu.Lock()
	s.open = true
	p := s.local
	send := s.hasLocal && s.cfg.Cadence.OnOpen
	s.openPending = !s.hasLocal && s.cfg.Cadence.OnOpen
	if send {
		s.markSentLocked(p)
	}
	s.mu.Unlock()

	if send {
		s.send(context.Background(), p)
	}
}

// ChannelClosed stops sending until the next ChannelOpened.
func (s *Service) ChannelClosed() {
	s.mu.Lock()
	s.open = false
	s.hasSent = false
	s.openPending = false
	s.mu.Unlock()
}

// HandleMessage accepts one position message from the channel.
func (s *Service) HandleMessage(data []byte) {
	sample, err := domain.DecodeLocation(data)
	if err != nil {
		s.log.Warn("dropping location message", "err", err)
		return
	}
	if sample.Sender == s.cfg.Role {
		s.log.Debug("dropping own location", "role", sample.Sender)
		return
	}
	sample.Timestamp = s.cfg.Now()

	s.mu.Lock()
	s.remote, s.hasRemote = sample, true
	u := Update{Remote: sample, HasLocal: s.hasLocal, Local: s.local}
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	if u.HasLocal {
		u.Distance = geo.Distance(u.Local, sample.Position)
		u.Nearby = geo.IsNearby(u.Distance, s.cfg.NearbyRadius)
	}
	if s.cfg.Markers != nil {
		s.cfg.Markers.SetMarker(MarkerRemote, sample.Position.Lat, sample.Position.Lng)
	}
	for _, fn := range observers {
		fn(u)
	}
}

// Run feeds positions from src into the service and drives the keep-alive
// until ctx is done. Without an initial fix it falls back to the center
// store.
func (s *Service) Run(ctx context.Context, src domain.GeoSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p, err := src.CurrentPosition(ctx)
	switch {
	case err == nil:
		s.UpdateLocal(ctx, p)
	case s.cfg.Center != nil:
		s.log.Warn("no initial position, using map center", "err", err)
		s.UpdateLocal(ctx, s.cfg.Center.Center())
	default:
		s.log.Warn("no initial position", "err", err)
	}

	go func() {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()

	err = src.Watch(ctx, func(p domain.LatLng) { s.UpdateLocal(ctx, p) })
	if ctx.Err() != nil {
		return nil
	}
	return err
}
