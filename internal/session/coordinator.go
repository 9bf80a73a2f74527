// Package session drives one peer session per (room, role) pair: relay
// subscription, offer/answer exchange, candidate trickling and the location
// channel. Every state change goes through a single serialized transition
// function; asynchronous negotiation steps report back as events tagged with
// the session that started them, so results for a retired session are
// dropped instead of touching the live one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"walkroom/native/internal/channel"
	"walkroom/native/internal/domain"
)

// DefaultOfferDelay is how long role A waits after subscribing before it
// creates the offer, giving role B time to subscribe too.
const DefaultOfferDelay = 500 * time.Millisecond

// Handler receives channel events for the live session. It is never called
// while the coordinator holds its lock.
type Handler interface {
	ChannelOpened()
	ChannelClosed()
	HandleMessage(data []byte)
}

// Config wires a Coordinator to its collaborators.
type Config struct {
	Relay      domain.Relay
	Transports domain.TransportFactory
	Handler    Handler
	Logger     *slog.Logger

	// OfferDelay defaults to DefaultOfferDelay. Negative means no delay.
	OfferDelay time.Duration
	// SendTimeout bounds how long Send waits for the channel to open.
	SendTimeout time.Duration

	// OnStateChange is called after every ConnectionState change.
	OnStateChange func(domain.ConnectionState)
}

// Coordinator owns at most one live session.
type Coordinator struct {
	relay       domain.Relay
	transports  domain.TransportFactory
	handler     Handler
	onState     func(domain.ConnectionState)
	offerDelay  time.Duration
	sendTimeout time.Duration
	log         *slog.Logger

	mu    sync.Mutex
	gen   uint64
	sess  *peerSession
	stage Stage
	state domain.ConnectionState

	// pending tracks in-flight negotiation goroutines.
	pending sync.WaitGroup
}

type peerSession struct {
	id     domain.SessionID
	role   domain.Role
	ctx    context.Context
	cancel context.CancelFunc

	transport domain.Transport
	channel   *channel.Manager
	sub       domain.Subscription
	timer     *time.Timer
	buffer    candidateBuffer

	// outbox holds encoded envelopes in publish order. Only the goroutine
	// that set publishing drains it, outside the coordinator lock.
	outbox     []outgoing
	publishing bool

	offerStarted bool
	offerSent    bool
	applying     bool
	remoteSet    bool
	transportUp  bool
	channelUp    bool
}

type outgoing struct {
	kind domain.SignalKind
	data []byte
}

// release frees everything the session holds. It must only be called once
// the session has been detached from the coordinator.
func (s *peerSession) release() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
	s.buffer.clear()
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.transport != nil {
		_ = s.transport.Close()
	}
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

// New creates an idle Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.OfferDelay
	switch {
	case delay == 0:
		delay = DefaultOfferDelay
	case delay < 0:
		delay = 0
	}
	return &Coordinator{
		relay:       cfg.Relay,
		transports:  cfg.Transports,
		handler:     cfg.Handler,
		onState:     cfg.OnStateChange,
		offerDelay:  delay,
		sendTimeout: cfg.SendTimeout,
		log:         logger.With("component", "coordinator"),
		stage:       StageIdle,
		state:       domain.ConnectionNew,
	}
}

// Start brings up a session for room as role. It is a no-op when role is
// RoleNone, when room is empty, or when a healthy session for the same pair
// already exists. Any other existing session is torn down first.
//
// Start returns once the relay subscription is active. Errors are also
// reflected in State.
func (c *Coordinator) Start(ctx context.Context, room string, role domain.Role) error {
	if !role.Valid() || room == "" {
		return nil
	}

	c.mu.Lock()
	if cur := c.sess; cur != nil && cur.id.Room == room && cur.role == role &&
		c.stage != StageFailed && c.stage != StageDisconnected {
		c.mu.Unlock()
		return nil
	}
	var out outcome
	c.retireLocked(&out)
	c.gen++
	sctx, cancel := context.WithCancel(context.Background())
	s := &peerSession{
		id:     domain.SessionID{Room: room, Generation: c.gen},
		role:   role,
		ctx:    sctx,
		cancel: cancel,
	}
	c.sess = s
	out.then(c.setStageLocked(StageInitializing, domain.ConnectionNew))
	c.mu.Unlock()
	out.run()

	c.log.Info("starting session", "session", s.id, "role", role)
	return c.initialize(ctx, s)
}

func (c *Coordinator) initialize(ctx context.Context, s *peerSession) error {
	id := s.id

	tr, err := c.transports.NewTransport()
	if err != nil {
		return c.abort(s, &domain.NegotiationError{Session: id, Op: "create transport", Err: err})
	}
	ch := channel.New(c.sendTimeout, channel.Hooks{
		OnOpen:    func() { c.dispatch(event{kind: eventChannelOpen, session: id}) },
		OnClose:   func() { c.dispatch(event{kind: eventChannelClosed, session: id}) },
		OnMessage: func(data []byte) { c.forward(id, data) },
	}, c.log)

	tr.OnICECandidate(func(cand domain.Candidate) {
		c.dispatch(event{kind: eventLocalCandidate, session: id, candidate: cand})
	})
	tr.OnConnectionStateChange(func(st domain.ConnectionState) {
		c.dispatch(event{kind: eventTransportState, session: id, state: st})
	})
	tr.OnDataChannel(func(dc domain.DataChannel) {
		c.dispatch(event{kind: eventDataChannel, session: id, channel: dc})
	})

	if s.role == domain.RoleA {
		if err := ch.Create(tr); err != nil {
			_ = tr.Close()
			return c.abort(s, &domain.NegotiationError{Session: id, Op: "create channel", Err: err})
		}
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		_ = ch.Close()
		_ = tr.Close()
		return nil
	}
	s.transport = tr
	s.channel = ch
	c.mu.Unlock()

	sub, err := c.relay.Subscribe(ctx, id.Room,
		func(data []byte) { c.receive(id, data) },
		func(err error) { c.dispatch(event{kind: eventRelayLost, session: id, err: err}) },
	)
	if err != nil {
		return c.abort(s, &domain.SignalingError{Session: id, Err: fmt.Errorf("subscribe: %w", err)})
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	var notify func()
	if c.stage == StageInitializing {
		if s.role == domain.RoleA {
			notify = c.setStageLocked(StageOffering, domain.ConnectionConnecting)
			s.timer = time.AfterFunc(c.offerDelay, func() {
				c.dispatch(event{kind: eventOfferDue, session: id})
			})
		} else {
			notify = c.setStageLocked(StageAwaitingOffer, domain.ConnectionConnecting)
		}
	}
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil
}

// abort tears down s after a fatal setup error and returns err.
func (c *Coordinator) abort(s *peerSession, err error) error {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return err
	}
	out := c.teardownLocked(s, err)
	c.mu.Unlock()
	out.run()
	return err
}

// Stop tears down the current session, if any. In-flight negotiation results
// for it are discarded. Stop is idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	var out outcome
	id, had := c.retireLocked(&out)
	c.gen++
	out.then(c.setStageLocked(StageClosed, domain.ConnectionClosed))
	c.mu.Unlock()
	out.run()

	if had {
		c.log.Info("session stopped", "session", id)
	}
}

// retireLocked detaches the current session and schedules its release.
func (c *Coordinator) retireLocked(out *outcome) (domain.SessionID, bool) {
	s := c.sess
	if s == nil {
		return domain.SessionID{}, false
	}
	c.sess = nil
	out.release = s
	if s.channelUp && c.handler != nil {
		out.then(c.handler.ChannelClosed)
	}
	return s.id, true
}

// State returns the last reported connection state.
func (c *Coordinator) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stage returns the current negotiation stage.
func (c *Coordinator) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Session returns the id of the live session.
func (c *Coordinator) Session() (domain.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return domain.SessionID{}, false
	}
	return c.sess.id, true
}

// IsConnected reports whether the transport is connected and the location
// channel is open.
func (c *Coordinator) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.transportUp && c.sess.channelUp
}

// Send writes data to the location channel of the live session, waiting for
// it to open if needed.
func (c *Coordinator) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	var ch *channel.Manager
	if c.sess != nil {
		ch = c.sess.channel
	}
	c.mu.Unlock()
	if ch == nil {
		return domain.ErrNoSession
	}
	return ch.Send(ctx, data)
}

// forward passes a channel message to the handler if it belongs to the live
// session.
func (c *Coordinator) forward(id domain.SessionID, data []byte) {
	c.mu.Lock()
	live := c.sess != nil && c.sess.id == id
	c.mu.Unlock()
	if !live || c.handler == nil {
		return
	}
	c.handler.HandleMessage(data)
}

// receive decodes a relay message for session id.
func (c *Coordinator) receive(id domain.SessionID, data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSignal) {
			c.log.Warn("ignoring envelope", "session", id, "err", err)
			return
		}
		c.dispatch(event{kind: eventMalformed, session: id, err: err})
		return
	}
	c.dispatch(event{kind: eventEnvelope, session: id, envelope: env})
}

func (c *Coordinator) dispatch(ev event) {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.id != ev.session {
		c.mu.Unlock()
		c.log.Debug("dropping stale event", "event", ev.kind, "session", ev.session)
		if ev.kind == eventDataChannel && ev.channel != nil {
			_ = ev.channel.Close()
		}
		return
	}
	out := c.transition(s, ev)
	c.mu.Unlock()
	out.run()
}

// transition applies ev to the live session s. Called with c.mu held.
func (c *Coordinator) transition(s *peerSession, ev event) (out outcome) {
	switch ev.kind {
	case eventOfferDue:
		if s.role != domain.RoleA || s.offerStarted || c.stage != StageOffering {
			return
		}
		s.offerStarted = true
		c.async(s, eventOfferCreated, s.transport.CreateOffer)

	case eventOfferCreated:
		if ev.err != nil {
			return c.failLocked(s, &domain.NegotiationError{Session: s.id, Op: "create offer", Err: ev.err})
		}
		if err := c.publishLocked(s, domain.OfferEnvelope(s.role, ev.desc), &out); err != nil {
			return c.failLocked(s, &domain.NegotiationError{Session: s.id, Op: "publish offer", Err: err})
		}
		s.offerSent = true
		out.then(c.setStageLocked(StageNegotiating, domain.ConnectionConnecting))

	case eventEnvelope:
		return c.handleEnvelopeLocked(s, ev.envelope)

	case eventMalformed, eventRelayLost:
		return c.teardownLocked(s, &domain.SignalingError{Session: s.id, Err: ev.err})

	case eventRemoteApplied:
		s.applying = false
		if ev.err != nil {
			return c.failLocked(s, &domain.NegotiationError{Session: s.id, Op: "set remote " + ev.desc.Type, Err: ev.err})
		}
		s.remoteSet = true
		c.flushLocked(s)
		if ev.desc.Type == domain.DescriptionOffer {
			c.async(s, eventAnswerCreated, s.transport.CreateAnswer)
		}

	case eventAnswerCreated:
		if ev.err != nil {
			return c.failLocked(s, &domain.NegotiationError{Session: s.id, Op: "create answer", Err: ev.err})
		}
		if err := c.publishLocked(s, domain.AnswerEnvelope(s.role, ev.desc), &out); err != nil {
			return c.failLocked(s, &domain.NegotiationError{Session: s.id, Op: "publish answer", Err: err})
		}

	case eventLocalCandidate:
		if err := c.publishLocked(s, domain.CandidateEnvelope(s.role, ev.candidate), &out); err != nil {
			c.log.Warn("publish candidate", "session", s.id, "err", err)
		}

	case eventPublishFailed:
		if ev.signal == domain.SignalCandidate {
			c.log.Warn("publish candidate", "session", s.id, "err", ev.err)
			return
		}
		return c.failLocked(s, &domain.NegotiationError{Session: s.id, Op: "publish " + string(ev.signal), Err: ev.err})

	case eventTransportState:
		return c.transportStateLocked(s, ev.state)

	case eventDataChannel:
		dc, ch := ev.channel, s.channel
		if s.role != domain.RoleB {
			c.log.Warn("ignoring remote data channel", "session", s.id, "label", dc.Label())
			out.then(func() { _ = dc.Close() })
			return
		}
		out.then(func() {
			if err := ch.Accept(dc); err != nil {
				c.log.Warn("data channel rejected", "session", s.id, "err", err)
			}
		})

	case eventChannelOpen:
		s.channelUp = true
		if c.handler != nil {
			out.then(c.handler.ChannelOpened)
		}

	case eventChannelClosed:
		if !s.channelUp {
			return
		}
		s.channelUp = false
		c.log.Warn("channel lost", "session", s.id, "err", &domain.ChannelError{Label: channel.Label, Err: domain.ErrChannelClosed})
		if c.handler != nil {
			out.then(c.handler.ChannelClosed)
		}
	}
	return
}

func (c *Coordinator) handleEnvelopeLocked(s *peerSession, env domain.SignalEnvelope) (out outcome) {
	if env.Role == s.role {
		c.log.Debug("dropping own envelope", "session", s.id, "type", env.Kind)
		return
	}

	switch env.Kind {
	case domain.SignalOffer:
		switch {
		case s.role != domain.RoleB:
			c.log.Warn("ignoring offer", "session", s.id, "reason", "role A never answers")
		case s.applying || s.remoteSet:
			c.log.Warn("ignoring offer", "session", s.id, "reason", "duplicate")
		case c.stage == StageFailed:
			c.log.Warn("ignoring offer", "session", s.id, "reason", "negotiation failed")
		default:
			c.applyRemoteLocked(s, *env.Description)
			out.then(c.setStageLocked(StageNegotiating, domain.ConnectionConnecting))
		}

	case domain.SignalAnswer:
		switch {
		case s.role != domain.RoleA || !s.offerSent:
			c.log.Warn("ignoring answer", "session", s.id, "reason", "no offer outstanding")
		case s.applying || s.remoteSet:
			c.log.Warn("ignoring answer", "session", s.id, "reason", "duplicate")
		case c.stage == StageFailed:
			c.log.Warn("ignoring answer", "session", s.id, "reason", "negotiation failed")
		default:
			c.applyRemoteLocked(s, *env.Description)
		}

	case domain.SignalCandidate:
		if !s.remoteSet {
			s.buffer.push(*env.Candidate)
			c.log.Debug("buffered remote candidate", "session", s.id, "pending", s.buffer.len())
			return
		}
		c.addCandidateLocked(s, *env.Candidate)
	}
	return
}

func (c *Coordinator) applyRemoteLocked(s *peerSession, desc domain.Description) {
	s.applying = true
	tr := s.transport
	c.async(s, eventRemoteApplied, func() (domain.Description, error) {
		return desc, tr.SetRemoteDescription(desc)
	})
}

// flushLocked applies buffered candidates in arrival order.
func (c *Coordinator) flushLocked(s *peerSession) {
	pending := s.buffer.drain()
	if len(pending) > 0 {
		c.log.Debug("flushing remote candidates", "session", s.id, "count", len(pending))
	}
	for _, cand := range pending {
		c.addCandidateLocked(s, cand)
	}
}

func (c *Coordinator) addCandidateLocked(s *peerSession, cand domain.Candidate) {
	if err := s.transport.AddICECandidate(cand); err != nil {
		c.log.Warn("candidate rejected", "err", &domain.CandidateError{Session: s.id, Candidate: cand.Candidate, Err: err})
	}
}

// publishLocked queues env for the relay. The first caller to find the
// outbox idle drains it once the lock is released.
func (c *Coordinator) publishLocked(s *peerSession, env domain.SignalEnvelope, out *outcome) error {
	data, err := domain.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	s.outbox = append(s.outbox, outgoing{kind: env.Kind, data: data})
	if !s.publishing {
		s.publishing = true
		out.then(func() { c.drain(s) })
	}
	return nil
}

// drain publishes queued envelopes in order until the outbox is empty or s
// is no longer the live session. Publish failures come back as events.
func (c *Coordinator) drain(s *peerSession) {
	for {
		c.mu.Lock()
		if c.sess != s || len(s.outbox) == 0 {
			s.publishing = false
			if c.sess != s {
				s.outbox = nil
			}
			c.mu.Unlock()
			return
		}
		msg := s.outbox[0]
		s.outbox = s.outbox[1:]
		c.mu.Unlock()

		if err := c.relay.Publish(s.ctx, s.id.Room, msg.data); err != nil {
			c.dispatch(event{kind: eventPublishFailed, session: s.id, signal: msg.kind, err: err})
		}
	}
}

func (c *Coordinator) transportStateLocked(s *peerSession, st domain.ConnectionState) (out outcome) {
	switch st {
	case domain.ConnectionConnecting:
		s.transportUp = false
		out.then(c.setStageLocked(c.stage, domain.ConnectionConnecting))
	case domain.ConnectionConnected:
		s.transportUp = true
		out.then(c.setStageLocked(StageConnected, domain.ConnectionConnected))
	case domain.ConnectionDisconnected:
		s.transportUp = false
		out.then(c.setStageLocked(StageDisconnected, domain.ConnectionDisconnected))
	case domain.ConnectionFailed:
		s.transportUp = false
		c.log.Error("transport failed", "session", s.id)
		out.then(c.setStageLocked(StageFailed, domain.ConnectionFailed))
	case domain.ConnectionClosed:
		s.transportUp = false
		out.then(c.setStageLocked(StageClosed, domain.ConnectionClosed))
	}
	return
}

// failLocked marks the current negotiation as failed. The session stays up
// until the caller stops or restarts it.
func (c *Coordinator) failLocked(s *peerSession, err error) (out outcome) {
	c.log.Error("negotiation failed", "session", s.id, "err", err)
	out.then(c.setStageLocked(StageFailed, domain.ConnectionFailed))
	return
}

// teardownLocked retires s after a fatal signaling error.
func (c *Coordinator) teardownLocked(s *peerSession, err error) (out outcome) {
	c.log.Error("session torn down", "session", s.id, "err", err)
	c.retireLocked(&out)
	out.then(c.setStageLocked(StageFailed, domain.ConnectionFailed))
	return
}

// async runs op off the lock and reports its result as an event for s.
func (c *Coordinator) async(s *peerSession, kind eventKind, op func() (domain.Description, error)) {
	id := s.id
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		desc, err := op()
		c.dispatch(event{kind: kind, session: id, desc: desc, err: err})
	}()
}

// settle waits for in-flight negotiation steps to report back.
func (c *Coordinator) settle() {
	c.pending.Wait()
}

// setStageLocked records stage and state and returns the observer
// notification to run once the lock is released.
func (c *Coordinator) setStageLocked(stage Stage, state domain.ConnectionState) func() {
	if c.stage != stage {
		c.log.Debug("stage", "from", c.stage, "to", stage)
		c.stage = stage
	}
	if c.state == state {
		return nil
	}
	c.state = state
	c.log.Info("connection state", "state", state)
	if c.onState == nil {
		return nil
	}
	return func() { c.onState(state) }
}
