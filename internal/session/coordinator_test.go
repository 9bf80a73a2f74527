package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkroom/native/internal/domain"
	"walkroom/native/internal/signal"
)

const room = "walk-1"

type harness struct {
	c       *Coordinator
	relay   *recordRelay
	factory *fakeFactory
	handler *recordHandler
	states  *stateLog
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness builds a coordinator whose offer timer never fires on its own;
// tests trigger it with fireOffer.
func newHarness(t *testing.T, prepared ...*fakeTransport) *harness {
	t.Helper()
	h := &harness{
		relay:   &recordRelay{},
		factory: &fakeFactory{prepared: prepared},
		handler: &recordHandler{},
		states:  &stateLog{},
	}
	h.c = New(Config{
		Relay:         h.relay,
		Transports:    h.factory,
		Handler:       h.handler,
		Logger:        quietLogger(),
		OfferDelay:    time.Hour,
		SendTimeout:   50 * time.Millisecond,
		OnStateChange: h.states.record,
	})
	t.Cleanup(h.c.Stop)
	return h
}

func (h *harness) start(t *testing.T, role domain.Role) domain.SessionID {
	t.Helper()
	require.NoError(t, h.c.Start(context.Background(), room, role))
	id, ok := h.c.Session()
	require.True(t, ok)
	return id
}

// deliver hands env to the coordinator as if the relay had received it.
func (h *harness) deliver(t *testing.T, env domain.SignalEnvelope) {
	t.Helper()
	data, err := domain.EncodeEnvelope(env)
	require.NoError(t, err)
	id, ok := h.c.Session()
	require.True(t, ok)
	h.c.receive(id, data)
}

func (h *harness) fireOffer(id domain.SessionID) {
	h.c.dispatch(event{kind: eventOfferDue, session: id})
	h.c.settle()
}

func cand(s string) domain.Candidate {
	return domain.Candidate{Candidate: s}
}

func offerFromA() domain.SignalEnvelope {
	return domain.OfferEnvelope(domain.RoleA, domain.Description{Type: domain.DescriptionOffer, SDP: "v=0 remote offer"})
}

func answerFromB() domain.SignalEnvelope {
	return domain.AnswerEnvelope(domain.RoleB, domain.Description{Type: domain.DescriptionAnswer, SDP: "v=0 remote answer"})
}

func TestStart_IgnoresMissingRoleOrRoom(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(context.Background(), room, domain.RoleNone))
	require.NoError(t, h.c.Start(context.Background(), "", domain.RoleA))

	assert.Equal(t, 0, h.factory.count())
	assert.Equal(t, StageIdle, h.c.Stage())
	_, ok := h.c.Session()
	assert.False(t, ok)
}

func TestStart_SamePairIsNoop(t *testing.T) {
	h := newHarness(t)
	first := h.start(t, domain.RoleB)
	second := h.start(t, domain.RoleB)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.factory.count())
	assert.Equal(t, StageAwaitingOffer, h.c.Stage())
	assert.Equal(t, domain.ConnectionConnecting, h.c.State())
}

func TestStart_NewPairReplacesSession(t *testing.T) {
	h := newHarness(t)
	first := h.start(t, domain.RoleA)
	second := h.start(t, domain.RoleB)

	assert.Greater(t, second.Generation, first.Generation)
	assert.True(t, h.factory.transport(0).isClosed())
	assert.True(t, h.factory.transport(0).channel(0).isClosed())
	assert.False(t, h.factory.transport(1).isClosed())
	assert.Equal(t, 1, h.relay.unsubscribes())
}

func TestStart_RoleACreatesChannelBeforeOffer(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, domain.RoleA)

	tr := h.factory.transport(0)
	require.Len(t, tr.channels, 1)
	assert.Equal(t, "location", tr.channel(0).Label())
	assert.Equal(t, StageOffering, h.c.Stage())
	assert.Zero(t, h.relay.count(domain.SignalOffer))

	h.fireOffer(id)

	envs := h.relay.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, domain.SignalOffer, envs[0].Kind)
	assert.Equal(t, domain.RoleA, envs[0].Role)
	assert.Equal(t, StageNegotiating, h.c.Stage())

	// A second trigger does not produce another offer.
	h.fireOffer(id)
	assert.Equal(t, 1, h.relay.count(domain.SignalOffer))
}

func TestStart_SubscribeFailureIsSignalingError(t *testing.T) {
	h := newHarness(t)
	h.relay.subErr = errors.New("relay down")

	err := h.c.Start(context.Background(), room, domain.RoleA)

	var sigErr *domain.SignalingError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, room, sigErr.Session.Room)
	assert.Equal(t, domain.ConnectionFailed, h.c.State())
	assert.True(t, h.factory.transport(0).isClosed())
	_, ok := h.c.Session()
	assert.False(t, ok)
}

func TestStart_TransportFailureIsNegotiationError(t *testing.T) {
	h := newHarness(t)
	h.factory.err = errors.New("no ice")

	err := h.c.Start(context.Background(), room, domain.RoleB)

	var negErr *domain.NegotiationError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, "create transport", negErr.Op)
	assert.Equal(t, domain.ConnectionFailed, h.c.State())
}

func TestStart_AfterFailureRestarts(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleB)
	h.relay.lose(errors.New("gone"))
	require.Equal(t, domain.ConnectionFailed, h.c.State())

	h.start(t, domain.RoleB)

	assert.Equal(t, 2, h.factory.count())
	assert.Equal(t, StageAwaitingOffer, h.c.Stage())
}

func TestCandidates_BufferedUntilRemoteDescription(t *testing.T) {
	tr := newFakeTransport()
	tr.gateOp = "remote"
	tr.gate = make(chan struct{})
	h := newHarness(t, tr)
	h.start(t, domain.RoleB)

	h.deliver(t, domain.CandidateEnvelope(domain.RoleA, cand("c1")))
	h.deliver(t, domain.CandidateEnvelope(domain.RoleA, cand("c2")))
	assert.Empty(t, tr.appliedCandidates())

	h.deliver(t, offerFromA())
	<-tr.entered
	// Still applying the offer: keep buffering.
	h.deliver(t, domain.CandidateEnvelope(domain.RoleA, cand("c3")))
	assert.Empty(t, tr.appliedCandidates())

	close(tr.gate)
	h.c.settle()
	h.deliver(t, domain.CandidateEnvelope(domain.RoleA, cand("c4")))

	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, tr.appliedCandidates())
	assert.Equal(t, 1, h.relay.count(domain.SignalAnswer))
}

func TestCandidates_RejectedCandidateIsNotFatal(t *testing.T) {
	tr := newFakeTransport()
	tr.candErr = errors.New("bad candidate")
	h := newHarness(t, tr)
	h.start(t, domain.RoleB)
	h.deliver(t, offerFromA())
	h.c.settle()

	h.deliver(t, domain.CandidateEnvelope(domain.RoleA, cand("garbage")))

	assert.Equal(t, StageNegotiating, h.c.Stage())
	assert.NotEqual(t, domain.ConnectionFailed, h.c.State())
}

func TestLocalCandidatesArePublished(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleA)

	h.factory.transport(0).emitCandidate(cand("candidate:1 1 udp 1 192.0.2.1 5000 typ host"))

	envs := h.relay.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, domain.SignalCandidate, envs[0].Kind)
	assert.Equal(t, domain.RoleA, envs[0].Role)
	assert.Contains(t, envs[0].Candidate.Candidate, "192.0.2.1")
}

func TestRoleB_AnswersOffer(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleB)

	h.deliver(t, offerFromA())
	h.c.settle()

	tr := h.factory.transport(0)
	assert.Equal(t, 1, tr.remoteCount())
	envs := h.relay.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, domain.SignalAnswer, envs[0].Kind)
	assert.Equal(t, domain.RoleB, envs[0].Role)
	assert.Equal(t, StageNegotiating, h.c.Stage())
}

func TestRoleA_AppliesAnswer(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, domain.RoleA)

	// An answer before any offer was sent is unexpected.
	h.deliver(t, answerFromB())
	h.c.settle()
	assert.Zero(t, h.factory.transport(0).remoteCount())

	h.fireOffer(id)
	h.deliver(t, answerFromB())
	h.c.settle()
	h.deliver(t, answerFromB())
	h.c.settle()

	assert.Equal(t, 1, h.factory.transport(0).remoteCount())
}

func TestEnvelopes_IgnoredCases(t *testing.T) {
	tests := []struct {
		name string
		role domain.Role
		env  domain.SignalEnvelope
	}{
		{
			name: "offer tagged with own role",
			role: domain.RoleB,
			env:  domain.OfferEnvelope(domain.RoleB, domain.Description{Type: domain.DescriptionOffer, SDP: "v=0"}),
		},
		{
			name: "role A receiving an offer",
			role: domain.RoleA,
			env:  domain.OfferEnvelope(domain.RoleB, domain.Description{Type: domain.DescriptionOffer, SDP: "v=0"}),
		},
		{
			name: "role B receiving an answer",
			role: domain.RoleB,
			env:  domain.AnswerEnvelope(domain.RoleA, domain.Description{Type: domain.DescriptionAnswer, SDP: "v=0"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.start(t, tt.role)
			stage, state := h.c.Stage(), h.c.State()

			h.deliver(t, tt.env)
			h.c.settle()

			assert.Equal(t, stage, h.c.Stage())
			assert.Equal(t, state, h.c.State())
			assert.Zero(t, h.factory.transport(0).remoteCount())
			assert.Empty(t, h.relay.envelopes())
		})
	}
}

func TestEnvelopes_DuplicateOfferIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleB)

	h.deliver(t, offerFromA())
	h.c.settle()
	h.deliver(t, offerFromA())
	h.c.settle()

	assert.Equal(t, 1, h.factory.transport(0).remoteCount())
	assert.Equal(t, 1, h.relay.count(domain.SignalAnswer))
}

func TestEnvelopes_UnknownTypeIsNotFatal(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, domain.RoleB)

	h.c.receive(id, []byte(`{"type":"renegotiate","data":{},"role":"A"}`))

	assert.Equal(t, StageAwaitingOffer, h.c.Stage())
	_, ok := h.c.Session()
	assert.True(t, ok)
}

func TestEnvelopes_MalformedTearsDown(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, domain.RoleB)

	h.c.receive(id, []byte(`{"type":"offer","data":{"type":"offer"},"role":"A"}`))

	assert.Equal(t, StageFailed, h.c.Stage())
	assert.Equal(t, domain.ConnectionFailed, h.c.State())
	assert.True(t, h.factory.transport(0).isClosed())
	assert.Equal(t, 1, h.relay.unsubscribes())
	_, ok := h.c.Session()
	assert.False(t, ok)
}

func TestRelayLostTearsDown(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleA)

	h.relay.lose(errors.New("connection reset"))

	assert.Equal(t, domain.ConnectionFailed, h.c.State())
	assert.True(t, h.factory.transport(0).isClosed())
}

func TestNegotiationFailures(t *testing.T) {
	tests := []struct {
		name    string
		role    domain.Role
		prepare func(*fakeTransport)
		drive   func(*testing.T, *harness, domain.SessionID)
	}{
		{
			name:    "create offer",
			role:    domain.RoleA,
			prepare: func(tr *fakeTransport) { tr.offerErr = errors.New("boom") },
			drive:   func(_ *testing.T, h *harness, id domain.SessionID) { h.fireOffer(id) },
		},
		{
			name:    "set remote offer",
			role:    domain.RoleB,
			prepare: func(tr *fakeTransport) { tr.remoteErr = errors.New("bad sdp") },
			drive: func(t *testing.T, h *harness, _ domain.SessionID) {
				h.deliver(t, offerFromA())
				h.c.settle()
			},
		},
		{
			name:    "create answer",
			role:    domain.RoleB,
			prepare: func(tr *fakeTransport) { tr.answerErr = errors.New("boom") },
			drive: func(t *testing.T, h *harness, _ domain.SessionID) {
				h.deliver(t, offerFromA())
				h.c.settle()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			tt.prepare(tr)
			h := newHarness(t, tr)
			id := h.start(t, tt.role)

			tt.drive(t, h, id)

			assert.Equal(t, StageFailed, h.c.Stage())
			assert.Equal(t, domain.ConnectionFailed, h.c.State())
			assert.Zero(t, h.relay.count(domain.SignalAnswer))
			// No silent retry: later offers are ignored.
			if tt.role == domain.RoleB {
				before := tr.remoteCount()
				h.deliver(t, offerFromA())
				h.c.settle()
				assert.Equal(t, before, tr.remoteCount())
			}
		})
	}
}

func TestStop_DiscardsInFlightNegotiation(t *testing.T) {
	tests := []struct {
		name    string
		role    domain.Role
		gate    string
		answers int
		drive   func(*testing.T, *harness, domain.SessionID)
	}{
		{
			name: "offer",
			role: domain.RoleA,
			gate: "offer",
			drive: func(_ *testing.T, h *harness, id domain.SessionID) {
				h.c.dispatch(event{kind: eventOfferDue, session: id})
			},
		},
		{
			name: "remote description",
			role: domain.RoleB,
			gate: "remote",
			drive: func(t *testing.T, h *harness, _ domain.SessionID) {
				h.deliver(t, offerFromA())
			},
		},
		{
			name:    "answer",
			role:    domain.RoleB,
			gate:    "answer",
			answers: 1,
			drive: func(t *testing.T, h *harness, _ domain.SessionID) {
				h.deliver(t, offerFromA())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			tr.gateOp = tt.gate
			tr.gate = make(chan struct{})
			h := newHarness(t, tr)
			id := h.start(t, tt.role)

			tt.drive(t, h, id)
			<-tr.entered
			h.c.Stop()
			close(tr.gate)
			h.c.settle()

			assert.Empty(t, h.relay.envelopes())
			assert.Equal(t, tt.answers, tr.answerCount())
			assert.Equal(t, StageClosed, h.c.Stage())
			assert.Equal(t, domain.ConnectionClosed, h.c.State())
			assert.True(t, tr.isClosed())
		})
	}
}

func TestPublishFailures(t *testing.T) {
	tests := []struct {
		name      string
		role      domain.Role
		drive     func(*testing.T, *harness, domain.SessionID)
		wantStage Stage
	}{
		{
			name:      "offer",
			role:      domain.RoleA,
			drive:     func(_ *testing.T, h *harness, id domain.SessionID) { h.fireOffer(id) },
			wantStage: StageFailed,
		},
		{
			name: "answer",
			role: domain.RoleB,
			drive: func(t *testing.T, h *harness, _ domain.SessionID) {
				h.deliver(t, offerFromA())
				h.c.settle()
			},
			wantStage: StageFailed,
		},
		{
			name: "candidate",
			role: domain.RoleA,
			drive: func(_ *testing.T, h *harness, _ domain.SessionID) {
				h.factory.transport(0).emitCandidate(cand("candidate:1 1 udp 1 192.0.2.1 5000 typ host"))
			},
			wantStage: StageOffering,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.relay.pubErr = errors.New("relay unavailable")
			id := h.start(t, tt.role)

			tt.drive(t, h, id)

			assert.Equal(t, tt.wantStage, h.c.Stage())
			assert.Empty(t, h.relay.envelopes())
		})
	}
}

func TestSlowRelayDoesNotBlockStop(t *testing.T) {
	h := newHarness(t)
	h.relay.pubGate = make(chan struct{})
	h.relay.pubEntered = make(chan struct{}, 1)
	id := h.start(t, domain.RoleA)

	h.c.dispatch(event{kind: eventOfferDue, session: id})
	<-h.relay.pubEntered

	returns := func(name string, fn func()) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("%s blocked behind a pending publish", name)
		}
	}

	// Queued behind the offer; must not wait for it.
	returns("candidate", func() {
		h.factory.transport(0).emitCandidate(cand("candidate:1 1 udp 1 192.0.2.1 5000 typ host"))
	})
	returns("stop", h.c.Stop)
	assert.Equal(t, domain.ConnectionClosed, h.c.State())

	close(h.relay.pubGate)
	h.c.settle()

	// The offer was already on the wire; the queued candidate is dropped.
	assert.Equal(t, 1, h.relay.count(domain.SignalOffer))
	assert.Zero(t, h.relay.count(domain.SignalCandidate))
	assert.Equal(t, StageClosed, h.c.Stage())
}

func TestPublishOrderIsPreserved(t *testing.T) {
	h := newHarness(t)
	h.relay.pubGate = make(chan struct{})
	h.relay.pubEntered = make(chan struct{}, 1)
	id := h.start(t, domain.RoleA)

	h.c.dispatch(event{kind: eventOfferDue, session: id})
	<-h.relay.pubEntered
	tr := h.factory.transport(0)
	tr.emitCandidate(cand("candidate:1 1 udp 1 192.0.2.1 5000 typ host"))
	tr.emitCandidate(cand("candidate:2 1 udp 1 192.0.2.2 5000 typ host"))

	close(h.relay.pubGate)
	h.c.settle()

	envs := h.relay.envelopes()
	require.Len(t, envs, 3)
	assert.Equal(t, domain.SignalOffer, envs[0].Kind)
	assert.Contains(t, envs[1].Candidate.Candidate, "192.0.2.1")
	assert.Contains(t, envs[2].Candidate.Candidate, "192.0.2.2")
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleA)

	h.c.Stop()
	h.c.Stop()

	assert.Equal(t, 1, h.relay.unsubscribes())
	assert.Equal(t, domain.ConnectionClosed, h.c.State())
	assert.ErrorIs(t, h.c.Send(context.Background(), []byte("x")), domain.ErrNoSession)
}

func TestStaleTransportEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleA)
	old := h.factory.transport(0)
	h.start(t, domain.RoleB)

	old.emitCandidate(cand("stale"))
	old.emitState(domain.ConnectionConnected)

	assert.Empty(t, h.relay.envelopes())
	assert.Equal(t, StageAwaitingOffer, h.c.Stage())
	assert.False(t, h.c.IsConnected())
}

func TestConnectedRequiresTransportAndChannel(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleA)
	tr := h.factory.transport(0)
	dc := tr.channel(0)

	tr.emitState(domain.ConnectionConnected)
	assert.Equal(t, domain.ConnectionConnected, h.c.State())
	assert.False(t, h.c.IsConnected())

	dc.fireOpen()
	assert.True(t, h.c.IsConnected())
	opened, _, _ := h.handler.counts()
	assert.Equal(t, 1, opened)

	tr.emitState(domain.ConnectionDisconnected)
	assert.False(t, h.c.IsConnected())
	assert.Equal(t, StageDisconnected, h.c.Stage())

	tr.emitState(domain.ConnectionConnected)
	assert.True(t, h.c.IsConnected())

	assert.Equal(t, []domain.ConnectionState{
		domain.ConnectionConnecting,
		domain.ConnectionConnected,
		domain.ConnectionDisconnected,
		domain.ConnectionConnected,
	}, h.states.all())
}

func TestTransportFailedIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleB)

	h.factory.transport(0).emitState(domain.ConnectionFailed)

	assert.Equal(t, StageFailed, h.c.Stage())
	assert.Equal(t, domain.ConnectionFailed, h.c.State())
	assert.Equal(t, 1, h.factory.count())
}

func TestRoleB_AcceptsChannelAndRelaysMessages(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleB)
	tr := h.factory.transport(0)

	dc := newFakeChannel("location")
	tr.emitChannel(dc)
	dc.fireOpen()
	dc.deliver([]byte(`{"lat":1,"lng":2,"role":"A"}`))

	opened, _, messages := h.handler.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, messages)

	require.NoError(t, h.c.Send(context.Background(), []byte("hello")))
	assert.Equal(t, 1, dc.sentCount())

	dc.fireClose()
	_, closed, _ := h.handler.counts()
	assert.Equal(t, 1, closed)
	assert.False(t, h.c.IsConnected())
}

func TestRoleB_RejectsWrongChannel(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleB)

	dc := newFakeChannel("video")
	h.factory.transport(0).emitChannel(dc)

	assert.True(t, dc.isClosed())
}

func TestSend_TimesOutBeforeOpen(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleA)

	err := h.c.Send(context.Background(), []byte("x"))

	assert.ErrorIs(t, err, domain.ErrSendTimeout)
}

func TestStop_NotifiesChannelClosed(t *testing.T) {
	h := newHarness(t)
	h.start(t, domain.RoleA)
	h.factory.transport(0).channel(0).fireOpen()

	h.c.Stop()

	_, closed, _ := h.handler.counts()
	assert.Equal(t, 1, closed)
}

// spy subscribes to the room and records every envelope the peers publish.
type spy struct {
	mu   sync.Mutex
	envs []domain.SignalEnvelope
}

func (s *spy) record(data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.envs = append(s.envs, env)
	s.mu.Unlock()
}

func (s *spy) count(kind domain.SignalKind, role domain.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.envs {
		if env.Kind == kind && env.Role == role {
			n++
		}
	}
	return n
}

func (s *spy) total(kind domain.SignalKind) int {
	return s.count(kind, domain.RoleA) + s.count(kind, domain.RoleB)
}

func TestConcurrentStart_SingleOfferFromA(t *testing.T) {
	relay := signal.NewMemoryRelay()
	defer relay.Close()
	watch := &spy{}
	sub, err := relay.Subscribe(context.Background(), room, watch.record, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	newPeer := func() (*Coordinator, *fakeFactory) {
		f := &fakeFactory{}
		c := New(Config{
			Relay:      relay,
			Transports: f,
			Logger:     quietLogger(),
			OfferDelay: 50 * time.Millisecond,
		})
		t.Cleanup(c.Stop)
		return c, f
	}
	a, fa := newPeer()
	b, fb := newPeer()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, a.Start(context.Background(), room, domain.RoleA)) }()
	go func() { defer wg.Done(); assert.NoError(t, b.Start(context.Background(), room, domain.RoleB)) }()
	wg.Wait()

	require.Eventually(t, func() bool {
		return fa.count() == 1 && fa.transport(0).remoteCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	a.settle()
	b.settle()

	assert.Equal(t, 1, watch.total(domain.SignalOffer))
	assert.Equal(t, 1, watch.count(domain.SignalOffer, domain.RoleA))
	assert.Equal(t, 1, watch.count(domain.SignalAnswer, domain.RoleB))
	assert.Equal(t, 1, fb.transport(0).remoteCount())
	assert.Zero(t, fa.transport(0).answerCount())
}
