package session

import (
	"context"
	"errors"
	"sync"

	"walkroom/native/internal/domain"
)

// fakeChannel is a DataChannel driven by the test.
type fakeChannel struct {
	label    string
	ordered  bool
	reliable bool

	mu        sync.Mutex
	open      bool
	closed    bool
	sent      [][]byte
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func newFakeChannel(label string) *fakeChannel {
	return &fakeChannel{label: label, ordered: true, reliable: true}
}

func (f *fakeChannel) Label() string  { return f.label }
func (f *fakeChannel) Ordered() bool  { return f.ordered }
func (f *fakeChannel) Reliable() bool { return f.reliable }

func (f *fakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) OnOpen(fn func())          { f.mu.Lock(); f.onOpen = fn; f.mu.Unlock() }
func (f *fakeChannel) OnClose(fn func())         { f.mu.Lock(); f.onClose = fn; f.mu.Unlock() }
func (f *fakeChannel) OnMessage(fn func([]byte)) { f.mu.Lock(); f.onMessage = fn; f.mu.Unlock() }

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.open = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fireOpen marks the channel open and runs the open handler.
func (f *fakeChannel) fireOpen() {
	f.mu.Lock()
	f.open = true
	fn := f.onOpen
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fireClose simulates the remote side closing the channel.
func (f *fakeChannel) fireClose() {
	f.mu.Lock()
	f.open = false
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeChannel) deliver(data []byte) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// fakeTransport records negotiation calls. When gate is set, the call named
// by gateOp blocks until gate is closed.
type fakeTransport struct {
	gateOp  string
	gate    chan struct{}
	entered chan struct{}

	mu          sync.Mutex
	offerErr    error
	answerErr   error
	remoteErr   error
	candErr     error
	remote      []domain.Description
	candidates  []domain.Candidate
	offers      int
	answers     int
	closed      bool
	channels    []*fakeChannel
	onCandidate func(domain.Candidate)
	onState     func(domain.ConnectionState)
	onChannel   func(domain.DataChannel)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{entered: make(chan struct{}, 1)}
}

func (f *fakeTransport) block(op string) {
	if f.gate == nil || f.gateOp != op {
		return
	}
	select {
	case f.entered <- struct{}{}:
	default:
	}
	<-f.gate
}

func (f *fakeTransport) CreateDataChannel(label string) (domain.DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dc := newFakeChannel(label)
	f.channels = append(f.channels, dc)
	return dc, nil
}

func (f *fakeTransport) OnDataChannel(fn func(domain.DataChannel)) {
	f.mu.Lock()
	f.onChannel = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnICECandidate(fn func(domain.Candidate)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) CreateOffer() (domain.Description, error) {
	f.block("offer")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	if f.offerErr != nil {
		return domain.Description{}, f.offerErr
	}
	return domain.Description{Type: domain.DescriptionOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (domain.Description, error) {
	f.block("answer")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	if f.answerErr != nil {
		return domain.Description{}, f.answerErr
	}
	return domain.Description{Type: domain.DescriptionAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(d domain.Description) error {
	f.block("remote")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, d)
	return f.remoteErr
}

func (f *fakeTransport) AddICECandidate(c domain.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candErr != nil {
		return f.candErr
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) emitCandidate(c domain.Candidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) emitState(s domain.ConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

func (f *fakeTransport) emitChannel(dc domain.DataChannel) {
	f.mu.Lock()
	fn := f.onChannel
	f.mu.Unlock()
	fn(dc)
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (f *fakeTransport) remoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remote)
}

func (f *fakeTransport) answerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answers
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) channel(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[i]
}

// fakeFactory hands out prepared transports in order, then fresh ones.
type fakeFactory struct {
	mu       sync.Mutex
	err      error
	prepared []*fakeTransport
	made     []*fakeTransport
}

func (f *fakeFactory) NewTransport() (domain.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var t *fakeTransport
	if len(f.prepared) > 0 {
		t, f.prepared = f.prepared[0], f.prepared[1:]
	} else {
		t = newFakeTransport()
	}
	f.made = append(f.made, t)
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[i]
}

// recordRelay captures published envelopes and exposes the subscriber's
// handlers to the test.
type recordRelay struct {
	mu           sync.Mutex
	subErr       error
	pubErr       error
	pubGate      chan struct{}
	pubEntered   chan struct{}
	published    []domain.SignalEnvelope
	onMessage    func([]byte)
	onLost       func(error)
	unsubscribed int
}

type recordSub struct{ r *recordRelay }

func (s recordSub) Unsubscribe() error {
	s.r.mu.Lock()
	s.r.unsubscribed++
	s.r.mu.Unlock()
	return nil
}

func (r *recordRelay) Subscribe(_ context.Context, _ string, onMessage func([]byte), onLost func(error)) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subErr != nil {
		return nil, r.subErr
	}
	r.onMessage = onMessage
	r.onLost = onLost
	return recordSub{r}, nil
}

func (r *recordRelay) Publish(_ context.Context, _ string, data []byte) error {
	r.mu.Lock()
	gate, entered := r.pubGate, r.pubEntered
	r.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubErr != nil {
		return r.pubErr
	}
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	r.published = append(r.published, env)
	return nil
}

func (r *recordRelay) envelopes() []domain.SignalEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SignalEnvelope(nil), r.published...)
}

func (r *recordRelay) count(kind domain.SignalKind) int {
	n := 0
	for _, env := range r.envelopes() {
		if env.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordRelay) unsubscribes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribed
}

func (r *recordRelay) lose(err error) {
	r.mu.Lock()
	fn := r.onLost
	r.mu.Unlock()
	fn(err)
}

// recordHandler counts channel events.
type recordHandler struct {
	mu       sync.Mutex
	opened   int
	closed   int
	messages [][]byte
}

func (h *recordHandler) ChannelOpened() { h.mu.Lock(); h.opened++; h.mu.Unlock() }
func (h *recordHandler) ChannelClosed() { h.mu.Lock(); h.closed++; h.mu.Unlock() }

func (h *recordHandler) HandleMessage(data []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, data)
	h.mu.Unlock()
}

func (h *recordHandler) counts() (opened, closed, messages int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.closed, len(h.messages)
}

// stateLog records OnStateChange notifications.
type stateLog struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (l *stateLog) record(s domain.ConnectionState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) all() []domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConnectionState(nil), l.states...)
}
