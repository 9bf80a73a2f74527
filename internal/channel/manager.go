// Package channel manages the single location channel of a peer session.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"walkroom/native/internal/domain"
)

const (
	// Label is the data channel label both roles agree on.
	Label = "location"

	// DefaultSendTimeout bounds how long Send waits for the channel to open.
	DefaultSendTimeout = 5 * time.Second
)

var errAlreadyAttached = errors.New("session already has a channel")

// Hooks receive channel lifecycle events. Any of them may be nil.
type Hooks struct {
	OnOpen    func()
	OnClose   func()
	OnMessage func([]byte)
}

// Manager owns at most one DataChannel. Role A attaches the channel it
// creates; role B attaches the one the remote side opened. Send blocks until
// the channel is open, the timeout elapses, or the manager is closed.
type Manager struct {
	label   string
	timeout time.Duration
	hooks   Hooks
	log     *slog.Logger

	mu    sync.Mutex
	dc    domain.DataChannel
	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	doneOnce  sync.Once
}

// New creates a Manager without a channel. A timeout <= 0 selects
// DefaultSendTimeout.
func New(timeout time.Duration, hooks Hooks, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		label:   Label,
		timeout: timeout,
		hooks:   hooks,
		log:     logger.With("component", "channel"),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Create opens the session channel on t. Used by the initiating role.
func (m *Manager) Create(t domain.Transport) error {
	dc, err := t.CreateDataChannel(m.label)
	if err != nil {
		return &domain.ChannelError{Label: m.label, Err: fmt.Errorf("create data channel: %w", err)}
	}
	if err := m.attach(dc); err != nil {
		_ = dc.Close()
		return err
	}
	return nil
}

// Accept adopts a channel opened by the remote peer. Channels with the wrong
// label, unordered channels and partially reliable channels are rejected,
// as is any channel after the first.
func (m *Manager) Accept(dc domain.DataChannel) error {
	if err := validate(dc, m.label); err != nil {
		m.log.Warn("rejecting data channel", "label", dc.Label(), "ordered", dc.Ordered(), "reliable", dc.Reliable(), "err", err)
		_ = dc.Close()
		return &domain.ChannelError{Label: dc.Label(), Err: err}
	}
	if err := m.attach(dc); err != nil {
		m.log.Warn("rejecting extra data channel", "label", dc.Label())
		_ = dc.Close()
		return err
	}
	return nil
}

func validate(dc domain.DataChannel, label string) error {
	if dc.Label() != label {
		return fmt.Errorf("expected label=%q (got %q)", label, dc.Label())
	}
	if !dc.Ordered() {
		return errors.New("channel must be ordered")
	}
	if !dc.Reliable() {
		return errors.New("channel must be fully reliable")
	}
	return nil
}

func (m *Manager) attach(dc domain.DataChannel) error {
	m.mu.Lock()
	if m.dc != nil {
		m.mu.Unlock()
		return &domain.ChannelError{Label: dc.Label(), Err: errAlreadyAttached}
	}
	select {
	case <-m.done:
		m.mu.Unlock()
		return &domain.ChannelError{Label: dc.Label(), Err: domain.ErrChannelClosed}
	default:
	}
	m.dc = dc
	m.mu.Unlock()

	dc.OnOpen(m.markOpen)
	dc.OnClose(m.markClosed)
	dc.OnMessage(func(data []byte) {
		if m.isDone() || m.hooks.OnMessage == nil {
			return
		}
		m.hooks.OnMessage(data)
	})
	if dc.IsOpen() {
		m.markOpen()
	}
	return nil
}

func (m *Manager) markOpen() {
	if m.isDone() {
		return
	}
	m.readyOnce.Do(func() {
		close(m.ready)
		m.log.Info("data channel open", "label", m.label)
		if m.hooks.OnOpen != nil {
			m.hooks.OnOpen()
		}
	})
}

func (m *Manager) markClosed() {
	closed := false
	m.doneOnce.Do(func() {
		close(m.done)
		closed = true
	})
	if closed {
		m.log.Info("data channel closed", "label", m.label)
		if m.hooks.OnClose != nil {
			m.hooks.OnClose()
		}
	}
}

func (m *Manager) isDone() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Ready is closed once the channel has opened.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// IsOpen reports whether the channel is open and not yet closed.
func (m *Manager) IsOpen() bool {
	if m.isDone() {
		return false
	}
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Send transmits data once the channel is open.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	if m.isDone() {
		return &domain.ChannelError{Label: m.label, Err: domain.ErrChannelClosed}
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-m.ready:
	case <-m.done:
		return &domain.ChannelError{Label: m.label, Err: domain.ErrChannelClosed}
	case <-timer.C:
		return &domain.ChannelError{Label: m.label, Err: domain.ErrSendTimeout}
	case <-ctx.Done():
		return &domain.ChannelError{Label: m.label, Err: ctx.Err()}
	}

	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()
	if m.isDone() || dc == nil {
		return &domain.ChannelError{Label: m.label, Err: domain.ErrChannelClosed}
	}
	if err := dc.Send(data); err != nil {
		return &domain.ChannelError{Label: m.label, Err: err}
	}
	return nil
}

// Close closes the channel without invoking OnClose. It is idempotent.
func (m *Manager) Close() error {
	m.doneOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()
	if dc == nil {
		return nil
	}
	return dc.Close()
}
