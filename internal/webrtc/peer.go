package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"walkroom/native/internal/domain"
)

// Options configures the pion API and the transports built from it.
type Options struct {
	ICEServers []domain.ICEServer
	// AllowLoopback keeps 127.0.0.1 and ::1 candidates, which are dropped by
	// default.
	AllowLoopback bool
	// PionLogLevel is the level for pion's internal loggers.
	PionLogLevel logging.LogLevel
	Logger       *slog.Logger
	// Tune adjusts the setting engine before the API is built.
	Tune func(*pion.SettingEngine)
}

// NewAPI builds a pion API with the default interceptors registered.
func NewAPI(opts Options) (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = opts.PionLogLevel

	se := pion.SettingEngine{LoggerFactory: lf}
	if opts.Tune != nil {
		opts.Tune(&se)
	}

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	), nil
}

// Factory creates one PeerConnection per session.
type Factory struct {
	api           *pion.API
	servers       []pion.ICEServer
	allowLoopback bool
	log           *slog.Logger
}

var _ domain.TransportFactory = (*Factory)(nil)

// NewFactory builds the API once and reuses it for every transport.
func NewFactory(opts Options) (*Factory, error) {
	api, err := NewAPI(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var servers []pion.ICEServer
	for _, s := range opts.ICEServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	return &Factory{
		api:           api,
		servers:       servers,
		allowLoopback: opts.AllowLoopback,
		log:           logger.With("component", "webrtc"),
	}, nil
}

// NewTransport creates a PeerConnection configured with the ICE servers.
func (f *Factory) NewTransport() (domain.Transport, error) {
	pc, err := f.api.NewPeerConnection(pion.Configuration{
		ICEServers:   f.servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	t := &Transport{pc: pc, allowLoopback: f.allowLoopback, log: f.log}
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		t.log.Debug("ICE connection state", "state", state.String())
	})
	return t, nil
}

// Transport adapts a pion PeerConnection.
type Transport struct {
	pc            *pion.PeerConnection
	allowLoopback bool
	log           *slog.Logger
}

var _ domain.Transport = (*Transport)(nil)

// CreateDataChannel opens an ordered, fully reliable channel.
func (t *Transport) CreateDataChannel(label string) (domain.DataChannel, error) {
	ordered := true
	dc, err := t.pc.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &DataChannel{dc: dc}, nil
}

func (t *Transport) OnDataChannel(fn func(domain.DataChannel)) {
	t.pc.OnDataChannel(func(dc *pion.DataChannel) {
		t.log.Debug("remote data channel", "label", dc.Label())
		fn(&DataChannel{dc: dc})
	})
}

func (t *Transport) OnICECandidate(fn func(domain.Candidate)) {
	t.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			t.log.Debug("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		if !t.allowLoopback && isLoopback(init.Candidate) {
			t.log.Debug("filtering loopback ICE candidate")
			return
		}
		t.log.Debug("local ICE candidate", "candidate", init.Candidate)
		fn(domain.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (t *Transport) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	t.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		t.log.Info("peer connection state", "state", state.String())
		fn(connectionState(state))
	})
}

func connectionState(s pion.PeerConnectionState) domain.ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case pion.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case pion.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (t *Transport) CreateOffer() (domain.Description, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.Description{}, fmt.Errorf("set local description: %w", err)
	}
	t.log.Debug("local SDP offer set")
	return domain.Description{Type: domain.DescriptionOffer, SDP: offer.SDP}, nil
}

// CreateAnswer creates an SDP answer and sets it as the local description.
func (t *Transport) CreateAnswer() (domain.Description, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.Description{}, fmt.Errorf("set local description: %w", err)
	}
	t.log.Debug("local SDP answer set")
	return domain.Description{Type: domain.DescriptionAnswer, SDP: answer.SDP}, nil
}

func (t *Transport) SetRemoteDescription(d domain.Description) error {
	typ := pion.NewSDPType(d.Type)
	if typ != pion.SDPTypeOffer && typ != pion.SDPTypeAnswer {
		return fmt.Errorf("set remote description: unsupported type %q", d.Type)
	}
	if err := t.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: d.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	t.log.Debug("remote SDP set", "type", d.Type)
	return nil
}

func (t *Transport) AddICECandidate(c domain.Candidate) error {
	err := t.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
	if err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	return t.pc.Close()
}

// DataChannel adapts a pion DataChannel. Messages are sent as text.
type DataChannel struct {
	dc *pion.DataChannel
}

var _ domain.DataChannel = (*DataChannel)(nil)

func (d *DataChannel) Label() string { return d.dc.Label() }
func (d *DataChannel) Ordered() bool { return d.dc.Ordered() }

func (d *DataChannel) Reliable() bool {
	return d.dc.MaxRetransmits() == nil && d.dc.MaxPacketLifeTime() == nil
}

func (d *DataChannel) IsOpen() bool {
	return d.dc.ReadyState() == pion.DataChannelStateOpen
}

func (d *DataChannel) OnOpen(fn func())  { d.dc.OnOpen(fn) }
func (d *DataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *DataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg pion.DataChannelMessage) {
		fn(append([]byte(nil), msg.Data...))
	})
}

func (d *DataChannel) Send(data []byte) error {
	return d.dc.SendText(string(data))
}

func (d *DataChannel) Close() error {
	err := d.dc.Close()
	if errors.Is(err, pion.ErrConnectionClosed) {
		return nil
	}
	return err
}

// isLoopback reports whether an SDP candidate line carries a loopback
// address.
func isLoopback(candidate string) bool {
	fields := strings.Fields(strings.TrimPrefix(candidate, "candidate:"))
	if len(fields) < 5 {
		return false
	}
	ip := net.ParseIP(fields[4])
	return ip != nil && ip.IsLoopback()
}
