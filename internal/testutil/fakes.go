// Package testutil provides in-memory stand-ins for the signaling transport
// and pion peer connections.
package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// MockPeerConnection records what the session manager does to it and lets a
// test fire the pion callbacks by hand.
type MockPeerConnection struct {
	mu sync.Mutex

	Tracks            []webrtc.TrackLocal
	LocalDescription  *webrtc.SessionDescription
	RemoteDescription *webrtc.SessionDescription
	Candidates        []webrtc.ICECandidateInit
	CloseCalls        int

	SetRemoteErr error
	CreateErr    error
	AddTrackErr  error

	onICECandidate func(*webrtc.ICECandidate)
	onTrack        func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState        func(webrtc.PeerConnectionState)
}

var _ ports.PeerConnection = (*MockPeerConnection)(nil)

func (m *MockPeerConnection) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddTrackErr != nil {
		return nil, m.AddTrackErr
	}
	m.Tracks = append(m.Tracks, track)
	return nil, nil
}

func (m *MockPeerConnection) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return webrtc.SessionDescription{}, m.CreateErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "mock-offer-sdp"}, nil
}

func (m *MockPeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return webrtc.SessionDescription{}, m.CreateErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "mock-answer-sdp"}, nil
}

func (m *MockPeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocalDescription = &desc
	return nil
}

func (m *MockPeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetRemoteErr != nil {
		return m.SetRemoteErr
	}
	m.RemoteDescription = &desc
	return nil
}

// AddICECandidate fails like pion does when no remote description is set.
func (m *MockPeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoteDescription == nil {
		return fmt.Errorf("add candidate %q: no remote description", c.Candidate)
	}
	m.Candidates = append(m.Candidates, c)
	return nil
}

func (m *MockPeerConnection) OnICECandidate(handler func(*webrtc.ICECandidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onICECandidate = handler
}

func (m *MockPeerConnection) OnTrack(handler func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = handler
}

func (m *MockPeerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = handler
}

func (m *MockPeerConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

// EmitCandidate fires the OnICECandidate handler as pion would after gathering.
func (m *MockPeerConnection) EmitCandidate(c *webrtc.ICECandidate) {
	m.mu.Lock()
	h := m.onICECandidate
	m.mu.Unlock()
	if h != nil {
		h(c)
	}
}

// EmitTrack fires the OnTrack handler.
func (m *MockPeerConnection) EmitTrack(track *webrtc.TrackRemote) {
	m.mu.Lock()
	h := m.onTrack
	m.mu.Unlock()
	if h != nil {
		h(track, nil)
	}
}

func (m *MockPeerConnection) EmitState(state webrtc.PeerConnectionState) {
	m.mu.Lock()
	h := m.onState
	m.mu.Unlock()
	if h != nil {
		h(state)
	}
}

func (m *MockPeerConnection) AppliedCandidates() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), m.Candidates...)
}

func (m *MockPeerConnection) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCalls
}

func (m *MockPeerConnection) Remote() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoteDescription
}

// MockFactory hands out MockPeerConnections and keeps them in creation order.
type MockFactory struct {
	mu    sync.Mutex
	PCs   []*MockPeerConnection
	Err   error
	Setup func(*MockPeerConnection)
}

var _ ports.PeerConnectionFactory = (*MockFactory)(nil)

func (f *MockFactory) NewPeerConnection() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	pc := &MockPeerConnection{}
	if f.Setup != nil {
		f.Setup(pc)
	}
	f.PCs = append(f.PCs, pc)
	return pc, nil
}

func (f *MockFactory) PC(i int) *MockPeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PCs[i]
}

func (f *MockFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.PCs)
}

// MockTransport records sent messages and lets a test push inbound ones.
type MockTransport struct {
	mu          sync.Mutex
	Sent        []domain.Message
	SendErr     error
	Connected   bool
	Disconnects int
	handlers    map[int]func(domain.Message)
	nextID      int
	connHandler []func(bool)
}

var _ ports.SignalingTransport = (*MockTransport)(nil)

func NewMockTransport() *MockTransport {
	return &MockTransport{Connected: true, handlers: make(map[int]func(domain.Message))}
}

func (t *MockTransport) Connect(context.Context) error {
	t.mu.Lock()
	t.Connected = true
	handlers := slices.Clone(t.connHandler)
	t.mu.Unlock()
	for _, h := range handlers {
		h(true)
	}
	return nil
}

func (t *MockTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = false
	t.Disconnects++
	return nil
}

func (t *MockTransport) Send(_ context.Context, msg domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.Sent = append(t.Sent, msg)
	return nil
}

func (t *MockTransport) Subscribe(handler func(domain.Message)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

func (t *MockTransport) OnConnectionChange(handler func(bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connHandler = append(t.connHandler, handler)
}

func (t *MockTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Connected
}

// Deliver hands msg to every current subscriber, like the read loop does.
func (t *MockTransport) Deliver(msg domain.Message) {
	t.mu.Lock()
	handlers := make([]func(domain.Message), 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (t *MockTransport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

func (t *MockTransport) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Message(nil), t.Sent...)
}

// SentOf returns the sent messages of one kind.
func (t *MockTransport) SentOf(kind domain.MessageKind) []domain.Message {
	var out []domain.Message
	for _, m := range t.Messages() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

func (t *MockTransport) SetSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SendErr = err
}

// MockLocalStream is a LocalStream with real pion tracks and a stop counter.
type MockLocalStream struct {
	mu        sync.Mutex
	tracks    []webrtc.TrackLocal
	StopCalls int
}

var _ ports.LocalStream = (*MockLocalStream)(nil)

func NewMockLocalStream() *MockLocalStream {
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		panic(err)
	}
	video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
	if err != nil {
		panic(err)
	}
	return &MockLocalStream{tracks: []webrtc.TrackLocal{audio, video}}
}

func (s *MockLocalStream) ID() string                   { return "local" }
func (s *MockLocalStream) Tracks() []webrtc.TrackLocal  { return s.tracks }
func (s *MockLocalStream) BindSender(*webrtc.RTPSender) {}

func (s *MockLocalStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
}

func (s *MockLocalStream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls
}
