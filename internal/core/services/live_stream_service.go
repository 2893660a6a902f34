package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Callbacks are the UI hooks. Any of them may be nil. They are never invoked
// while the service holds its lock.
type Callbacks struct {
	OnViewerJoined   func(domain.ViewerJoined)
	OnStreamReceived func(*RemoteStream)
	OnStreamMessage  func(domain.StreamMessage)
	OnStreamLike     func(domain.StreamLike)
	OnStreamEnded    func()
}

// LiveStreamConfig tunes the session manager.
type LiveStreamConfig struct {
	// NegotiationTimeout closes sessions that are not connected in time. Zero disables it.
	NegotiationTimeout time.Duration
	// ChatRate limits SendMessage/SendLike. Zero means unlimited.
	ChatRate  rate.Limit
	ChatBurst int
}

func DefaultLiveStreamConfig() LiveStreamConfig {
	return LiveStreamConfig{
		NegotiationTimeout: 30 * time.Second,
		ChatRate:           5,
		ChatBurst:          10,
	}
}

// LiveStreamService owns one client's participation in a stream: its role,
// the local media stream and every peer session keyed by remote session id.
type LiveStreamService struct {
	transport ports.SignalingTransport
	factory   ports.PeerConnectionFactory
	config    LiveStreamConfig
	metrics   ports.Metrics
	inbound   ports.InboundTrackHandler
	logger    *zap.SugaredLogger

	mu          sync.Mutex
	callbacks   Callbacks
	role        domain.Role
	streamID    domain.StreamID
	participant domain.Participant
	localStream ports.LocalStream
	sessions    map[domain.SessionID]*peerSession
	unsubscribe func()
	chatLimiter *rate.Limiter
}

var _ ports.LiveStreamService = (*LiveStreamService)(nil)

func NewLiveStreamService(
	transport ports.SignalingTransport,
	factory ports.PeerConnectionFactory,
	config LiveStreamConfig,
	logger *zap.SugaredLogger,
) *LiveStreamService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	limit := config.ChatRate
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := config.ChatBurst
	if burst <= 0 {
		burst = 1
	}

	return &LiveStreamService{
		transport:   transport,
		factory:     factory,
		config:      config,
		metrics:     ports.NopMetrics{},
		logger:      logger,
		sessions:    make(map[domain.SessionID]*peerSession),
		chatLimiter: rate.NewLimiter(limit, burst),
	}
}

func (s *LiveStreamService) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
}

// SetMetrics must be called before the service is used.
func (s *LiveStreamService) SetMetrics(m ports.Metrics) {
	s.metrics = m
}

// SetInboundTrackHandler must be called before the service is used.
func (s *LiveStreamService) SetInboundTrackHandler(h ports.InboundTrackHandler) {
	s.inbound = h
}

func (s *LiveStreamService) Connect(ctx context.Context) error {
	return s.transport.Connect(ctx)
}

// SetLocalStream hands the captured media to the service. It is stopped by
// Cleanup. A stream set earlier and not yet used is stopped when replaced; the
// stream cannot change while a role is active.
func (s *LiveStreamService) SetLocalStream(stream ports.LocalStream) error {
	s.mu.Lock()
	if s.role != domain.RoleNone {
		s.mu.Unlock()
		return domain.ErrRoleConflict
	}
	prev := s.localStream
	s.localStream = stream
	s.mu.Unlock()

	if prev != nil && prev != stream {
		prev.Stop()
	}
	return nil
}

// StartBroadcast enters the broadcaster role. An empty streamID gets a fresh one.
func (s *LiveStreamService) StartBroadcast(ctx context.Context, streamID domain.StreamID, who domain.Participant) (domain.StreamID, error) {
	if streamID == "" {
		streamID = domain.NewStreamID()
	}

	s.mu.Lock()
	if s.role != domain.RoleNone {
		s.mu.Unlock()
		return "", domain.ErrRoleConflict
	}
	if s.localStream == nil {
		s.mu.Unlock()
		return "", domain.ErrNoLocalStream
	}
	s.enterRole(domain.RoleBroadcaster, streamID, who)
	s.mu.Unlock()

	s.preflight("start-stream")
	err := s.send(ctx, domain.StartStream{StreamID: streamID, UserID: who.UserID, UserName: who.UserName})
	if err != nil {
		s.leaveRole()
		return "", fmt.Errorf("start broadcast: %w", err)
	}

	s.logger.Infow("broadcast started", "stream_id", streamID, "user_id", who.UserID)
	return streamID, nil
}

// JoinStream enters the viewer role. The peer session is created once the
// server answers with stream-ready.
func (s *LiveStreamService) JoinStream(ctx context.Context, streamID domain.StreamID, who domain.Participant) error {
	if streamID == "" {
		return domain.ErrInvalidStreamID
	}

	s.mu.Lock()
	if s.role != domain.RoleNone {
		s.mu.Unlock()
		return domain.ErrRoleConflict
	}
	s.enterRole(domain.RoleViewer, streamID, who)
	s.mu.Unlock()

	s.preflight("join-stream")
	if err := s.send(ctx, domain.JoinStream{StreamID: streamID, UserID: who.UserID, UserName: who.UserName}); err != nil {
		s.leaveRole()
		return fmt.Errorf("join stream: %w", err)
	}

	s.logger.Infow("joined stream", "stream_id", streamID, "user_id", who.UserID)
	return nil
}

// enterRole must be called with s.mu held.
func (s *LiveStreamService) enterRole(role domain.Role, streamID domain.StreamID, who domain.Participant) {
	s.role = role
	s.streamID = streamID
	s.participant = who
	s.unsubscribe = s.transport.Subscribe(s.dispatch)
}

// leaveRole undoes enterRole after a failed first send. The local stream is kept.
func (s *LiveStreamService) leaveRole() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.role = domain.RoleNone
	s.streamID = ""
	s.participant = domain.Participant{}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (s *LiveStreamService) preflight(action string) {
	if !s.transport.IsConnected() {
		s.logger.Warnw("signaling transport not connected, sending anyway", "action", action)
	}
}

// SendMessage relays a chat line to the stream. Fire-and-forget.
func (s *LiveStreamService) SendMessage(ctx context.Context, text string) (domain.Outcome, error) {
	s.mu.Lock()
	streamID, who := s.streamID, s.participant
	s.mu.Unlock()

	if streamID == "" {
		return domain.OutcomeNoActiveStream, nil
	}
	if !s.chatLimiter.Allow() {
		return domain.OutcomeRateLimited, nil
	}
	msg := domain.StreamMessage{StreamID: streamID, Message: text, UserID: who.UserID, UserName: who.UserName}
	return domain.OutcomeOK, s.send(ctx, msg)
}

// SendLike relays a like reaction to the stream. Fire-and-forget.
func (s *LiveStreamService) SendLike(ctx context.Context) (domain.Outcome, error) {
	s.mu.Lock()
	streamID, who := s.streamID, s.participant
	s.mu.Unlock()

	if streamID == "" {
		return domain.OutcomeNoActiveStream, nil
	}
	if !s.chatLimiter.Allow() {
		return domain.OutcomeRateLimited, nil
	}
	return domain.OutcomeOK, s.send(ctx, domain.StreamLike{StreamID: streamID, UserID: who.UserID})
}

// EndStream announces the end of a broadcast and cleans up. It is a no-op
// for viewers and when no stream is active.
func (s *LiveStreamService) EndStream(ctx context.Context) error {
	s.mu.Lock()
	role, streamID := s.role, s.streamID
	s.mu.Unlock()

	if role != domain.RoleBroadcaster || streamID == "" {
		return nil
	}

	err := s.send(ctx, domain.EndStream{StreamID: streamID})
	s.Cleanup()
	s.logger.Infow("broadcast ended", "stream_id", streamID)
	if err != nil {
		return fmt.Errorf("end stream: %w", err)
	}
	return nil
}

// Cleanup closes every peer session, stops the local stream, drops the
// transport subscription and resets the role. It is idempotent.
func (s *LiveStreamService) Cleanup() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[domain.SessionID]*peerSession)
	local := s.localStream
	s.localStream = nil
	unsub := s.unsubscribe
	s.unsubscribe = nil
	streamID := s.streamID
	s.role = domain.RoleNone
	s.streamID = ""
	s.participant = domain.Participant{}

	for id, session := range sessions {
		if err := session.close(); err != nil {
			s.logger.Debugw("close peer connection", "session_id", id, "error", err)
		}
		s.metrics.SessionClosed(session.role)
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if local != nil {
		local.Stop()
	}
	if len(sessions) > 0 || streamID != "" {
		s.logger.Infow("stream state cleaned up", "stream_id", streamID, "sessions", len(sessions))
	}
}

// Disconnect cleans up and closes the signaling transport.
func (s *LiveStreamService) Disconnect() error {
	s.Cleanup()
	return s.transport.Disconnect()
}

func (s *LiveStreamService) Status() domain.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]domain.SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, session.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RemoteID < infos[j].RemoteID })

	return domain.StreamStatus{
		Role:      s.role,
		StreamID:  s.streamID,
		Connected: s.transport.IsConnected(),
		Sessions:  infos,
	}
}

func (s *LiveStreamService) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *LiveStreamService) StreamID() domain.StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

func (s *LiveStreamService) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *LiveStreamService) SessionState(id domain.SessionID) (domain.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.SessionClosed, false
	}
	return session.state, true
}

// dispatch is the transport subscription.
func (s *LiveStreamService) dispatch(msg domain.Message) {
	outcome, err := s.HandleMessage(context.Background(), msg)
	if err != nil {
		s.logger.Warnw("signaling message failed", "kind", msg.Kind(), "outcome", outcome.String(), "error", err)
		return
	}
	if outcome != domain.OutcomeOK {
		s.logger.Debugw("signaling message not applied", "kind", msg.Kind(), "outcome", outcome.String())
	}
}

// HandleMessage applies one inbound signaling message and reports its outcome.
// Messages addressed to unknown or closed sessions are dropped, not failed.
func (s *LiveStreamService) HandleMessage(ctx context.Context, msg domain.Message) (domain.Outcome, error) {
	var (
		outcome domain.Outcome
		err     error
	)

	switch m := msg.(type) {
	case domain.ViewerJoined:
		outcome, err = s.handleViewerJoined(ctx, m)
	case domain.Answer:
		outcome, err = s.handleAnswer(ctx, m)
	case domain.StreamReady:
		outcome, err = s.handleStreamReady(ctx, m)
	case domain.Offer:
		outcome, err = s.handleOffer(ctx, m)
	case domain.ICECandidate:
		outcome, err = s.handleICECandidate(m)
	case domain.StreamEnded:
		outcome = s.handleStreamEnded()
	case domain.StreamMessage:
		outcome = s.handleStreamMessage(m)
	case domain.StreamLike:
		outcome = s.handleStreamLike(m)
	default:
		outcome = domain.OutcomeIgnored
	}

	s.metrics.MessageReceived(msg.Kind(), outcome)
	return outcome, err
}

func (s *LiveStreamService) handleICECandidate(m domain.ICECandidate) (domain.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[m.Sender]
	if !ok {
		return domain.OutcomeSessionNotFound, nil
	}
	outcome, err := session.addCandidate(m.Candidate)
	if outcome == domain.OutcomeBuffered {
		s.metrics.CandidateBuffered()
	}
	return outcome, err
}

func (s *LiveStreamService) handleStreamMessage(m domain.StreamMessage) domain.Outcome {
	s.mu.Lock()
	active := s.streamID != ""
	cb := s.callbacks.OnStreamMessage
	s.mu.Unlock()

	if !active {
		return domain.OutcomeNoActiveStream
	}
	if cb != nil {
		cb(m)
	}
	return domain.OutcomeOK
}

func (s *LiveStreamService) handleStreamLike(m domain.StreamLike) domain.Outcome {
	s.mu.Lock()
	active := s.streamID != ""
	cb := s.callbacks.OnStreamLike
	s.mu.Unlock()

	if !active {
		return domain.OutcomeNoActiveStream
	}
	if cb != nil {
		cb(m)
	}
	return domain.OutcomeOK
}

// registerSession must be called with s.mu held.
func (s *LiveStreamService) registerSession(session *peerSession) {
	s.sessions[session.remoteID] = session
	s.metrics.SessionOpened(session.role)
	if s.config.NegotiationTimeout > 0 {
		session.timer = time.AfterFunc(s.config.NegotiationTimeout, func() {
			s.expireSession(session)
		})
	}
}

// removeSession closes the session if it is still the one registered under its key.
func (s *LiveStreamService) removeSession(session *peerSession, reason string) bool {
	s.mu.Lock()
	if s.sessions[session.remoteID] != session {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, session.remoteID)
	err := session.close()
	s.metrics.SessionClosed(session.role)
	s.mu.Unlock()

	s.logger.Infow("peer session closed", "session_id", session.remoteID, "reason", reason)
	if err != nil {
		s.logger.Debugw("close peer connection", "session_id", session.remoteID, "error", err)
	}
	return true
}

func (s *LiveStreamService) expireSession(session *peerSession) {
	s.mu.Lock()
	if s.sessions[session.remoteID] != session || session.state == domain.SessionConnected {
		s.mu.Unlock()
		return
	}
	state := session.state
	s.mu.Unlock()

	if s.removeSession(session, "negotiation timeout") {
		s.metrics.NegotiationTimedOut(session.role)
		s.logger.Warnw("negotiation timed out",
			"session_id", session.remoteID,
			"state", state.String(),
			"timeout", s.config.NegotiationTimeout,
		)
	}
}

func (s *LiveStreamService) send(ctx context.Context, msg domain.Message) error {
	if err := s.transport.Send(ctx, msg); err != nil {
		s.logger.Warnw("signaling send failed", "kind", msg.Kind(), "error", err)
		return err
	}
	s.metrics.MessageSent(msg.Kind())
	return nil
}
