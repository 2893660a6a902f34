package services

import (
	"context"
	"fmt"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

// handleViewerJoined opens an outbound session for a net-new viewer and sends it an offer.
func (s *LiveStreamService) handleViewerJoined(ctx context.Context, m domain.ViewerJoined) (domain.Outcome, error) {
	s.mu.Lock()
	if s.role != domain.RoleBroadcaster {
		s.mu.Unlock()
		return domain.OutcomeIgnored, nil
	}
	if m.ViewerID == "" {
		s.mu.Unlock()
		return domain.OutcomeIgnored, fmt.Errorf("viewer-joined without viewer id: %w", domain.ErrInvalidMessage)
	}
	if _, exists := s.sessions[m.ViewerID]; exists {
		s.mu.Unlock()
		return domain.OutcomeStaleNegotiation, nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "offer", string(m.ViewerID), string(s.streamID))
	defer span.End()

	offer, err := s.openBroadcastSession(m.ViewerID)
	cb := s.callbacks.OnViewerJoined
	s.mu.Unlock()

	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.OutcomeOK, fmt.Errorf("%w: offer to %s: %v", domain.ErrNegotiationFailed, m.ViewerID, err)
	}

	s.logger.Infow("viewer joined", "session_id", m.ViewerID, "user_id", m.UserID, "viewer_count", m.ViewerCount)
	if cb != nil {
		cb(m)
	}

	if err := s.send(ctx, domain.Offer{Offer: offer, ViewerID: m.ViewerID}); err != nil {
		tracing.RecordError(ctx, err)
		return domain.OutcomeOK, fmt.Errorf("send offer to %s: %w", m.ViewerID, err)
	}
	return domain.OutcomeOK, nil
}

// openBroadcastSession must be called with s.mu held. On failure the session
// is already unregistered and closed.
func (s *LiveStreamService) openBroadcastSession(viewerID domain.SessionID) (webrtc.SessionDescription, error) {
	pc, err := s.factory.NewPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create peer connection: %w", err)
	}

	session := newPeerSession(viewerID, domain.RoleBroadcaster, pc)
	s.registerSession(session)

	fail := func(err error) (webrtc.SessionDescription, error) {
		delete(s.sessions, viewerID)
		_ = session.close()
		s.metrics.SessionClosed(domain.RoleBroadcaster)
		return webrtc.SessionDescription{}, err
	}

	session.state = domain.SessionOffering
	if s.localStream == nil {
		return fail(domain.ErrNoLocalStream)
	}
	for _, track := range s.localStream.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fail(fmt.Errorf("add track %s: %w", track.ID(), err))
		}
		if sender != nil {
			s.localStream.BindSender(sender)
		}
	}

	pc.OnICECandidate(s.candidateSender(viewerID))
	pc.OnConnectionStateChange(s.connectionStateHandler(session))

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}

	session.state = domain.SessionAwaitingAnswer
	return offer, nil
}

// handleAnswer completes the negotiation with the viewer that sent it.
func (s *LiveStreamService) handleAnswer(ctx context.Context, m domain.Answer) (domain.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != domain.RoleBroadcaster {
		return domain.OutcomeIgnored, nil
	}
	session, ok := s.sessions[m.Viewer]
	if !ok {
		return domain.OutcomeSessionNotFound, nil
	}
	if session.state != domain.SessionAwaitingAnswer {
		return domain.OutcomeStaleNegotiation, nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "answer", string(m.Viewer), string(s.streamID))
	defer span.End()

	flushErrs, err := session.applyRemoteDescription(m.Answer)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.OutcomeOK, fmt.Errorf("%w: answer from %s: %v", domain.ErrNegotiationFailed, m.Viewer, err)
	}
	for _, ferr := range flushErrs {
		s.logger.Debugw("buffered candidate rejected", "session_id", m.Viewer, "error", ferr)
	}

	if session.markConnected() {
		s.metrics.SessionConnected(domain.RoleBroadcaster, time.Since(session.createdAt))
	}
	return domain.OutcomeOK, nil
}

// RemoveViewer closes the session of a viewer that left.
func (s *LiveStreamService) RemoveViewer(viewerID domain.SessionID) domain.Outcome {
	s.mu.Lock()
	if s.role != domain.RoleBroadcaster {
		s.mu.Unlock()
		return domain.OutcomeIgnored
	}
	session, ok := s.sessions[viewerID]
	s.mu.Unlock()

	if !ok || !s.removeSession(session, "viewer left") {
		return domain.OutcomeSessionNotFound
	}
	return domain.OutcomeOK
}

// candidateSender trickles local candidates to one remote session.
func (s *LiveStreamService) candidateSender(target domain.SessionID) func(*webrtc.ICECandidate) {
	return func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.send(context.Background(), domain.ICECandidate{Candidate: c.ToJSON(), TargetID: target}); err != nil {
			s.logger.Debugw("ice candidate not sent", "session_id", target, "error", err)
		}
	}
}

func (s *LiveStreamService) connectionStateHandler(session *peerSession) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		s.logger.Debugw("peer connection state", "session_id", session.remoteID, "state", state.String())

		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			connected := s.sessions[session.remoteID] == session && session.markConnected()
			s.mu.Unlock()
			if connected {
				s.metrics.SessionConnected(session.role, time.Since(session.createdAt))
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.removeSession(session, "connection "+state.String())
		}
	}
}
