package services

import (
	"context"
	"fmt"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

// handleStreamReady opens the single inbound session towards the broadcaster.
func (s *LiveStreamService) handleStreamReady(ctx context.Context, m domain.StreamReady) (domain.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != domain.RoleViewer {
		return domain.OutcomeIgnored, nil
	}
	if m.Broadcaster == "" {
		return domain.OutcomeIgnored, fmt.Errorf("stream-ready without broadcaster: %w", domain.ErrInvalidMessage)
	}
	if len(s.sessions) > 0 {
		// One broadcaster per joined stream. A second stream-ready, for the
		// same or another broadcaster, is a protocol error.
		for id := range s.sessions {
			if id != m.Broadcaster {
				s.logger.Warnw("stream-ready from a second broadcaster ignored",
					"stream_id", s.streamID,
					"current", id,
					"received", m.Broadcaster,
				)
			}
		}
		return domain.OutcomeStaleNegotiation, nil
	}

	pc, err := s.factory.NewPeerConnection()
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.OutcomeOK, fmt.Errorf("%w: create peer connection: %v", domain.ErrNegotiationFailed, err)
	}

	session := newPeerSession(m.Broadcaster, domain.RoleViewer, pc)
	session.state = domain.SessionPending
	pc.OnTrack(s.trackHandler(session))
	pc.OnICECandidate(s.candidateSender(m.Broadcaster))
	pc.OnConnectionStateChange(s.connectionStateHandler(session))
	s.registerSession(session)

	s.logger.Infow("stream ready", "stream_id", s.streamID, "session_id", m.Broadcaster)
	return domain.OutcomeOK, nil
}

// handleOffer answers the broadcaster's offer on the pending session.
func (s *LiveStreamService) handleOffer(ctx context.Context, m domain.Offer) (domain.Outcome, error) {
	s.mu.Lock()
	if s.role != domain.RoleViewer {
		s.mu.Unlock()
		return domain.OutcomeIgnored, nil
	}
	session, ok := s.sessions[m.Broadcaster]
	if !ok {
		s.mu.Unlock()
		return domain.OutcomeSessionNotFound, nil
	}
	if session.state != domain.SessionPending {
		s.mu.Unlock()
		return domain.OutcomeStaleNegotiation, nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "answer", string(m.Broadcaster), string(s.streamID))
	defer span.End()

	answer, err := s.answerOffer(session, m.Offer)
	s.mu.Unlock()

	if err != nil {
		tracing.RecordError(ctx, err)
		s.removeSession(session, "negotiation failed")
		return domain.OutcomeOK, fmt.Errorf("%w: offer from %s: %v", domain.ErrNegotiationFailed, m.Broadcaster, err)
	}

	if err := s.send(ctx, domain.Answer{Answer: answer, Broadcaster: m.Broadcaster}); err != nil {
		tracing.RecordError(ctx, err)
		return domain.OutcomeOK, fmt.Errorf("send answer to %s: %w", m.Broadcaster, err)
	}
	return domain.OutcomeOK, nil
}

// answerOffer must be called with s.mu held.
func (s *LiveStreamService) answerOffer(session *peerSession, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	flushErrs, err := session.applyRemoteDescription(offer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	for _, ferr := range flushErrs {
		s.logger.Debugw("buffered candidate rejected", "session_id", session.remoteID, "error", ferr)
	}

	answer, err := session.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := session.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	// Tracks may already have arrived and connected the session.
	if session.state == domain.SessionPending {
		session.state = domain.SessionNegotiating
	}
	return answer, nil
}

// trackHandler hands each new remote stream to the UI exactly once, and
// never after the session was closed.
func (s *LiveStreamService) trackHandler(session *peerSession) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		if s.sessions[session.remoteID] != session || session.state == domain.SessionClosed {
			s.mu.Unlock()
			return
		}

		key := track.StreamID()
		if key == "" {
			key = string(session.remoteID)
		}
		stream, seen := session.remoteStreams[key]
		if !seen {
			stream = newRemoteStream(key, session.remoteID)
			session.remoteStreams[key] = stream
		}
		stream.addTrack(track)

		connected := session.markConnected()
		cb := s.callbacks.OnStreamReceived
		s.mu.Unlock()

		if connected {
			s.metrics.SessionConnected(domain.RoleViewer, time.Since(session.createdAt))
		}
		s.logger.Infow("remote track received",
			"session_id", session.remoteID,
			"stream", key,
			"kind", track.Kind().String(),
		)

		if !seen && cb != nil {
			cb(stream)
		}
		if s.inbound != nil {
			s.inbound.HandleTrack(track)
		}
	}
}

// handleStreamEnded tears the viewer down without user action.
func (s *LiveStreamService) handleStreamEnded() domain.Outcome {
	s.mu.Lock()
	role := s.role
	cb := s.callbacks.OnStreamEnded
	s.mu.Unlock()

	if role != domain.RoleViewer {
		return domain.OutcomeIgnored
	}

	s.Cleanup()
	if cb != nil {
		cb()
	}
	return domain.OutcomeOK
}
