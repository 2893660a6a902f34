package services

import (
	"fmt"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// peerSession is the negotiation state for one remote participant. All fields
// are guarded by the owning LiveStreamService mutex.
type peerSession struct {
	remoteID domain.SessionID
	role     domain.Role
	pc       ports.PeerConnection
	state    domain.SessionState

	remoteDescSet     bool
	pendingCandidates []webrtc.ICECandidateInit

	// viewer side: remote streams already handed to the UI, by stream id
	remoteStreams map[string]*RemoteStream

	createdAt   time.Time
	connectedAt time.Time
	timer       *time.Timer
}

func newPeerSession(remoteID domain.SessionID, role domain.Role, pc ports.PeerConnection) *peerSession {
	return &peerSession{
		remoteID:      remoteID,
		role:          role,
		pc:            pc,
		state:         domain.SessionCreated,
		remoteStreams: make(map[string]*RemoteStream),
		createdAt:     time.Now(),
	}
}

// applyRemoteDescription sets the remote description and flushes every
// candidate that arrived before it.
func (p *peerSession) applyRemoteDescription(desc webrtc.SessionDescription) (flushErrs []error, err error) {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	p.remoteDescSet = true

	pending := p.pendingCandidates
	p.pendingCandidates = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			flushErrs = append(flushErrs, err)
		}
	}
	return flushErrs, nil
}

// addCandidate applies the candidate, or buffers it while no remote
// description exists yet.
func (p *peerSession) addCandidate(c webrtc.ICECandidateInit) (domain.Outcome, error) {
	if p.state == domain.SessionClosed {
		return domain.OutcomeStaleNegotiation, nil
	}
	if !p.remoteDescSet {
		p.pendingCandidates = append(p.pendingCandidates, c)
		return domain.OutcomeBuffered, nil
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		return domain.OutcomeOK, fmt.Errorf("add ice candidate: %w", err)
	}
	return domain.OutcomeOK, nil
}

// markConnected reports whether the session transitioned.
func (p *peerSession) markConnected() bool {
	if p.state == domain.SessionConnected || p.state == domain.SessionClosed {
		return false
	}
	p.state = domain.SessionConnected
	p.connectedAt = time.Now()
	p.stopTimer()
	return true
}

func (p *peerSession) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// close is safe to call more than once.
func (p *peerSession) close() error {
	if p.state == domain.SessionClosed {
		return nil
	}
	p.state = domain.SessionClosed
	p.stopTimer()
	p.pendingCandidates = nil
	return p.pc.Close()
}

func (p *peerSession) info() domain.SessionInfo {
	return domain.SessionInfo{
		RemoteID:          p.remoteID,
		State:             p.state,
		StateName:         p.state.String(),
		PendingCandidates: len(p.pendingCandidates),
		CreatedAt:         p.createdAt,
		ConnectedAt:       p.connectedAt,
	}
}
