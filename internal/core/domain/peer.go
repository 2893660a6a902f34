package domain

import "time"

// SessionState is the negotiation stage of a single peer session.
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionOffering
	SessionAwaitingAnswer
	SessionPending
	SessionNegotiating
	SessionConnected
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionOffering:
		return "offering"
	case SessionAwaitingAnswer:
		return "awaiting-answer"
	case SessionPending:
		return "pending"
	case SessionNegotiating:
		return "negotiating"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only snapshot of a peer session.
type SessionInfo struct {
	RemoteID          SessionID    `json:"remote_id"`
	State             SessionState `json:"-"`
	StateName         string       `json:"state"`
	PendingCandidates int          `json:"pending_candidates"`
	CreatedAt         time.Time    `json:"created_at"`
	ConnectedAt       time.Time    `json:"connected_at,omitempty"`
}

// Outcome reports what happened to an inbound signaling message.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeBuffered: ICE candidate queued until the remote description is applied.
	OutcomeBuffered
	OutcomeSessionNotFound
	OutcomeStaleNegotiation
	// OutcomeIgnored: the message has no meaning for the current role.
	OutcomeIgnored
	OutcomeNoActiveStream
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeSessionNotFound:
		return "session-not-found"
	case OutcomeStaleNegotiation:
		return "stale-negotiation"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNoActiveStream:
		return "no-active-stream"
	case OutcomeRateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}
