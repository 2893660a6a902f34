package domain

import (
	"github.com/google/uuid"
)

type StreamID string
type SessionID string
type UserID string

// NewStreamID returns a random stream identifier.
func NewStreamID() StreamID {
	return StreamID(uuid.NewString())
}

type Role string

const (
	RoleNone        Role = ""
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// Participant identifies the local user towards the signaling server.
type Participant struct {
	UserID   UserID
	UserName string
}

// StreamStatus is a snapshot of the local participation.
type StreamStatus struct {
	Role      Role          `json:"role"`
	StreamID  StreamID      `json:"stream_id"`
	Connected bool          `json:"connected"`
	Sessions  []SessionInfo `json:"sessions"`
}
