package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("peer session not found")
	ErrRoleConflict      = errors.New("a stream role is already active")
	ErrNoActiveStream    = errors.New("no active stream")
	ErrNoLocalStream     = errors.New("local media stream not set")
	ErrNotConnected      = errors.New("signaling transport not connected")
	ErrUnknownMessage    = errors.New("unknown signaling message")
	ErrInvalidMessage    = errors.New("invalid signaling message")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrInvalidStreamID   = errors.New("invalid stream id")
)
