package services

import (
	"sync"

	"reelcast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// RemoteStream groups the inbound tracks a broadcaster published under one
// media stream id.
type RemoteStream struct {
	ID          string
	Broadcaster domain.SessionID

	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func newRemoteStream(id string, broadcaster domain.SessionID) *RemoteStream {
	return &RemoteStream{ID: id, Broadcaster: broadcaster}
}

func (r *RemoteStream) addTrack(track *webrtc.TrackRemote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, track)
}

// Tracks returns the tracks received so far.
func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, len(r.tracks))
	copy(out, r.tracks)
	return out
}
