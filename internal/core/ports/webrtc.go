package ports

import (
	"github.com/pion/webrtc/v3"
)

// PeerConnection is the subset of *webrtc.PeerConnection the session manager drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(handler func(*webrtc.ICECandidate))
	OnTrack(handler func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(handler func(webrtc.PeerConnectionState))
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// LocalStream is the broadcaster's captured media. Sessions only read its
// tracks; Stop is reserved for cleanup.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	// BindSender is called once per outbound sender created for one of the tracks.
	BindSender(sender *webrtc.RTPSender)
	Stop()
}

// InboundTrackHandler consumes media received by a viewer.
type InboundTrackHandler interface {
	HandleTrack(track *webrtc.TrackRemote)
}
