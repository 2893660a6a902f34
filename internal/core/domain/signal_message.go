package domain

import "github.com/pion/webrtc/v3"

// MessageKind is the event name a signaling message travels under.
type MessageKind string

const (
	KindStartStream   MessageKind = "start-stream"
	KindJoinStream    MessageKind = "join-stream"
	KindViewerJoined  MessageKind = "viewer-joined"
	KindOffer         MessageKind = "offer"
	KindAnswer        MessageKind = "answer"
	KindICECandidate  MessageKind = "ice-candidate"
	KindStreamReady   MessageKind = "stream-ready"
	KindStreamMessage MessageKind = "stream-message"
	KindStreamLike    MessageKind = "stream-like"
	KindEndStream     MessageKind = "end-stream"
	KindStreamEnded   MessageKind = "stream-ended"
)

// Message is one variant of the signaling protocol.
type Message interface {
	Kind() MessageKind
}

type StartStream struct {
	StreamID StreamID `json:"streamId"`
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
}

type JoinStream struct {
	StreamID StreamID `json:"streamId"`
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
}

// ViewerJoined is pushed to the broadcaster for every viewer the server admits.
type ViewerJoined struct {
	ViewerID    SessionID `json:"viewerId"`
	UserID      UserID    `json:"userId"`
	UserName    string    `json:"userName"`
	ViewerCount int       `json:"viewerCount"`
}

// Offer is sent by the broadcaster with ViewerID set and received by the
// viewer with Broadcaster set.
type Offer struct {
	Offer       webrtc.SessionDescription `json:"offer"`
	ViewerID    SessionID                 `json:"viewerId,omitempty"`
	Broadcaster SessionID                 `json:"broadcaster,omitempty"`
}

// Answer is received by the broadcaster with Viewer set and sent by the
// viewer with Broadcaster set.
type Answer struct {
	Answer      webrtc.SessionDescription `json:"answer"`
	Viewer      SessionID                 `json:"viewer,omitempty"`
	Broadcaster SessionID                 `json:"broadcaster,omitempty"`
}

// ICECandidate carries TargetID when sent and Sender when received.
type ICECandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	TargetID  SessionID               `json:"targetId,omitempty"`
	Sender    SessionID               `json:"sender,omitempty"`
}

type StreamReady struct {
	Broadcaster SessionID `json:"broadcaster"`
}

type StreamMessage struct {
	StreamID StreamID `json:"streamId"`
	Message  string   `json:"message"`
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
}

type StreamLike struct {
	StreamID StreamID `json:"streamId"`
	UserID   UserID   `json:"userId"`
}

type EndStream struct {
	StreamID StreamID `json:"streamId"`
}

type StreamEnded struct{}

func (StartStream) Kind() MessageKind   { return KindStartStream }
func (JoinStream) Kind() MessageKind    { return KindJoinStream }
func (ViewerJoined) Kind() MessageKind  { return KindViewerJoined }
func (Offer) Kind() MessageKind         { return KindOffer }
func (Answer) Kind() MessageKind        { return KindAnswer }
func (ICECandidate) Kind() MessageKind  { return KindICECandidate }
func (StreamReady) Kind() MessageKind   { return KindStreamReady }
func (StreamMessage) Kind() MessageKind { return KindStreamMessage }
func (StreamLike) Kind() MessageKind    { return KindStreamLike }
func (EndStream) Kind() MessageKind     { return KindEndStream }
func (StreamEnded) Kind() MessageKind   { return KindStreamEnded }
