package signal

import (
	"encoding/json"
	"fmt"

	"reelcast/internal/core/domain"
)

// envelope is the frame every signaling message travels in.
type envelope struct {
	Event domain.MessageKind `json:"event"`
	Data  json.RawMessage    `json:"data,omitempty"`
}

func decodeAs[T domain.Message](data json.RawMessage) (domain.Message, error) {
	var m T
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var decoders = map[domain.MessageKind]func(json.RawMessage) (domain.Message, error){
	domain.KindStartStream:   decodeAs[domain.StartStream],
	domain.KindJoinStream:    decodeAs[domain.JoinStream],
	domain.KindViewerJoined:  decodeAs[domain.ViewerJoined],
	domain.KindOffer:         decodeAs[domain.Offer],
	domain.KindAnswer:        decodeAs[domain.Answer],
	domain.KindICECandidate:  decodeAs[domain.ICECandidate],
	domain.KindStreamReady:   decodeAs[domain.StreamReady],
	domain.KindStreamMessage: decodeAs[domain.StreamMessage],
	domain.KindStreamLike:    decodeAs[domain.StreamLike],
	domain.KindEndStream:     decodeAs[domain.EndStream],
	domain.KindStreamEnded:   decodeAs[domain.StreamEnded],
}

// Encode frames msg as {"event": kind, "data": payload}.
func Encode(msg domain.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode: %w", domain.ErrInvalidMessage)
	}
	if _, known := decoders[msg.Kind()]; !known {
		return nil, fmt.Errorf("encode %q: %w", msg.Kind(), domain.ErrUnknownMessage)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Event: msg.Kind(), Data: data})
}

// Decode parses one frame into its message variant. Unknown events yield
// domain.ErrUnknownMessage.
func Decode(frame []byte) (domain.Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %v: %w", err, domain.ErrInvalidMessage)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode: missing event: %w", domain.ErrInvalidMessage)
	}

	decode, ok := decoders[env.Event]
	if !ok {
		return nil, fmt.Errorf("decode %q: %w", env.Event, domain.ErrUnknownMessage)
	}
	msg, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %v: %w", env.Event, err, domain.ErrInvalidMessage)
	}
	return msg, nil
}
