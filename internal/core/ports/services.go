package ports

import (
	"context"

	"reelcast/internal/core/domain"
)

// LiveStreamService is one client's participation in a live stream, either as
// broadcaster or as viewer.
type LiveStreamService interface {
	Connect(ctx context.Context) error
	SetLocalStream(stream LocalStream) error
	StartBroadcast(ctx context.Context, streamID domain.StreamID, who domain.Participant) (domain.StreamID, error)
	JoinStream(ctx context.Context, streamID domain.StreamID, who domain.Participant) error
	SendMessage(ctx context.Context, text string) (domain.Outcome, error)
	SendLike(ctx context.Context) (domain.Outcome, error)
	EndStream(ctx context.Context) error
	RemoveViewer(viewerID domain.SessionID) domain.Outcome
	Cleanup()
	Disconnect() error
	Status() domain.StreamStatus
}
