package webrtc

import (
	"reelcast/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteStreamReader consumes the media a viewer receives. Packets are
// counted in metrics and optionally handed to a sink (e.g. a local player).
type RemoteStreamReader struct {
	metrics ports.Metrics
	sink    RTPWriter
	logger  *zap.SugaredLogger
}

var _ ports.InboundTrackHandler = (*RemoteStreamReader)(nil)

func NewRemoteStreamReader(metrics ports.Metrics, sink RTPWriter, logger *zap.SugaredLogger) *RemoteStreamReader {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RemoteStreamReader{metrics: metrics, sink: sink, logger: logger}
}

func (r *RemoteStreamReader) HandleTrack(track *webrtc.TrackRemote) {
	r.logger.Infow("reading remote track",
		"track_id", track.ID(),
		"stream", track.StreamID(),
		"codec", track.Codec().MimeType,
	)
	go r.read(track.ID(), track.Kind(), track)
}

// read returns when the track ends, i.e. its peer connection was closed.
func (r *RemoteStreamReader) read(trackID string, kind webrtc.RTPCodecType, track rtpReader) {
	var packets int
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.logger.Debugw("remote track ended", "track_id", trackID, "packets", packets, "error", err)
			return
		}
		packets++
		r.metrics.BytesReceived(pkt.MarshalSize())

		if r.sink != nil {
			if err := r.sink.WriteRTP(kind, pkt); err != nil {
				r.logger.Debugw("rtp sink write failed", "track_id", trackID, "error", err)
			}
		}
	}
}
