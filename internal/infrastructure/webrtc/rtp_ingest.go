package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTPWriter accepts packets for one kind of outbound track.
type RTPWriter interface {
	WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error
}

// RTPIngest reads RTP from a local UDP socket, e.g. fed by
// `ffmpeg ... -f rtp rtp://127.0.0.1:5004`, into a local media stream.
type RTPIngest struct {
	conn   net.PacketConn
	kind   webrtc.RTPCodecType
	writer RTPWriter
	logger *zap.SugaredLogger
}

func ListenRTP(addr string, kind webrtc.RTPCodecType, writer RTPWriter, logger *zap.SugaredLogger) (*RTPIngest, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen rtp %s on %s: %w", kind, addr, err)
	}
	return &RTPIngest{conn: conn, kind: kind, writer: writer, logger: logger}, nil
}

func (i *RTPIngest) Addr() net.Addr {
	return i.conn.LocalAddr()
}

func (i *RTPIngest) Close() error {
	return i.conn.Close()
}

// Run forwards packets until ctx is done, the socket is closed or the stream
// is stopped.
func (i *RTPIngest) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { i.conn.Close() })
	defer stop()

	i.logger.Infow("rtp ingest started", "kind", i.kind.String(), "addr", i.Addr().String())

	buf := make([]byte, 1600)
	malformed := 0
	for {
		n, _, err := i.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read rtp: %w", err)
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			malformed++
			if malformed == 1 || malformed%100 == 0 {
				i.logger.Warnw("malformed rtp packet dropped", "kind", i.kind.String(), "dropped", malformed, "error", err)
			}
			continue
		}

		if err := i.writer.WriteRTP(i.kind, pkt); err != nil {
			if errors.Is(err, ErrStreamStopped) {
				return nil
			}
			i.logger.Debugw("rtp write failed", "kind", i.kind.String(), "error", err)
		}
	}
}
