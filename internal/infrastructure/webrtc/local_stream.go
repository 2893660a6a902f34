package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"reelcast/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrStreamStopped = errors.New("local media stream stopped")

// LocalMediaStream is the broadcaster's outbound media: one audio and one
// video track fed with RTP from an external capture pipeline. The same
// tracks are bound to every viewer session.
type LocalMediaStream struct {
	id    string
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	logger *zap.SugaredLogger

	mu            sync.Mutex
	stopped       bool
	stopHooks     []func()
	onPictureLoss func()
	done          chan struct{}
}

var _ ports.LocalStream = (*LocalMediaStream)(nil)

func videoMimeType(codec string) (string, error) {
	switch strings.ToLower(codec) {
	case "", "vp8":
		return webrtc.MimeTypeVP8, nil
	case "h264":
		return webrtc.MimeTypeH264, nil
	default:
		return "", fmt.Errorf("unsupported video codec %q", codec)
	}
}

func NewLocalMediaStream(id, videoCodec string, logger *zap.SugaredLogger) (*LocalMediaStream, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mime, err := videoMimeType(videoCodec)
	if err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000},
		"video",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	return &LocalMediaStream{
		id:     id,
		audio:  audio,
		video:  video,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (s *LocalMediaStream) ID() string {
	return s.id
}

func (s *LocalMediaStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

// OnPictureLoss registers the handler for keyframe requests from viewers.
func (s *LocalMediaStream) OnPictureLoss(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPictureLoss = handler
}

// AddStopHook registers a release function for the media source, run once by Stop.
func (s *LocalMediaStream) AddStopHook(hook func()) {
	s.mu.Lock()
	if !s.stopped {
		s.stopHooks = append(s.stopHooks, hook)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	hook()
}

// WriteRTP fans one packet out to every session bound to the track of kind.
func (s *LocalMediaStream) WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	select {
	case <-s.done:
		return ErrStreamStopped
	default:
	}

	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return s.audio.WriteRTP(pkt)
	case webrtc.RTPCodecTypeVideo:
		return s.video.WriteRTP(pkt)
	default:
		return fmt.Errorf("unknown track kind %s", kind)
	}
}

// BindSender drains RTCP for one outbound sender until the sender is closed.
// Interceptors only see RTCP that is read.
func (s *LocalMediaStream) BindSender(sender *webrtc.RTPSender) {
	go func() {
		for {
			packets, _, err := sender.ReadRTCP()
			if err != nil {
				return
			}
			s.handleRTCP(packets)
		}
	}()
}

func (s *LocalMediaStream) handleRTCP(packets []rtcp.Packet) {
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.PictureLossIndication:
			s.pictureLoss(p.MediaSSRC)
		case *rtcp.FullIntraRequest:
			s.pictureLoss(p.MediaSSRC)
		case *rtcp.TransportLayerNack:
			s.logger.Debugw("received NACK", "stream", s.id, "nacks", len(p.Nacks))
		}
	}
}

func (s *LocalMediaStream) pictureLoss(ssrc uint32) {
	s.mu.Lock()
	handler := s.onPictureLoss
	s.mu.Unlock()

	s.logger.Debugw("keyframe requested", "stream", s.id, "ssrc", ssrc)
	if handler != nil {
		handler()
	}
}

// Stop releases the media source. Safe to call more than once.
func (s *LocalMediaStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	hooks := s.stopHooks
	s.stopHooks = nil
	s.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	s.logger.Infow("local media stream stopped", "stream", s.id)
}

// Done is closed by Stop.
func (s *LocalMediaStream) Done() <-chan struct{} {
	return s.done
}
