package webrtc

import (
	"errors"
	"fmt"
	"net"

	"reelcast/pkg/optimize"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// egressMTU bounds the marshalled size of a forwarded packet.
const egressMTU = 1500

// RTPEgress forwards received packets to local UDP ports, one per kind, so an
// external player can render them.
type RTPEgress struct {
	conns map[webrtc.RTPCodecType]net.Conn
	bufs  *optimize.BytePool
}

// DialRTPEgress connects to the given addresses. An empty address disables that kind.
func DialRTPEgress(audioAddr, videoAddr string) (*RTPEgress, error) {
	e := &RTPEgress{
		conns: make(map[webrtc.RTPCodecType]net.Conn),
		bufs:  optimize.NewBytePool(egressMTU),
	}
	targets := map[webrtc.RTPCodecType]string{
		webrtc.RTPCodecTypeAudio: audioAddr,
		webrtc.RTPCodecTypeVideo: videoAddr,
	}
	for kind, addr := range targets {
		if addr == "" {
			continue
		}
		conn, err := net.Dial("udp", addr)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("dial rtp egress %s %s: %w", kind, addr, err)
		}
		e.conns[kind] = conn
	}
	return e, nil
}

func (e *RTPEgress) WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	conn, ok := e.conns[kind]
	if !ok {
		return nil
	}
	if pkt.MarshalSize() > egressMTU {
		return fmt.Errorf("rtp packet of %d bytes exceeds %d", pkt.MarshalSize(), egressMTU)
	}

	buf := e.bufs.Get()
	defer e.bufs.Put(buf)
	n, err := pkt.MarshalTo(*buf)
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	_, err = conn.Write((*buf)[:n])
	return err
}

func (e *RTPEgress) Close() error {
	var errs []error
	for _, conn := range e.conns {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}
