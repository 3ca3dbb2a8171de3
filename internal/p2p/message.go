package p2p

import (
	"io"

	"github.com/libp2p/go-msgio"
	"github.com/pkg/errors"

	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// MessageType is the first byte of every frame
type MessageType byte

const (
	MsgTypeAnnouncement MessageType = 1
	MsgTypePing         MessageType = 2
	MsgTypePong         MessageType = 3
)

// maxFrameSize bounds a single frame. The largest legal frame is an
// announcement plus its type byte.
const maxFrameSize = 1 + types.AnnouncementSize

const pingNonceSize = 8

var errBadFrame = errors.New("malformed frame")

func (t MessageType) String() string {
	switch t {
	case MsgTypeAnnouncement:
		return "ann"
	case MsgTypePing:
		return "ping"
	case MsgTypePong:
		return "pong"
	}
	return "unknown"
}

// writeMessage writes one varint-framed message
func writeMessage(w io.Writer, t MessageType, payload []byte) error {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(t))
	frame = append(frame, payload...)
	return msgio.NewVarintWriter(w).WriteMsg(frame)
}

// decodeFrame splits a frame and checks its payload size
func decodeFrame(frame []byte) (MessageType, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, errors.Wrap(errBadFrame, "empty")
	}
	t, payload := MessageType(frame[0]), frame[1:]

	var want int
	switch t {
	case MsgTypeAnnouncement:
		want = types.AnnouncementSize
	case MsgTypePing, MsgTypePong:
		want = pingNonceSize
	default:
		return 0, nil, errors.Wrapf(errBadFrame, "unknown type %d", frame[0])
	}
	if len(payload) != want {
		return 0, nil, errors.Wrapf(errBadFrame, "%s payload is %d bytes, want %d", t, len(payload), want)
	}
	return t, payload, nil
}

func newFrameReader(r io.Reader) msgio.ReadCloser {
	return msgio.NewVarintReaderSize(r, maxFrameSize)
}
