// Package transport realizes the message-passing substrate spec.md §2/§6
// describes — typed send, blocking receive on (source, tag), non-blocking
// probe, any-source probe, and broadcast-abort — over a concrete medium:
// a gin-served WebSocket hub on the coordinator side, matched by a
// gorilla/websocket client on each worker, generalizing the teacher's
// Hub broadcast pattern to point-to-point, tagged, bidirectional
// messaging.
package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/rawblock/distsat/internal/wire"
)

// frameHeaderBytes is tag(1) + from(4), little-endian, followed by the
// raw payload. Each frame is carried as exactly one WebSocket binary
// message, so no length prefix is needed beyond what gorilla/websocket
// already frames for us.
const frameHeaderBytes = 5

type envelope struct {
	From    int
	Tag     wire.Tag
	Payload []byte
}

func encodeFrame(from int, tag wire.Tag, payload []byte) []byte {
	buf := make([]byte, frameHeaderBytes+len(payload))
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(from))
	copy(buf[5:], payload)
	return buf
}

func decodeFrame(data []byte) (envelope, error) {
	if len(data) < frameHeaderBytes {
		return envelope{}, fmt.Errorf("transport: frame shorter than header (%d bytes)", len(data))
	}
	tag := wire.Tag(data[0])
	from := int(binary.LittleEndian.Uint32(data[1:5]))
	payload := append([]byte(nil), data[5:]...)
	return envelope{From: from, Tag: tag, Payload: payload}, nil
}
