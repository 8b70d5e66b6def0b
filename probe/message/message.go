// Package message implements the wsprobe ping payload.
package message

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// The json object is used as a namespace to avoid erratic interpretation of
// unsolicited pong frames. Ping and pong frames are not a part of
// Sec-WebSocket-Protocol, they're part of RFC6455. Section 5.5.3 of the RFC
// allows unsolicited pong frames. Some browsers are known to send unsolicited
// pong frames, see golang/go#6377 <https://github.com/golang/go/issues/6377>.
type probeMessage struct {
	WsprobeTS int64
}

// ErrNotPositive means the parsed timestamp cannot be a dispatch time.
var ErrNotPositive = errors.New("timestamp is not positive")

// Send writes sentAtMs as the payload of a ping control frame. The server
// echoes the payload byte-for-byte in the corresponding pong, so the value
// round-trips unchanged and the client can correlate acks by equality.
func Send(conn *websocket.Conn, sentAtMs int64, deadline time.Time) error {
	data, err := json.Marshal(probeMessage{WsprobeTS: sentAtMs})
	if err == nil {
		err = conn.WriteControl(websocket.PingMessage, data, deadline)
	}
	return err
}

// Parse extracts the echoed timestamp from a pong payload.
func Parse(s string) (int64, error) {
	var msg probeMessage
	if err := json.Unmarshal([]byte(s), &msg); err != nil {
		return 0, err
	}
	if msg.WsprobeTS <= 0 {
		return 0, ErrNotPositive
	}
	return msg.WsprobeTS, nil
}
