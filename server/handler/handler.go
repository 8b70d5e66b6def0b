// Package handler implements the websocket ack endpoint. The server does no
// timing arithmetic at all: every ping frame is answered with a pong echoing
// the payload byte-for-byte, so the client can compute the round trip on its
// own clock and correlate acknowledgements by value.
package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m-lab/go/warnonerror"

	"github.com/wsprobe/wsprobe/logging"
	"github.com/wsprobe/wsprobe/metrics"
	"github.com/wsprobe/wsprobe/probe/spec"
)

// DefaultIdleTimeout bounds how long a silent connection is kept open.
const DefaultIdleTimeout = 5 * time.Minute

// Handler serves the probe endpoint.
type Handler struct {
	// Upgrader is the WebSocket upgrader.
	Upgrader websocket.Upgrader

	// IdleTimeout overrides DefaultIdleTimeout when positive.
	IdleTimeout time.Duration
}

// warnAndClose emits message as a warning and then sends a Bad Request
// response to the client using writer.
func warnAndClose(writer http.ResponseWriter, message string) {
	logging.Logger.Warn(message)
	writer.Header().Set("Connection", "Close")
	writer.WriteHeader(http.StatusBadRequest)
}

// Probe handles one probe connection.
func (h Handler) Probe(writer http.ResponseWriter, request *http.Request) {
	logging.Logger.Debug("probe: upgrading to WebSockets")
	if request.Header.Get("Sec-WebSocket-Protocol") != spec.SecWebSocketProtocol {
		metrics.ServerConnections.WithLabelValues("missing-protocol").Inc()
		warnAndClose(writer, "probe: missing Sec-WebSocket-Protocol in request")
		return
	}
	headers := http.Header{}
	headers.Add("Sec-WebSocket-Protocol", spec.SecWebSocketProtocol)
	conn, err := h.Upgrader.Upgrade(writer, request, headers)
	if err != nil {
		metrics.ServerConnections.WithLabelValues("upgrade-failed").Inc()
		warnAndClose(writer, fmt.Sprintf("probe: cannot UPGRADE to WebSocket: %s", err))
		return
	}
	metrics.ServerConnections.WithLabelValues("ok").Inc()
	defer warnonerror.Close(conn, "probe: ignoring conn.Close result")
	h.serve(conn, uuid.NewString())
}

// serve echoes frames until the peer closes or goes silent. Ping frames are
// answered inside ReadMessage via the ping handler; text frames bounce back
// verbatim as a debugging aid.
func (h Handler) serve(conn *websocket.Conn, id string) {
	log := logging.Logger.WithField("conn", id)
	log.Debug("probe: serve start")
	defer log.Debug("probe: serve stop")

	idle := h.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	conn.SetReadLimit(spec.MaxMessageSize)
	conn.SetPingHandler(func(payload string) error {
		metrics.ServerPings.Inc()
		// A steady stream of pings is an active connection, not a silent one.
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return err
		}
		// The payload must round-trip unchanged for value correlation.
		return conn.WriteControl(
			websocket.PongMessage, []byte(payload), time.Now().Add(time.Second))
	})

	if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
		log.WithError(err).Warn("probe: conn.SetReadDeadline failed")
		return
	}
	for {
		mtype, mdata, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.WithError(err).Debug("probe: conn.ReadMessage failed")
			return
		}
		if mtype != websocket.TextMessage {
			log.Warn("probe: got non-Text message")
			return // Unexpected message type
		}
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			log.WithError(err).Warn("probe: conn.SetReadDeadline failed")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, mdata); err != nil {
			log.WithError(err).Warn("probe: conn.WriteMessage failed")
			return
		}
	}
}
