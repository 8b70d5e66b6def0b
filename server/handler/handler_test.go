package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/testingx"

	"github.com/wsprobe/wsprobe/probe/message"
	"github.com/wsprobe/wsprobe/probe/spec"
)

// newTestServer creates a local httptest server running the probe endpoint.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := Handler{IdleTimeout: 10 * time.Second}
	mux := http.NewServeMux()
	mux.Handle(spec.ProbeURLPath, http.HandlerFunc(h.Probe))
	return httptest.NewServer(mux)
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(srv.URL)
	testingx.Must(t, err, "failed to parse test server URL")
	u.Scheme = "ws"
	u.Path = spec.ProbeURLPath
	headers := http.Header{}
	headers.Add("Sec-WebSocket-Protocol", spec.SecWebSocketProtocol)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), headers)
	testingx.Must(t, err, "failed to dial the probe endpoint")
	return conn
}

func TestProbeRejectsMissingSubprotocol(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + spec.ProbeURLPath)
	testingx.Must(t, err, "failed to GET the probe endpoint")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestProbeEchoesPingPayload(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	conn := dialTestServer(t, srv)
	defer conn.Close()

	pongch := make(chan string, 1)
	conn.SetPongHandler(func(s string) error {
		pongch <- s
		return nil
	})
	// Pump reads so the pong handler runs.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sentAtMs := time.Now().UnixMilli()
	err := message.Send(conn, sentAtMs, time.Now().Add(5*time.Second))
	testingx.Must(t, err, "failed to send ping")

	select {
	case payload := <-pongch:
		echoed, err := message.Parse(payload)
		testingx.Must(t, err, "failed to parse pong payload")
		if echoed != sentAtMs {
			t.Errorf("echoed timestamp = %d, want %d", echoed, sentAtMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no pong within 5s")
	}
}

func TestProbeEchoesTextFrames(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	conn := dialTestServer(t, srv)
	defer conn.Close()

	want := "ciao"
	err := conn.WriteMessage(websocket.TextMessage, []byte(want))
	testingx.Must(t, err, "failed to write text frame")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mtype, mdata, err := conn.ReadMessage()
	testingx.Must(t, err, "failed to read echo")
	if mtype != websocket.TextMessage || string(mdata) != want {
		t.Errorf("echo = (%d, %q), want (%d, %q)", mtype, mdata, websocket.TextMessage, want)
	}
}

func TestProbeDropsBinaryFrames(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	conn := dialTestServer(t, srv)
	defer conn.Close()

	err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
	testingx.Must(t, err, "failed to write binary frame")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the server to drop the connection on a binary frame")
	}
}
