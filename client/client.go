// Package client implements the websocket transport the probe measures: it
// dials the probe endpoint, sends timestamps as ping control frames, and
// surfaces the echoed timestamps from the pong frames as acknowledgements.
package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsprobe/wsprobe/logging"
	"github.com/wsprobe/wsprobe/probe/message"
	"github.com/wsprobe/wsprobe/probe/spec"
)

// defaultTimeout is the default value of the I/O timeout.
const defaultTimeout = 7 * time.Second

// Settings contains client settings. All settings are optional except for
// the Hostname, which cannot be autoconfigured at the moment.
type Settings struct {
	// InsecureSkipTLSVerify can be used to disable certificate verification.
	InsecureSkipTLSVerify bool `json:"skip_tls_verify"`
	// InsecureNoTLS can be used to force using cleartext.
	InsecureNoTLS bool `json:"no_tls"`
	// Hostname is the hostname of the wsprobe server to connect to.
	Hostname string `json:"hostname"`
	// Port is the port of the wsprobe server to connect to.
	Port string `json:"port"`
}

// Client is a connection to the probe endpoint. It implements
// probe.Transport. Create it with NewClient, connect with Dial.
type Client struct {
	dialer websocket.Dialer
	url    url.URL
	conn   *websocket.Conn
	ackch  chan int64
}

// NewClient creates a new client.
func NewClient(settings Settings) *Client {
	cl := &Client{ackch: make(chan int64, 16)}
	cl.dialer.HandshakeTimeout = defaultTimeout
	if settings.InsecureSkipTLSVerify {
		config := tls.Config{InsecureSkipVerify: true}
		cl.dialer.TLSClientConfig = &config
		logging.Logger.Warn("Disabling TLS certificate verification (INSECURE!)")
	}
	if settings.InsecureNoTLS {
		logging.Logger.Warn("Using plain text WebSocket (INSECURE!)")
		cl.url.Scheme = "ws"
	} else {
		cl.url.Scheme = "wss"
	}
	if settings.Port != "" {
		ip := net.ParseIP(settings.Hostname)
		if ip == nil || ip.To4() != nil {
			cl.url.Host = settings.Hostname + ":" + settings.Port
		} else {
			cl.url.Host = "[" + settings.Hostname + "]:" + settings.Port
		}
	} else {
		cl.url.Host = settings.Hostname
	}
	cl.url.Path = spec.ProbeURLPath
	return cl
}

// Dial connects to the probe endpoint and starts the background reader that
// services incoming frames. It must be called once, before Send.
func (c *Client) Dial(ctx context.Context) error {
	headers := http.Header{}
	headers.Add("Sec-WebSocket-Protocol", spec.SecWebSocketProtocol)
	conn, _, err := c.dialer.DialContext(ctx, c.url.String(), headers)
	if err != nil {
		return err
	}
	conn.SetReadLimit(spec.MaxMessageSize)
	conn.SetPongHandler(func(s string) error {
		echoed, err := message.Parse(s)
		if err != nil {
			// Unsolicited pong, or a peer speaking something else. Not fatal.
			logging.Logger.WithError(err).Debug("client: ignoring unparseable pong")
			return nil
		}
		select {
		case c.ackch <- echoed:
		default:
			// Liveness: never block the reader when nobody consumes acks,
			// e.g. after the probe has been disabled mid-flight.
			logging.Logger.Debug("client: dropping ack, no consumer")
		}
		return nil
	})
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// readLoop pumps the connection so that control frames are serviced. Pong
// frames are handled by the pong handler; the probe protocol has no server
// initiated data frames, so anything else is discarded.
//
// Liveness guarantee: readLoop closes the ack channel when the connection
// dies, which stops the probe's run loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	logging.Logger.Debug("client: reader start")
	defer logging.Logger.Debug("client: reader stop")
	defer close(c.ackch)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logging.Logger.WithError(err).Debug("client: conn.ReadMessage failed")
			}
			return
		}
	}
}

// Send dispatches sentAtMs to the server inside a ping control frame. The
// deadline comes from ctx when set, and defaults to defaultTimeout.
func (c *Client) Send(ctx context.Context, sentAtMs int64) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	return message.Send(c.conn, sentAtMs, deadline)
}

// Acks returns the channel of echoed timestamps. The channel is closed when
// the connection dies.
func (c *Client) Acks() <-chan int64 {
	return c.ackch
}

// Close starts the websocket closing handshake and tears the connection
// down. The background reader exits once the peer acknowledges the close or
// the connection drops.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Done probing")
	d := time.Now().Add(time.Second) // Liveness!
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, d); err != nil {
		logging.Logger.WithError(err).Warn("client: conn.WriteControl failed")
	}
	return c.conn.Close()
}
