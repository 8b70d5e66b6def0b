package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"

	"github.com/wsprobe/wsprobe/probe/spec"
	"github.com/wsprobe/wsprobe/server/handler"
)

func TestNewClientURL(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     string
	}{
		{
			name:     "hostname-and-port",
			settings: Settings{Hostname: "example.com", Port: "8080", InsecureNoTLS: true},
			want:     "ws://example.com:8080" + spec.ProbeURLPath,
		},
		{
			name:     "tls-by-default",
			settings: Settings{Hostname: "example.com", Port: "443"},
			want:     "wss://example.com:443" + spec.ProbeURLPath,
		},
		{
			name:     "no-port",
			settings: Settings{Hostname: "example.com"},
			want:     "wss://example.com" + spec.ProbeURLPath,
		},
		{
			name:     "ipv4",
			settings: Settings{Hostname: "127.0.0.1", Port: "8080", InsecureNoTLS: true},
			want:     "ws://127.0.0.1:8080" + spec.ProbeURLPath,
		},
		{
			name:     "ipv6-gets-brackets",
			settings: Settings{Hostname: "::1", Port: "8080", InsecureNoTLS: true},
			want:     "ws://[::1]:8080" + spec.ProbeURLPath,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.settings)
			if got := c.url.String(); got != tt.want {
				t.Errorf("url = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialSendAck(t *testing.T) {
	h := handler.Handler{}
	mux := http.NewServeMux()
	mux.Handle(spec.ProbeURLPath, http.HandlerFunc(h.Probe))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	testingx.Must(t, err, "failed to parse test server URL")
	c := NewClient(Settings{
		Hostname:      u.Hostname(),
		Port:          u.Port(),
		InsecureNoTLS: true,
	})
	testingx.Must(t, c.Dial(context.Background()), "failed to dial")
	defer c.Close()

	sentAtMs := time.Now().UnixMilli()
	testingx.Must(t, c.Send(context.Background(), sentAtMs), "failed to send")
	select {
	case echoed := <-c.Acks():
		if echoed != sentAtMs {
			t.Errorf("echoed = %d, want %d", echoed, sentAtMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no ack within 5s")
	}
}

func TestAcksCloseWhenConnectionDies(t *testing.T) {
	h := handler.Handler{}
	mux := http.NewServeMux()
	mux.Handle(spec.ProbeURLPath, http.HandlerFunc(h.Probe))
	srv := httptest.NewServer(mux)

	u, err := url.Parse(srv.URL)
	testingx.Must(t, err, "failed to parse test server URL")
	c := NewClient(Settings{
		Hostname:      u.Hostname(),
		Port:          u.Port(),
		InsecureNoTLS: true,
	})
	testingx.Must(t, c.Dial(context.Background()), "failed to dial")

	srv.CloseClientConnections()
	srv.Close()
	select {
	case _, ok := <-c.Acks():
		if ok {
			t.Error("expected the ack channel to close, got a value")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ack channel still open 5s after the connection died")
	}
	c.Close()
}

func TestDialFailure(t *testing.T) {
	c := NewClient(Settings{Hostname: "127.0.0.1", Port: "1", InsecureNoTLS: true})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err == nil {
		t.Error("expected Dial to fail against a closed port")
		c.Close()
	}
}
