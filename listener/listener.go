// Package listener provides generic functions which extend the capabilities
// of the http package. The functions here eliminate an annoying race
// condition in net/http that prevents you from knowing when it is safe to
// connect to the server socket: when they return, the listening socket is
// fully established, and it is safe to run an HTTP GET immediately. This
// matters for the probe endpoint because a client that dials too early would
// record a connection failure instead of a latency sample.
package listener

import (
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

var logFatalf = log.Fatalf

// TCPKeepAliveListener sets TCP keep-alive timeouts on accepted
// connections. It's used by ListenAndServe and ListenAndServeTLS so
// dead TCP connections (e.g. closing laptop mid-measurement) eventually
// go away.
type TCPKeepAliveListener struct {
	*net.TCPListener
}

// Accept accepts the next connection and enables keep-alive on it.
func (ln TCPKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

func serve(server *http.Server, listener net.Listener) {
	err := server.Serve(listener)
	if err != http.ErrServerClosed {
		logFatalf("Error, server %v closed with unexpected error %v", server, err)
	}
}

// ListenAndServeAsync starts an http server. The server will run until
// Shutdown() or Close() is called, but this function will return once the
// listening socket is established. Returns a non-nil error if the listening
// socket can't be established; logs a fatal error if the server dies for a
// reason besides ErrServerClosed.
//
// If server.Addr ends with :0, after this function returns server.Addr
// contains the address and port this server is listening on, which is very
// useful for unit tests.
func ListenAndServeAsync(server *http.Server) error {
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}
	if strings.HasSuffix(server.Addr, ":0") {
		server.Addr = listener.Addr().String()
	}
	go serve(server, TCPKeepAliveListener{listener.(*net.TCPListener)})
	return nil
}

func serveTLS(server *http.Server, listener net.Listener, certFile, keyFile string) {
	err := server.ServeTLS(listener, certFile, keyFile)
	if err != http.ErrServerClosed {
		logFatalf("Error, server %v closed with unexpected error %v", server, err)
	}
}

// ListenAndServeTLSAsync starts an https server with the same asynchrony
// contract as ListenAndServeAsync.
//
// Unlike ListenAndServeAsync it does not update server.Addr when the
// address ends with :0, because the resulting host may not be usable for
// TLS: in ipv6-only contexts it could be "[::]:3232", and TLS needs a name
// or an explicit IP, which [::] is not.
func ListenAndServeTLSAsync(server *http.Server, certFile, keyFile string) error {
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}
	go serveTLS(server, TCPKeepAliveListener{listener.(*net.TCPListener)}, certFile, keyFile)
	return nil
}
