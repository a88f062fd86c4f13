// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
)

// IPv4Server is an httptest-style server pinned to the IPv4 loopback, for
// tests that probe a URL over real TCP.
type IPv4Server struct {
	URL string

	srv *http.Server
}

// NewIPv4Server starts serving handler on 127.0.0.1 and returns the base URL.
// Skips the test when no IPv4 loopback is available.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp4 loopback unavailable: %v", err)
	}
	s := &IPv4Server{
		URL: "http://" + l.Addr().String(),
		srv: &http.Server{Handler: handler},
	}
	go func() {
		if serveErr := s.srv.Serve(l); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			t.Logf("testutil server: %v", serveErr)
		}
	}()
	return s
}

// Close stops the server and releases the port.
func (s *IPv4Server) Close() {
	_ = s.srv.Shutdown(context.Background())
}
