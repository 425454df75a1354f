package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"net/http"
)

// Server binds a Proxy to a TCP listener. It never terminates the accept
// loop on a per-connection error: net/http's Server already gives us that
// guarantee, spawning one goroutine per accepted connection.
type Server struct {
	proxy    *Proxy
	server   *http.Server
	listener net.Listener
	bindAddr string
	port     int
}

// NewServer wraps proxy in a Server bound to bindAddr:port, defaulting to
// 127.0.0.1:8080 until SetBindAddr/SetPort are called.
func NewServer(p *Proxy) *Server {
	return &Server{
		proxy:    p,
		bindAddr: "127.0.0.1",
		port:     8080,
	}
}

// SetBindAddr overrides the bind address. Must be called before Start.
func (s *Server) SetBindAddr(addr string) { s.bindAddr = addr }

// SetPort overrides the bind port. Must be called before Start.
func (s *Server) SetPort(port int) { s.port = port }

// Start binds the listener and begins serving in the background.
// Plaintext connections only ever speak HTTP/1.1 here: HTTP/2 is offered
// exclusively on intercepted TLS streams where ALPN selects it (see
// Proxy.serveMITM).
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.bindAddr, s.port))
	if err != nil {
		return err
	}
	s.listener = listener

	s.server = &http.Server{
		Handler: s.proxy,
		// Slowloris protection: cap how long a client may take to send
		// headers before the accept loop gives up on it.
		ReadHeaderTimeout: 60 * time.Second,
	}

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound address, or "" if Start has not been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 if Start has not been called.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

// Stop gracefully shuts down the server, waiting for in-flight requests to
// complete or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Proxy returns the underlying Proxy.
func (s *Server) Proxy() *Proxy { return s.proxy }
