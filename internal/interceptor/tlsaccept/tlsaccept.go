// Package tlsaccept wraps an already-accepted (and already CONNECT-upgraded)
// net.Conn in a TLS server handshake, selecting a forged leaf certificate by
// SNI via the ca package (C2).
package tlsaccept

import (
	"crypto/tls"
	"net"

	"github.com/int3rceptor/interceptor/errs"
	"github.com/int3rceptor/interceptor/internal/ilog"
)

// LeafProvider is the subset of *ca.CA the acceptor depends on.
type LeafProvider interface {
	LeafFor(host string) (*tls.Certificate, error)
}

// Acceptor performs the server-side TLS handshake for a MITM'd tunnel.
type Acceptor struct {
	ca LeafProvider
}

// New returns an Acceptor that resolves leaves through ca.
func New(ca LeafProvider) *Acceptor {
	return &Acceptor{ca: ca}
}

// Handshake wraps conn in a TLS server using a per-SNI certificate resolver
// and ALPN offering h2 then http/1.1. It blocks until the handshake
// completes or fails.
func (a *Acceptor) Handshake(conn net.Conn) (*tls.Conn, error) {
	cfg := &tls.Config{
		NextProtos: []string{"h2", "http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if hello.ServerName == "" {
				return nil, errs.New(errs.KindTLSHandshake, "client hello carries no SNI", nil)
			}
			return a.ca.LeafFor(hello.ServerName)
		},
	}

	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		ilog.Warn("tls handshake failed", "error", err)
		tlsConn.Close()
		return nil, errs.New(errs.KindTLSHandshake, "tls handshake failed", err)
	}
	return tlsConn, nil
}

// NegotiatedProtocol returns the ALPN protocol selected for conn ("h2" or
// "http/1.1", or "" if handshake state is unavailable).
func NegotiatedProtocol(conn *tls.Conn) string {
	return conn.ConnectionState().NegotiatedProtocol
}
