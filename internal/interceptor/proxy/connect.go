package proxy

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/int3rceptor/interceptor/internal/ilog"
	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
	"github.com/int3rceptor/interceptor/internal/interceptor/tlsaccept"
)

func timeNowMillis() int64 { return time.Now().UnixMilli() }

// connectTimeout bounds dialing the upstream side of a plain (non-MITM)
// CONNECT tunnel.
const connectTimeout = 10 * time.Second

// handleConnect implements the CONNECT path (spec step 4): it always emits
// a CaptureEntry for the tunnel itself, then hijacks the connection and
// either forges a TLS leaf (MITM) or opens a plain byte tunnel, depending
// on whether a TlsAcceptor is configured.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	authority := r.URL.Host
	if authority == "" {
		authority = r.Host
	}

	p.emitCapture(capture.Request{
		Timestamp: timeNowMillis(),
		Method:    http.MethodConnect,
		URL:       "https://" + authority,
		TLS:       true,
	}, nil)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxy does not support CONNECT on this connection", http.StatusInternalServerError)
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		ilog.Warn("CONNECT hijack failed", "authority", authority, "error", err)
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		ilog.Warn("CONNECT write 200 failed", "authority", authority, "error", err)
		conn.Close()
		return
	}

	if p.tls != nil {
		go p.serveMITM(conn, authority)
	} else {
		go p.serveTunnel(conn, authority)
	}
}

// serveMITM performs the TLS handshake through the configured TlsAcceptor
// (forging a leaf via CertCache) and then installs the same auto-selecting
// HTTP server on the decrypted stream, so every inner request re-enters the
// forward path (spec step 4b).
func (p *Proxy) serveMITM(conn net.Conn, authority string) {
	defer conn.Close()

	tlsConn, err := p.tls.Handshake(conn)
	if err != nil {
		ilog.Warn("MITM handshake failed", "authority", authority, "error", err)
		return
	}

	if tlsaccept.NegotiatedProtocol(tlsConn) == "h2" {
		h2 := &http2.Server{}
		h2.ServeConn(tlsConn, &http2.ServeConnOpts{Handler: p})
		return
	}

	p.serveHTTP1(tlsConn, authority, true)
}

// serveHTTP1 drives a keep-alive loop of HTTP/1.1 requests over conn,
// re-entering forward for each one and writing the (possibly rewritten)
// response back on the wire, matching the reference proxy's inner CONNECT
// loop.
func (p *Proxy) serveHTTP1(conn net.Conn, authority string, tlsOrigin bool) {
	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				ilog.Warn("reading inner request failed", "authority", authority, "error", err)
			}
			return
		}
		if req.Host == "" {
			req.Host = authority
		}

		resp, err := p.forward(req.Context(), req, tlsOrigin)
		if err != nil {
			resp = errorResponse(req, err)
		}

		writeErr := resp.Write(conn)
		resp.Body.Close()
		if writeErr != nil {
			ilog.Warn("writing inner response failed", "authority", authority, "error", writeErr)
			return
		}
		if resp.Close || req.Close {
			return
		}
	}
}

// serveTunnel opens a plain upstream TCP connection to authority (defaulting
// to port 443) and copies bytes in both directions until either side closes
// (spec step 4c).
func (p *Proxy) serveTunnel(conn net.Conn, authority string) {
	defer conn.Close()

	host := authority
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	upstreamConn, err := net.DialTimeout("tcp", host, connectTimeout)
	if err != nil {
		ilog.Warn("tunnel dial failed", "authority", host, "error", err)
		return
	}
	defer upstreamConn.Close()

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			conn.Close()
			upstreamConn.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(upstreamConn, conn)
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		io.Copy(conn, upstreamConn)
		closeBoth()
	}()
	wg.Wait()
}

func errorResponse(req *http.Request, err error) *http.Response {
	body := "proxy error: " + err.Error()
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Request:    req,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Close:      true,
	}
	resp.ContentLength = int64(len(body))
	return resp
}
