// Package proxy implements ProxyServer (C8): the data plane that accepts
// client connections, forwards HTTP requests through RuleEngine, ScopeManager,
// PluginHost and CaptureRing, and intercepts CONNECT tunnels for HTTPS MITM.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/int3rceptor/interceptor/errs"
	"github.com/int3rceptor/interceptor/internal/ilog"
	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
	"github.com/int3rceptor/interceptor/internal/interceptor/plugin"
	"github.com/int3rceptor/interceptor/internal/interceptor/rules"
	"github.com/int3rceptor/interceptor/internal/interceptor/scanner"
	"github.com/int3rceptor/interceptor/internal/interceptor/scope"
	"github.com/int3rceptor/interceptor/internal/interceptor/tlsaccept"
	"github.com/int3rceptor/interceptor/internal/interceptor/upstream"
)

// DefaultMaxBodyBytes bounds how much of a request/response body is
// buffered for rule rewriting and capture. Unlike a pass-through logging
// proxy, this proxy must hold the whole body in memory to rewrite it, so
// the cap is generous rather than a small logging snippet.
const DefaultMaxBodyBytes = 10 << 20 // 10 MiB

// Options configures a Proxy. Every field has a usable zero value; New
// fills in a default for a nil Upstream, Rules, Scope, Capture or Scanner
// and for a non-positive MaxBodyBytes.
type Options struct {
	// TLS, when set, makes the proxy intercept CONNECT tunnels by forging a
	// leaf certificate and terminating TLS itself. Nil means CONNECT falls
	// back to a plain, un-intercepted byte tunnel.
	TLS *tlsaccept.Acceptor

	Upstream *upstream.Pool
	Rules    *rules.Engine
	Scope    *scope.Manager
	Capture  *capture.Ring
	// Plugins dispatches OnRequest/OnResponse hooks. Nil means hooks are a
	// no-op passthrough rather than an error — a proxy built without a
	// plugin host still forwards and captures traffic normally.
	Plugins *plugin.Host
	// Scanner observes every captured transaction for passive findings. A
	// proxy always has one: leaving this nil makes New build a default
	// scanner.Scanner, since passive scanning has no other entry point.
	Scanner *scanner.Scanner

	MaxBodyBytes int64
}

// Proxy is an http.Handler implementing the forward and CONNECT dispatch
// described by the data plane: it is installed on every accepted
// connection, both the plaintext front door and any decrypted MITM stream.
type Proxy struct {
	tls      *tlsaccept.Acceptor
	upstream *upstream.Pool
	rules    *rules.Engine
	scope    *scope.Manager
	capture  *capture.Ring
	plugins  *plugin.Host
	scanner  *scanner.Scanner

	maxBodyBytes int64
}

// New builds a Proxy from opts, defaulting any unset dependency.
func New(opts Options) *Proxy {
	p := &Proxy{
		tls:          opts.TLS,
		upstream:     opts.Upstream,
		rules:        opts.Rules,
		scope:        opts.Scope,
		capture:      opts.Capture,
		plugins:      opts.Plugins,
		scanner:      opts.Scanner,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if p.upstream == nil {
		p.upstream = upstream.New(upstream.Options{})
	}
	if p.rules == nil {
		p.rules = rules.New()
	}
	if p.scope == nil {
		p.scope = scope.New()
	}
	if p.capture == nil {
		p.capture = capture.New(0)
	}
	if p.scanner == nil {
		p.scanner = scanner.New()
	}
	if p.maxBodyBytes <= 0 {
		p.maxBodyBytes = DefaultMaxBodyBytes
	}
	return p
}

// ServeHTTP dispatches a single HTTP request arriving on either the
// plaintext front door or a decrypted MITM stream: CONNECT tunnels to the
// tunnel path, everything else forwards through the rule/plugin/capture
// pipeline.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}

	tlsOrigin := r.TLS != nil
	resp, err := p.forward(r.Context(), r, tlsOrigin)
	if err != nil {
		writeError(w, err)
		return
	}
	defer resp.Body.Close()
	writeResponse(w, resp)
}

// normalizeURI promotes an origin-form or authority-form request URI to
// absolute form using the Host header, as required before anything
// downstream can reason about scope or upstream dispatch.
func normalizeURI(req *http.Request, defaultScheme string) error {
	if req.URL.IsAbs() {
		return nil
	}
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	if host == "" {
		return errs.New(errs.KindHTTPInvalidRequest, "request carries no Host", nil)
	}
	req.URL.Scheme = defaultScheme
	req.URL.Host = host
	return nil
}

// forward implements the forward path (spec step 3): scope check, rule
// application, plugin hooks, upstream dispatch, and capture emission. It is
// re-entered for every request on a decrypted MITM stream as well as the
// plaintext front door.
func (p *Proxy) forward(ctx context.Context, req *http.Request, tlsOrigin bool) (*http.Response, error) {
	scheme := "http"
	if tlsOrigin {
		scheme = "https"
	}
	if err := normalizeURI(req, scheme); err != nil {
		return nil, err
	}

	targetURL := req.URL.String()
	ilog.Debug("proxy forward", "method", req.Method, "url", targetURL)

	reqHook := plugin.NewContext()
	reqHook.Method = strPtr(req.Method)
	reqHook.URL = strPtr(targetURL)
	reqHook = p.runHook(ctx, plugin.HookOnRequest, reqHook)
	applyHookToRequest(req, reqHook)
	targetURL = req.URL.String()

	if !p.scope.IsInScope(targetURL) {
		return p.upstream.Request(ctx, req)
	}

	reqBody, err := readBodyLimited(req.Body, p.maxBodyBytes)
	if err != nil {
		return nil, errs.New(errs.KindHTTPInvalidRequest, "reading request body", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(reqBody))

	reqMutable := &rules.Mutable{URL: targetURL, Headers: headersFromHTTP(req.Header), Body: reqBody}
	p.rules.ApplyRequest(reqMutable)
	applyMutableToRequest(req, reqMutable)

	start := time.Now()
	resp, err := p.upstream.Request(ctx, req)
	duration := time.Since(start)
	if err != nil {
		return nil, errs.New(errs.KindProxyUpstreamFail, "upstream request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := readBodyLimited(resp.Body, p.maxBodyBytes)
	if err != nil {
		return nil, errs.New(errs.KindIO, "reading upstream response body", err)
	}

	status := uint16(resp.StatusCode)
	respHook := plugin.NewContext()
	respHook.StatusCode = &status
	respHook = p.runHook(ctx, plugin.HookOnResponse, respHook)
	if respHook.StatusCode != nil {
		resp.StatusCode = int(*respHook.StatusCode)
	}

	respMutable := &rules.Mutable{Headers: headersFromHTTP(resp.Header), Body: respBody}
	p.rules.ApplyResponse(respMutable)
	applyMutableToResponse(resp, respMutable)

	p.emitCapture(capture.Request{
		Timestamp: start.UnixMilli(),
		Method:    req.Method,
		URL:       targetURL,
		Headers:   reqMutable.Headers,
		Body:      reqMutable.Body,
		TLS:       tlsOrigin,
	}, &capture.Response{
		StatusCode: resp.StatusCode,
		Headers:    respMutable.Headers,
		Body:       respMutable.Body,
		DurationMS: duration.Milliseconds(),
	})

	resp.Body = io.NopCloser(bytes.NewReader(respMutable.Body))
	resp.ContentLength = int64(len(respMutable.Body))
	return resp, nil
}

// runHook executes hook through the configured PluginHost, if any. A proxy
// built without a PluginHost (e.g. in tests exercising only the tunnel or
// capture paths) passes every hook through unchanged rather than panicking.
func (p *Proxy) runHook(ctx context.Context, hook plugin.Hook, hookCtx *plugin.Context) *plugin.Context {
	if p.plugins == nil {
		return hookCtx
	}
	out, err := p.plugins.ExecuteHook(ctx, hook, hookCtx)
	if err != nil {
		ilog.Warn("plugin hook execution failed", "hook", string(hook), "error", err)
		return hookCtx
	}
	return out
}

// emitCapture pushes a completed transaction onto the capture ring and
// feeds it to the scanner for passive detection.
func (p *Proxy) emitCapture(req capture.Request, resp *capture.Response) {
	id := p.capture.Push(req, resp)
	req.ID = id
	if resp != nil {
		resp.RequestID = id
	}
	p.scanner.Observe(capture.Entry{Request: req, Response: resp})
}

func applyHookToRequest(req *http.Request, hookCtx *plugin.Context) {
	if hookCtx == nil {
		return
	}
	if hookCtx.Method != nil {
		req.Method = *hookCtx.Method
	}
	if hookCtx.URL != nil {
		if u, err := url.Parse(*hookCtx.URL); err == nil {
			req.URL = u
		}
	}
	for name, value := range hookCtx.Headers {
		req.Header.Set(name, value)
	}
}

func applyMutableToRequest(req *http.Request, m *rules.Mutable) {
	req.Header = httpHeaderFrom(m.Headers)
	req.ContentLength = int64(len(m.Body))
}

func applyMutableToResponse(resp *http.Response, m *rules.Mutable) {
	resp.Header = httpHeaderFrom(m.Headers)
}

func headersFromHTTP(h http.Header) []capture.Header {
	out := make([]capture.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, capture.Header{Name: name, Value: v})
		}
	}
	return out
}

func httpHeaderFrom(headers []capture.Header) http.Header {
	out := make(http.Header, len(headers))
	for _, h := range headers {
		out.Add(h.Name, h.Value)
	}
	return out
}

func readBodyLimited(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	return io.ReadAll(io.LimitReader(body, limit))
}

func strPtr(s string) *string { return &s }

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	dst := w.Header()
	for name, values := range resp.Header {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if e, ok := err.(*errs.Error); ok {
		status = e.HTTPStatus()
	}
	ilog.Warn("proxy forward failed", "error", err)
	http.Error(w, fmt.Sprintf("proxy error: %v", err), status)
}
