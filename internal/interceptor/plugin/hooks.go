// Package plugin implements PluginHost (C9): a wazero-hosted WebAssembly
// plugin runtime that lets external modules observe and rewrite in-flight
// HTTP transactions through a narrow host call ABI.
package plugin

import "reflect"

// Hook identifies a point in the request/response lifecycle a plugin may
// export an implementation for.
type Hook string

const (
	HookOnRequest   Hook = "on_request"
	HookOnResponse  Hook = "on_response"
	HookOnConnect   Hook = "on_connect"
	HookOnCapture   Hook = "on_capture"
	HookOnRuleMatch Hook = "on_rule_match"
)

// Hooks lists every hook name a plugin may export.
func Hooks() []Hook {
	return []Hook{HookOnRequest, HookOnResponse, HookOnConnect, HookOnCapture, HookOnRuleMatch}
}

// Context is the data a plugin hook can read and rewrite. It crosses the
// host/guest boundary only through the host call ABI, never by value.
type Context struct {
	Method     *string
	URL        *string
	Headers    map[string]string
	Body       []byte
	StatusCode *uint16
	Metadata   map[string]string
}

// NewContext returns an empty Context with initialized maps.
func NewContext() *Context {
	return &Context{Headers: map[string]string{}, Metadata: map[string]string{}}
}

// Clone returns a deep copy, used to snapshot a Context before a hook call
// so the caller can tell afterward whether the plugin actually changed it.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := &Context{Body: append([]byte(nil), c.Body...)}
	if c.Method != nil {
		m := *c.Method
		out.Method = &m
	}
	if c.URL != nil {
		u := *c.URL
		out.URL = &u
	}
	if c.StatusCode != nil {
		s := *c.StatusCode
		out.StatusCode = &s
	}
	out.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	out.Metadata = make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func contextsEqual(a, b *Context) bool {
	return reflect.DeepEqual(a, b)
}

// Result is what a single plugin's hook invocation reports back.
type Result struct {
	Modified       bool
	Context        *Context
	ShouldContinue bool
	Message        string
}

func unmodified(ctx *Context) Result {
	return Result{Context: ctx, ShouldContinue: true}
}

func blocked(message string) Result {
	return Result{ShouldContinue: false, Message: message}
}
