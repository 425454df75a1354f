// Package rules implements RuleEngine (C6): a set of user-defined
// request/response rewrite rules, applied in insertion order to every
// intercepted transaction.
package rules

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/int3rceptor/interceptor/internal/ilog"
	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
)

// Direction selects whether a rule applies to the outbound request or the
// inbound response.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// ConditionKind identifies how a Condition matches a transaction.
type ConditionKind string

const (
	ConditionURLContains    ConditionKind = "url_contains"
	ConditionURLRegex       ConditionKind = "url_regex"
	ConditionHeaderContains ConditionKind = "header_contains"
	ConditionHeaderRegex    ConditionKind = "header_regex"
	ConditionBodyContains   ConditionKind = "body_contains"
	ConditionBodyRegex      ConditionKind = "body_regex"
)

// Condition selects which transactions a Rule's Action applies to.
type Condition struct {
	Kind       ConditionKind
	HeaderName string // only used by header_contains / header_regex
	Value      string // substring or regex pattern, depending on Kind
}

// ActionKind identifies how an Action mutates a transaction.
type ActionKind string

const (
	ActionReplaceBody        ActionKind = "replace_body"
	ActionRegexReplaceBody   ActionKind = "regex_replace_body"
	ActionSetHeader          ActionKind = "set_header"
	ActionRemoveHeader       ActionKind = "remove_header"
	ActionRegexReplaceHeader ActionKind = "regex_replace_header"
)

// Action mutates a transaction's headers and/or body once its Rule's
// Condition matches.
type Action struct {
	Kind ActionKind

	// ReplaceBody: Target/Replacement. RegexReplaceBody: Target holds the
	// regex pattern, Replacement its replacement.
	Target      string
	Replacement string

	// SetHeader/RemoveHeader/RegexReplaceHeader: the header name.
	HeaderName string
	// SetHeader: the new value. RegexReplaceHeader: the regex pattern.
	HeaderValue string
}

// Rule is a single condition/action pair, optionally disabled.
type Rule struct {
	ID        string
	Active    bool
	Direction Direction
	Condition Condition
	Action    Action
}

// Mutable is the in-flight transaction state a Rule can rewrite: headers
// and body are mutated in place, matching the teacher's "rewrite the parts
// the proxy is about to forward" pattern rather than building a new copy.
type Mutable struct {
	URL     string // empty for responses, which have no URI of their own
	Headers []capture.Header
	Body    []byte
}

// HeaderValue returns the value of the first header matching name
// case-insensitively, and whether one was found.
func (m *Mutable) HeaderValue(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// SetHeader replaces the first header matching name case-insensitively, or
// appends a new one if none exists.
func (m *Mutable) SetHeader(name, value string) {
	for i, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			m.Headers[i].Value = value
			return
		}
	}
	m.Headers = append(m.Headers, capture.Header{Name: name, Value: value})
}

// RemoveHeader deletes every header matching name case-insensitively.
func (m *Mutable) RemoveHeader(name string) {
	out := m.Headers[:0]
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	m.Headers = out
}

// Engine holds an ordered set of Rules and a regex compile cache shared
// across all of them.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule

	regexMu sync.RWMutex
	regexes map[string]*regexp.Regexp
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{regexes: make(map[string]*regexp.Regexp)}
}

// Add appends rule to the end of the rule set.
func (e *Engine) Add(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
}

// Rules returns a copy of the current rule set, in insertion order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Clear removes every rule and empties the regex cache.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.rules = nil
	e.mu.Unlock()

	e.regexMu.Lock()
	e.regexes = make(map[string]*regexp.Regexp)
	e.regexMu.Unlock()
}

// regex compiles pattern, caching by pattern string. An invalid pattern
// returns (nil, false) and is never cached, matching the original's
// warn-and-skip behavior for regex-based conditions/actions.
func (e *Engine) regex(pattern string) (*regexp.Regexp, bool) {
	e.regexMu.RLock()
	if re, ok := e.regexes[pattern]; ok {
		e.regexMu.RUnlock()
		return re, true
	}
	e.regexMu.RUnlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		ilog.Warn("rule regex failed to compile, skipping", "pattern", pattern, "error", err)
		return nil, false
	}

	e.regexMu.Lock()
	e.regexes[pattern] = re
	e.regexMu.Unlock()
	return re, true
}

// ApplyRequest runs every active request-direction rule against m, in
// insertion order, mutating m for each rule whose Condition matches.
func (e *Engine) ApplyRequest(m *Mutable) {
	e.apply(m, DirectionRequest)
}

// ApplyResponse runs every active response-direction rule against m, in
// insertion order. URL-based conditions never match a response: responses
// carry no URI of their own.
func (e *Engine) ApplyResponse(m *Mutable) {
	e.apply(m, DirectionResponse)
}

func (e *Engine) apply(m *Mutable, direction Direction) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Active || rule.Direction != direction {
			continue
		}
		if e.matches(rule.Condition, m, direction) {
			e.execute(rule.Action, m)
		}
	}
}

func (e *Engine) matches(cond Condition, m *Mutable, direction Direction) bool {
	switch cond.Kind {
	case ConditionURLContains:
		return direction == DirectionRequest && strings.Contains(m.URL, cond.Value)
	case ConditionURLRegex:
		if direction != DirectionRequest {
			return false
		}
		re, ok := e.regex(cond.Value)
		return ok && re.MatchString(m.URL)
	case ConditionHeaderContains:
		val, ok := m.HeaderValue(cond.HeaderName)
		return ok && strings.Contains(val, cond.Value)
	case ConditionHeaderRegex:
		val, ok := m.HeaderValue(cond.HeaderName)
		if !ok {
			return false
		}
		re, ok := e.regex(cond.Value)
		return ok && re.MatchString(val)
	case ConditionBodyContains:
		return strings.Contains(string(m.Body), cond.Value)
	case ConditionBodyRegex:
		re, ok := e.regex(cond.Value)
		return ok && re.Match(m.Body)
	default:
		return false
	}
}

func (e *Engine) execute(action Action, m *Mutable) {
	switch action.Kind {
	case ActionReplaceBody:
		m.Body = []byte(strings.ReplaceAll(string(m.Body), action.Target, action.Replacement))
		syncContentLength(m)
	case ActionRegexReplaceBody:
		re, ok := e.regex(action.Target)
		if !ok {
			return
		}
		m.Body = re.ReplaceAll(m.Body, []byte(action.Replacement))
		syncContentLength(m)
	case ActionSetHeader:
		m.SetHeader(action.HeaderName, action.HeaderValue)
	case ActionRemoveHeader:
		m.RemoveHeader(action.HeaderName)
	case ActionRegexReplaceHeader:
		re, ok := e.regex(action.HeaderValue)
		if !ok {
			return
		}
		val, ok := m.HeaderValue(action.HeaderName)
		if !ok {
			return
		}
		m.SetHeader(action.HeaderName, re.ReplaceAllString(val, action.Replacement))
	}
}

// syncContentLength keeps an existing Content-Length header truthful after
// a body rewrite. A rule that rewrites the body without this would produce
// a transaction the receiving side truncates or hangs reading.
func syncContentLength(m *Mutable) {
	if _, ok := m.HeaderValue("Content-Length"); ok {
		m.SetHeader("Content-Length", strconv.Itoa(len(m.Body)))
	}
}
