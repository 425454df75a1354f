package scanner

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/int3rceptor/interceptor/errs"
	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
	"github.com/int3rceptor/interceptor/internal/interceptor/upstream"
)

// maxActiveProbeBody bounds how much of an active-scan response body is
// read into memory when checking for payload reflection or error patterns.
const maxActiveProbeBody = 1 << 20

// Config controls which categories the scanner inspects and how
// aggressively it probes during an active scan.
type Config struct {
	Passive         bool
	Active          bool
	Categories      []Category
	Concurrency     int
	DelayMS         int
	FollowRedirects bool
	MaxDepth        int
}

// DefaultConfig mirrors the reference scanner's defaults: passive scanning
// on, active scanning off, every category except sensitive-data exposure
// and open redirect enabled, light concurrency.
func DefaultConfig() Config {
	return Config{
		Passive: true,
		Active:  false,
		Categories: []Category{
			CategoryInjection, CategoryXSS, CategoryPathTraversal,
			CategoryInformationDisclosure, CategorySecurityMisconfig,
		},
		Concurrency:     5,
		DelayMS:         100,
		FollowRedirects: false,
		MaxDepth:        3,
	}
}

func (c Config) categoryEnabled(cat Category) bool {
	if len(c.Categories) == 0 {
		return true
	}
	for _, want := range c.Categories {
		if want == cat {
			return true
		}
	}
	return false
}

// Scanner runs passive detection-rule matching over captured traffic and,
// on request, active payload-injection probes against a set of target URLs.
type Scanner struct {
	mu     sync.RWMutex
	config Config
	rules  []DetectionRule

	findingsMu sync.RWMutex
	findings   []Finding

	running         atomic.Bool
	stop            atomic.Bool
	scanID          atomic.Uint64
	requestsScanned atomic.Uint64
	vulnsFound      atomic.Uint64
}

// New builds a Scanner with the default configuration and built-in rule set.
func New() *Scanner {
	return &Scanner{
		config: DefaultConfig(),
		rules:  DefaultRules(),
	}
}

// Configure replaces the scanner's configuration.
func (s *Scanner) Configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

// Config returns a copy of the current configuration.
func (s *Scanner) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// AddRule appends a custom detection rule.
func (s *Scanner) AddRule(rule DetectionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// Rules returns the scanner's current detection rules.
func (s *Scanner) Rules() []DetectionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DetectionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Observe runs a passive scan over entry and records any findings. It
// satisfies the narrow interface the proxy's capture path depends on.
func (s *Scanner) Observe(entry capture.Entry) []Finding {
	return s.PassiveScan(entry)
}

// PassiveScan checks entry against every enabled rule whose category is
// configured for passive scanning, recording and returning any findings.
func (s *Scanner) PassiveScan(entry capture.Entry) []Finding {
	cfg := s.Config()
	if !cfg.Passive {
		return nil
	}

	s.requestsScanned.Add(1)

	var found []Finding
	for _, rule := range s.Rules() {
		if !cfg.categoryEnabled(rule.Category) {
			continue
		}
		if f := rule.CheckPassive(entry); f != nil {
			f.Timestamp = time.UnixMilli(entry.Request.Timestamp)
			found = append(found, *f)
		}
	}

	if len(found) > 0 {
		s.record(found)
	}
	return found
}

func (s *Scanner) record(found []Finding) {
	s.findingsMu.Lock()
	s.findings = append(s.findings, found...)
	s.findingsMu.Unlock()
	s.vulnsFound.Add(uint64(len(found)))
}

// IsRunning reports whether an active scan is currently in progress.
func (s *Scanner) IsRunning() bool {
	return s.running.Load()
}

// StopScan requests that a running active scan halt as soon as possible.
// It has no effect if no scan is running.
func (s *Scanner) StopScan() {
	s.stop.Store(true)
}

// StartActiveScan launches an active scan against targets, injecting each
// enabled active-capable rule's payloads and recording confirmed findings.
// It returns errs.KindInternal if a scan is already in progress; only one
// active scan may run at a time.
func (s *Scanner) StartActiveScan(ctx context.Context, targets []string, pool *upstream.Pool) (uint64, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, errs.New(errs.KindInternal, "scan already running", nil)
	}
	s.stop.Store(false)
	id := s.scanID.Add(1)

	cfg := s.Config()
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	rules := s.Rules()

	go func() {
		defer s.running.Store(false)
		var wg sync.WaitGroup
		for _, target := range targets {
			if s.stop.Load() {
				break
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(target string) {
				defer wg.Done()
				defer sem.Release(1)
				s.runActiveTests(ctx, target, rules, pool)
				if cfg.DelayMS > 0 {
					time.Sleep(time.Duration(cfg.DelayMS) * time.Millisecond)
				}
			}(target)
		}
		wg.Wait()
	}()

	return id, nil
}

func (s *Scanner) runActiveTests(ctx context.Context, target string, rules []DetectionRule, pool *upstream.Pool) {
	cfg := s.Config()
	if !cfg.Active {
		return
	}
	for _, rule := range rules {
		if s.stop.Load() {
			return
		}
		if !cfg.categoryEnabled(rule.Category) || len(rule.ActivePayloads) == 0 {
			continue
		}
		for _, payload := range rule.ActivePayloads {
			if s.stop.Load() {
				return
			}
			s.testPayload(ctx, target, rule, payload, pool)
		}
	}
}

// testPayload injects payload as a query parameter on target and checks
// the response against rule's confirmation logic.
func (s *Scanner) testPayload(ctx context.Context, target string, rule DetectionRule, payload string, pool *upstream.Pool) {
	injected := injectQueryParam(target, "test", payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, injected, nil)
	if err != nil {
		return
	}

	resp, err := pool.Request(ctx, req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxActiveProbeBody))
	body := string(raw)
	s.requestsScanned.Add(1)

	confirmed, evidence := confirmActive(rule, payload, body)
	if !confirmed {
		return
	}

	f := Finding{
		ID:          newFindingID(),
		RuleID:      rule.ID,
		Category:    rule.Category,
		Severity:    rule.Severity,
		Title:       rule.Name,
		Description: "active probe confirmed " + rule.Name,
		URL:         injected,
		Evidence:    truncateEvidence(evidence),
		Response: &ResponseInfo{
			Status: resp.StatusCode,
			Length: len(body),
		},
		Remediation: rule.Remediation,
		References:  rule.References,
		Confirmed:   true,
	}
	s.record([]Finding{f})
}

// confirmActive decides whether payload triggered rule's vulnerability in
// body: XSS is confirmed by verbatim reflection, Injection and PathTraversal
// by a matching response pattern; every other category is never confirmed.
func confirmActive(rule DetectionRule, payload, body string) (bool, string) {
	switch rule.Category {
	case CategoryXSS:
		if strings.Contains(body, payload) {
			return true, body
		}
	case CategoryInjection:
		lower := strings.ToLower(body)
		for _, pattern := range rule.ResponsePatterns {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return true, body
			}
		}
	case CategoryPathTraversal:
		lower := strings.ToLower(body)
		for _, pattern := range rule.ResponsePatterns {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return true, body
			}
		}
	}
	return false, ""
}

func injectQueryParam(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		if strings.Contains(target, "?") {
			return target + "&" + key + "=" + url.QueryEscape(value)
		}
		return target + "?" + key + "=" + url.QueryEscape(value)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func newFindingID() string {
	return uuid.NewString()
}

// GetFindings returns a copy of every finding recorded so far.
func (s *Scanner) GetFindings() []Finding {
	s.findingsMu.RLock()
	defer s.findingsMu.RUnlock()
	out := make([]Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// GetFindingsBySeverity filters recorded findings by severity.
func (s *Scanner) GetFindingsBySeverity(sev Severity) []Finding {
	var out []Finding
	for _, f := range s.GetFindings() {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// GetFindingsByCategory filters recorded findings by category.
func (s *Scanner) GetFindingsByCategory(cat Category) []Finding {
	var out []Finding
	for _, f := range s.GetFindings() {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

// ClearFindings discards all recorded findings.
func (s *Scanner) ClearFindings() {
	s.findingsMu.Lock()
	s.findings = nil
	s.findingsMu.Unlock()
}

// GetStats summarizes current scanner activity.
func (s *Scanner) GetStats() Stats {
	stats := Stats{
		IsRunning:            s.IsRunning(),
		RequestsScanned:      s.requestsScanned.Load(),
		VulnerabilitiesFound: s.vulnsFound.Load(),
	}
	for _, f := range s.GetFindings() {
		switch f.Severity {
		case SeverityCritical:
			stats.CriticalCount++
		case SeverityHigh:
			stats.HighCount++
		case SeverityMedium:
			stats.MediumCount++
		case SeverityLow:
			stats.LowCount++
		case SeverityInfo:
			stats.InfoCount++
		}
	}
	return stats
}
