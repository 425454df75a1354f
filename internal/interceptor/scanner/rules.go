package scanner

import (
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
)

// PatternKind identifies how a HeaderPattern matches a response header.
type PatternKind string

const (
	PatternExists     PatternKind = "exists"
	PatternMissing    PatternKind = "missing"
	PatternContains   PatternKind = "contains"
	PatternNotContain PatternKind = "not_contains"
	PatternRegex      PatternKind = "regex"
	PatternNotRegex   PatternKind = "not_regex"
)

// HeaderPattern checks a single response header against a pattern.
type HeaderPattern struct {
	HeaderName string
	Kind       PatternKind
	Value      string // argument for Contains/NotContains/Regex/NotRegex; unused by Exists/Missing
	Message    string
}

// DetectionRule defines how to find one class of vulnerability, both
// passively (against already-captured traffic) and actively (by injecting
// payloads and inspecting the response).
type DetectionRule struct {
	ID               string
	Name             string
	Category         Category
	Severity         Severity
	Description      string
	RequestPatterns  []string // substring match, case-insensitive, against the request body
	ResponsePatterns []string // substring match, case-insensitive, against the response body
	HeaderPatterns   []HeaderPattern
	ActivePayloads   []string
	Remediation      string
	References       []string
	Enabled          bool
}

// regexCache memoizes compiled header-pattern regexes by pattern string,
// matching the rule engine's own no-throw/no-op-on-bad-pattern discipline.
var regexCache sync.Map // map[string]*regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, bool) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	actual, _ := regexCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), true
}

// CheckPassive evaluates r against entry and returns the first matching
// Finding, or nil if nothing matched. Request-body patterns are checked
// first, then response-body patterns, then response headers — the first
// hit wins and later checks are skipped.
func (r *DetectionRule) CheckPassive(entry capture.Entry) *Finding {
	if !r.Enabled {
		return nil
	}

	if len(entry.Request.Body) > 0 {
		bodyStr := strings.ToLower(string(entry.Request.Body))
		for _, pattern := range r.RequestPatterns {
			if strings.Contains(bodyStr, strings.ToLower(pattern)) {
				return r.finding(entry.Request.URL,
					"suspicious pattern '"+pattern+"' found in request body",
					truncateEvidence(string(entry.Request.Body)), nil, false)
			}
		}
	}

	resp := entry.Response
	if resp == nil {
		return nil
	}

	if len(resp.Body) > 0 {
		bodyStr := strings.ToLower(string(resp.Body))
		for _, pattern := range r.ResponsePatterns {
			if strings.Contains(bodyStr, strings.ToLower(pattern)) {
				return r.finding(entry.Request.URL,
					"suspicious pattern '"+pattern+"' found in response",
					truncateEvidence(string(resp.Body)),
					&ResponseInfo{Status: resp.StatusCode, Length: len(resp.Body), DurationMS: resp.DurationMS},
					false)
			}
		}
	}

	for _, hp := range r.HeaderPatterns {
		value, found := headerValue(resp.Headers, hp.HeaderName)
		if hp.matches(value, found) {
			return r.finding(entry.Request.URL, hp.Message,
				truncateEvidence("header: "+hp.HeaderName+" = "+value),
				&ResponseInfo{Status: resp.StatusCode, Length: len(resp.Body), DurationMS: resp.DurationMS},
				true)
		}
	}

	return nil
}

// matches reports whether the observed header value (and its presence)
// constitutes a vulnerability under this pattern.
func (hp HeaderPattern) matches(value string, found bool) bool {
	switch hp.Kind {
	case PatternExists:
		return !found
	case PatternMissing:
		return found
	case PatternContains:
		return !found || !strings.Contains(strings.ToLower(value), strings.ToLower(hp.Value))
	case PatternNotContain:
		return found && strings.Contains(strings.ToLower(value), strings.ToLower(hp.Value))
	case PatternRegex:
		re, ok := compileRegex(hp.Value)
		if !ok {
			return false
		}
		return !found || !re.MatchString(value)
	case PatternNotRegex:
		re, ok := compileRegex(hp.Value)
		if !ok {
			return false
		}
		return found && re.MatchString(value)
	default:
		return false
	}
}

func headerValue(headers []capture.Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func (r *DetectionRule) finding(url, description, evidence string, resp *ResponseInfo, confirmed bool) *Finding {
	return &Finding{
		ID:          uuid.NewString(),
		RuleID:      r.ID,
		Category:    r.Category,
		Severity:    r.Severity,
		Title:       r.Name,
		Description: description,
		URL:         url,
		Evidence:    evidence,
		Response:    resp,
		Remediation: r.Remediation,
		References:  r.References,
		Confirmed:   confirmed,
	}
}

// DefaultRules returns the built-in detection rule set covering SQL
// injection, reflected XSS, path traversal, missing security headers,
// server version disclosure, sensitive data exposure, and open redirects.
func DefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			ID:          "sqli-error-based",
			Name:        "SQL Injection (Error-Based)",
			Category:    CategoryInjection,
			Severity:    SeverityHigh,
			Description: "SQL injection vulnerability detected through error messages",
			ResponsePatterns: []string{
				"sql syntax", "mysql_fetch", "ora-", "syntax error",
				"unclosed quotation", "pg_query", "sqlite3::",
				"microsoft ole db", "odbc sql server driver",
				"postgresql query failed", "quoted string not properly terminated",
			},
			ActivePayloads: []string{
				"'", "\"", "' OR '1'='1", "\" OR \"1\"=\"1",
				"1' ORDER BY 1--", "1 UNION SELECT NULL--",
				"'; DROP TABLE users--", "1; WAITFOR DELAY '0:0:5'--",
			},
			Remediation: "Use parameterized queries or prepared statements. Never concatenate user input directly into SQL queries.",
			References: []string{
				"https://owasp.org/www-community/attacks/SQL_Injection",
				"https://cheatsheetseries.owasp.org/cheatsheets/SQL_Injection_Prevention_Cheat_Sheet.html",
			},
			Enabled: true,
		},
		{
			ID:          "xss-reflected",
			Name:        "Cross-Site Scripting (Reflected)",
			Category:    CategoryXSS,
			Severity:    SeverityMedium,
			Description: "Reflected XSS vulnerability - user input reflected in response",
			ActivePayloads: []string{
				"<script>alert(1)</script>", "<img src=x onerror=alert(1)>",
				"<svg onload=alert(1)>", "javascript:alert(1)",
				"<body onload=alert(1)>", "'-alert(1)-'",
				"\"><script>alert(1)</script>",
			},
			Remediation: "Encode all user input before rendering in HTML. Use Content-Security-Policy headers.",
			References: []string{
				"https://owasp.org/www-community/attacks/xss/",
				"https://cheatsheetseries.owasp.org/cheatsheets/Cross_Site_Scripting_Prevention_Cheat_Sheet.html",
			},
			Enabled: true,
		},
		{
			ID:          "path-traversal",
			Name:        "Path Traversal",
			Category:    CategoryPathTraversal,
			Severity:    SeverityHigh,
			Description: "Path traversal vulnerability allowing access to files outside web root",
			ResponsePatterns: []string{
				"root:x:0:0", "[boot loader]", "\\windows\\system32", "/etc/passwd",
			},
			ActivePayloads: []string{
				"../../../etc/passwd", "..\\..\\..\\windows\\win.ini",
				"....//....//....//etc/passwd",
				"%2e%2e%2f%2e%2e%2f%2e%2e%2fetc/passwd",
				"..%252f..%252f..%252fetc/passwd",
			},
			Remediation: "Validate and sanitize file paths. Use allowlists for permitted files.",
			References:  []string{"https://owasp.org/www-community/attacks/Path_Traversal"},
			Enabled:     true,
		},
		{
			ID:          "missing-csp",
			Name:        "Missing Content-Security-Policy",
			Category:    CategorySecurityMisconfig,
			Severity:    SeverityLow,
			Description: "Content-Security-Policy header is missing",
			HeaderPatterns: []HeaderPattern{
				{HeaderName: "Content-Security-Policy", Kind: PatternExists, Message: "Content-Security-Policy header is not set"},
			},
			Remediation: "Add a Content-Security-Policy header to prevent XSS and data injection attacks.",
			References:  []string{"https://developer.mozilla.org/en-US/docs/Web/HTTP/CSP"},
			Enabled:     true,
		},
		{
			ID:          "missing-xfo",
			Name:        "Missing X-Frame-Options",
			Category:    CategorySecurityMisconfig,
			Severity:    SeverityLow,
			Description: "X-Frame-Options header is missing, allowing clickjacking",
			HeaderPatterns: []HeaderPattern{
				{HeaderName: "X-Frame-Options", Kind: PatternExists, Message: "X-Frame-Options header is not set"},
			},
			Remediation: "Add X-Frame-Options: DENY or SAMEORIGIN.",
			References:  []string{"https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/X-Frame-Options"},
			Enabled:     true,
		},
		{
			ID:          "missing-xcto",
			Name:        "Missing X-Content-Type-Options",
			Category:    CategorySecurityMisconfig,
			Severity:    SeverityLow,
			Description: "X-Content-Type-Options header is missing",
			HeaderPatterns: []HeaderPattern{
				{HeaderName: "X-Content-Type-Options", Kind: PatternExists, Message: "X-Content-Type-Options header is not set"},
			},
			Remediation: "Add X-Content-Type-Options: nosniff.",
			References:  []string{"https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/X-Content-Type-Options"},
			Enabled:     true,
		},
		{
			ID:          "server-version",
			Name:        "Server Version Disclosure",
			Category:    CategoryInformationDisclosure,
			Severity:    SeverityInfo,
			Description: "Server version information is disclosed in headers",
			HeaderPatterns: []HeaderPattern{
				{HeaderName: "Server", Kind: PatternNotRegex, Value: `(?i)(apache|nginx|iis|express)/[\d.]+`, Message: "Server version is disclosed in headers"},
			},
			Remediation: "Remove or obfuscate server version information from response headers.",
			Enabled:     true,
		},
		{
			ID:          "sensitive-data-exposure",
			Name:        "Sensitive Data in Response",
			Category:    CategorySensitiveDataExposure,
			Severity:    SeverityMedium,
			Description: "Sensitive data patterns detected in response",
			ResponsePatterns: []string{
				"password", "api_key", "apikey", "secret_key", "private_key",
				"-----begin rsa private key-----", "-----begin private key-----",
				"aws_access_key_id", "aws_secret_access_key",
			},
			Remediation: "Ensure sensitive data is not exposed in API responses. Use proper access controls.",
			References:  []string{"https://owasp.org/www-project-top-ten/2017/A3_2017-Sensitive_Data_Exposure"},
			Enabled:     true,
		},
		{
			ID:          "open-redirect",
			Name:        "Open Redirect",
			Category:    CategoryOpenRedirect,
			Severity:    SeverityMedium,
			Description: "Application may redirect to untrusted URLs",
			RequestPatterns: []string{
				"redirect=", "url=", "next=", "return=", "returnurl=", "goto=",
			},
			ActivePayloads: []string{
				"https://evil.com", "//evil.com", "/\\evil.com", "https:evil.com",
			},
			Remediation: "Validate redirect URLs against an allowlist. Avoid using user input in redirects.",
			References:  []string{"https://cheatsheetseries.owasp.org/cheatsheets/Unvalidated_Redirects_and_Forwards_Cheat_Sheet.html"},
			Enabled:     true,
		},
	}
}
