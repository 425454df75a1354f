// Package scanner implements Scanner (C11): passive detection-rule matching
// over captured transactions, plus active payload injection against a set
// of target URLs.
package scanner

import "time"

// Severity ranks how serious a Finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Category groups findings by OWASP-style vulnerability class.
type Category string

const (
	CategoryInjection              Category = "injection"
	CategoryXSS                    Category = "xss"
	CategorySensitiveDataExposure  Category = "sensitive_data_exposure"
	CategorySecurityMisconfig      Category = "security_misconfiguration"
	CategoryPathTraversal          Category = "path_traversal"
	CategoryInformationDisclosure  Category = "information_disclosure"
	CategoryOpenRedirect           Category = "open_redirect"
)

// ResponseInfo summarizes the response side of a Finding's evidence.
type ResponseInfo struct {
	Status     int
	Length     int
	DurationMS int64
}

// Finding is a single confirmed or suspected vulnerability.
type Finding struct {
	ID          string
	RuleID      string
	Category    Category
	Severity    Severity
	Title       string
	Description string
	URL         string
	// Evidence is a snippet of the matched request/response, capped at
	// maxEvidenceLen bytes regardless of where the match came from.
	Evidence    string
	Response    *ResponseInfo
	Remediation string
	References  []string
	Timestamp   time.Time
	Confirmed   bool
}

// Stats summarizes scanner activity for reporting.
type Stats struct {
	IsRunning            bool
	RequestsScanned      uint64
	VulnerabilitiesFound uint64
	CriticalCount        int
	HighCount            int
	MediumCount          int
	LowCount             int
	InfoCount            int
}

// maxEvidenceLen is the hard cap on Finding.Evidence length, superseding any
// narrower truncation a rule's own logic might otherwise apply.
const maxEvidenceLen = 500

func truncateEvidence(s string) string {
	if len(s) <= maxEvidenceLen {
		return s
	}
	return s[:maxEvidenceLen]
}
