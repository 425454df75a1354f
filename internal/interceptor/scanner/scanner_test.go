package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/int3rceptor/interceptor/internal/interceptor/upstream"
)

func TestNewScannerHasDefaultRulesAndConfig(t *testing.T) {
	s := New()
	assert.True(t, s.Config().Passive)
	assert.False(t, s.Config().Active)
	assert.Len(t, s.Rules(), 9)
}

func TestPassiveScanRecordsFindingAndIncrementsStats(t *testing.T) {
	s := New()
	entry := entryWithResponseBody("you have an error in your sql syntax near")
	found := s.PassiveScan(entry)
	// The SQL error plus the three missing-security-header rules.
	require.Len(t, found, 4)
	assert.Equal(t, 4, len(s.GetFindings()))

	stats := s.GetStats()
	assert.Equal(t, uint64(4), stats.VulnerabilitiesFound)
	assert.Equal(t, uint64(1), stats.RequestsScanned)
}

func TestPassiveScanSkippedWhenDisabled(t *testing.T) {
	s := New()
	cfg := s.Config()
	cfg.Passive = false
	s.Configure(cfg)

	found := s.PassiveScan(entryWithResponseBody("you have an error in your sql syntax near"))
	assert.Nil(t, found)
	assert.Empty(t, s.GetFindings())
}

func TestPassiveScanHonorsCategoryFilter(t *testing.T) {
	s := New()
	s.Configure(Config{Passive: true, Categories: []Category{CategoryXSS}})

	found := s.PassiveScan(entryWithResponseBody("you have an error in your sql syntax near"))
	assert.Empty(t, found)
}

func TestObserveIsAliasForPassiveScan(t *testing.T) {
	s := New()
	entry := entryWithHeader("Server", "nginx/1.18.0")
	found := s.Observe(entry)
	// Server version disclosure plus the three missing-security-header rules.
	assert.Len(t, found, 4)
}

func TestAddRuleIsPickedUpByPassiveScan(t *testing.T) {
	s := New()
	s.Configure(Config{Passive: true})
	s.AddRule(DetectionRule{
		ID:               "custom",
		Category:         CategoryInjection,
		Severity:         SeverityCritical,
		ResponsePatterns: []string{"custom-marker"},
		Enabled:          true,
	})
	found := s.PassiveScan(entryWithResponseBody("contains custom-marker here"))
	// The three missing-security-header rules fire first; the appended
	// custom rule comes last.
	require.Len(t, found, 4)
	assert.Equal(t, "custom", found[3].RuleID)
}

func TestGetFindingsByCategoryAndSeverity(t *testing.T) {
	s := New()
	s.PassiveScan(entryWithResponseBody("you have an error in your sql syntax near"))
	s.PassiveScan(entryWithHeader("Server", "nginx/1.18.0"))

	assert.Len(t, s.GetFindingsByCategory(CategoryInjection), 1)
	assert.Len(t, s.GetFindingsByCategory(CategoryInformationDisclosure), 1)
	assert.Len(t, s.GetFindingsBySeverity(SeverityHigh), 1)
	assert.Len(t, s.GetFindingsBySeverity(SeverityInfo), 1)
}

func TestClearFindingsEmptiesStore(t *testing.T) {
	s := New()
	s.PassiveScan(entryWithResponseBody("you have an error in your sql syntax near"))
	require.NotEmpty(t, s.GetFindings())
	s.ClearFindings()
	assert.Empty(t, s.GetFindings())
}

func TestStartActiveScanErrorsWhenAlreadyRunning(t *testing.T) {
	s := New()
	s.Configure(Config{Active: true, Concurrency: 1})
	pool := upstream.New(upstream.Options{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	_, err := s.StartActiveScan(ctx, []string{srv.URL, srv.URL}, pool)
	require.NoError(t, err)

	_, err = s.StartActiveScan(ctx, []string{srv.URL}, pool)
	assert.Error(t, err)

	s.StopScan()
	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, s.IsRunning())
}

func TestActiveScanConfirmsXSSReflection(t *testing.T) {
	s := New()
	s.Configure(Config{Active: true, Concurrency: 2, Categories: []Category{CategoryXSS}})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("echo: " + r.URL.Query().Get("test")))
	}))
	defer srv.Close()

	pool := upstream.New(upstream.Options{})
	ctx := context.Background()
	_, err := s.StartActiveScan(ctx, []string{srv.URL}, pool)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	findings := s.GetFindingsByCategory(CategoryXSS)
	require.NotEmpty(t, findings)
	assert.True(t, findings[0].Confirmed)
}

func TestInjectQueryParamAppendsWhenNoExistingQuery(t *testing.T) {
	out := injectQueryParam("http://target.test/path", "test", "<script>")
	assert.Contains(t, out, "test=")
}

func TestInjectQueryParamPreservesExistingQuery(t *testing.T) {
	out := injectQueryParam("http://target.test/path?a=1", "test", "x")
	assert.Contains(t, out, "a=1")
	assert.Contains(t, out, "test=x")
}

func TestConfirmActiveRequiresVerbatimReflectionForXSS(t *testing.T) {
	rule := DetectionRule{Category: CategoryXSS}
	confirmed, _ := confirmActive(rule, "<script>alert(1)</script>", "no reflection here")
	assert.False(t, confirmed)

	confirmed, _ = confirmActive(rule, "<script>alert(1)</script>", "echo: <script>alert(1)</script>")
	assert.True(t, confirmed)
}

func TestConfirmActiveMatchesInjectionErrorPattern(t *testing.T) {
	rule := DetectionRule{Category: CategoryInjection, ResponsePatterns: []string{"sql syntax"}}
	confirmed, _ := confirmActive(rule, "'", "you have an error in your sql syntax near")
	assert.True(t, confirmed)
}
