package phases

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/sqlitool"
	"github.com/BetterCallFirewall/Hackerecon/internal/xsstool"
)

type noopGate struct{}

func (noopGate) WaitIfPaused(ctx context.Context)                          {}
func (noopGate) Ask(ctx context.Context, phaseTag string) *model.QuestionResult { return nil }

type fakeSQLi struct {
	crawlResult *sqlitool.CrawlResult
	crawlErr    error
	findings    map[string][]model.Vulnerability // keyed by endpoint URL
}

func (f *fakeSQLi) RunCrawl(ctx context.Context) (*sqlitool.CrawlResult, error) {
	return f.crawlResult, f.crawlErr
}

func (f *fakeSQLi) TestEndpoint(ctx context.Context, endpoint *model.Endpoint, params []string, phase sqlitool.Phase, onFinding sqlitool.OnFinding) error {
	for _, v := range f.findings[endpoint.URL] {
		onFinding(v)
	}
	return nil
}

func (f *fakeSQLi) TestParameter(ctx context.Context, param model.Parameter, phase sqlitool.Phase, onFinding sqlitool.OnFinding) error {
	for _, v := range f.findings[param.Endpoint.URL] {
		onFinding(v)
	}
	return nil
}

type fakeXSS struct {
	findings map[string][]model.Vulnerability

	mu    sync.Mutex
	calls int
}

func (f *fakeXSS) ScanURL(ctx context.Context, endpoint model.Endpoint, onFinding xsstool.OnFinding) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, v := range f.findings[endpoint.URL] {
		onFinding(v)
	}
	return nil
}

func newTestDeps() (*eventbus.Bus, *logx.Logger) {
	return eventbus.New(), logx.New(false)
}

func TestRunDiscovery_FallsBackToConfiguredURLWhenCrawlerFails(t *testing.T) {
	st := NewState()
	bus, logger := newTestDeps()
	cfg := &model.ScanConfig{TargetURL: "http://x.test/"}
	sqli := &fakeSQLi{crawlResult: &sqlitool.CrawlResult{Failed: true}}

	var failedEvents int
	bus.Subscribe(eventbus.TopicCrawlerFailed, func(eventbus.Event) { failedEvents++ })

	result, err := RunDiscovery(context.Background(), st, noopGate{}, sqli, bus, "scan-1", logger, cfg)
	require.NoError(t, err)
	require.Len(t, result.Endpoints, 1)
	assert.Equal(t, "http://x.test/", result.Endpoints[0].URL)
	assert.Equal(t, 1, failedEvents)
}

func TestRunDiscovery_PublishesEndpointAndParameterEvents(t *testing.T) {
	st := NewState()
	bus, logger := newTestDeps()
	cfg := &model.ScanConfig{TargetURL: "http://x.test/"}

	dir := t.TempDir()
	csvPath := writeCSVFixture(t, dir, "http://x.test/search?q=1\n")
	sqli := &fakeSQLi{crawlResult: &sqlitool.CrawlResult{CSVPath: csvPath}}

	var endpointEvents, paramEvents int
	bus.Subscribe(eventbus.TopicEndpointFound, func(eventbus.Event) { endpointEvents++ })
	bus.Subscribe(eventbus.TopicParamFound, func(eventbus.Event) { paramEvents++ })

	result, err := RunDiscovery(context.Background(), st, noopGate{}, sqli, bus, "scan-1", logger, cfg)
	require.NoError(t, err)
	assert.Len(t, result.Endpoints, 1)
	assert.Equal(t, 1, endpointEvents)
	assert.Equal(t, 1, paramEvents)
}

func writeCSVFixture(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "targets.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunSQLiDetection_DedupesAndPublishesVulnFound(t *testing.T) {
	st := NewState()
	ep := model.NewEndpoint(model.MethodGET, "http://x.test/search?q=1", "")
	ep.MergeParams("q")
	st.AddEndpoint(ep)
	st.AddParameter(model.Parameter{Endpoint: *ep, Name: "q", Testable: true})

	bus, logger := newTestDeps()
	finding := model.Vulnerability{Type: model.VulnSQLi, Endpoint: *ep, Parameter: "q", Description: "union based"}
	sqli := &fakeSQLi{findings: map[string][]model.Vulnerability{ep.URL: {finding, finding}}}

	var vulnEvents int
	bus.Subscribe(eventbus.TopicVulnFound, func(eventbus.Event) { vulnEvents++ })

	cfg := &model.ScanConfig{ThreadCount: 2}
	err := RunSQLiDetection(context.Background(), st, noopGate{}, sqli, bus, "scan-1", logger, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, vulnEvents)
	assert.Len(t, st.Vulnerabilities(), 1)
}

func TestRunSQLiExploit_SkipsWhenExploitationDisabled(t *testing.T) {
	st := NewState()
	bus, logger := newTestDeps()
	sqli := &fakeSQLi{}
	cfg := &model.ScanConfig{EnableExploitation: false}

	err := RunSQLiExploit(context.Background(), st, noopGate{}, sqli, bus, "scan-1", logger, cfg)
	require.NoError(t, err)
}

func TestRunSQLiTechnique_DerivesAndDedupesFromDescriptions(t *testing.T) {
	st := NewState()
	ep := model.NewEndpoint(model.MethodGET, "http://x.test/a?x=1", "")
	st.AddVulnerability(model.Vulnerability{Type: model.VulnSQLi, Endpoint: *ep, Parameter: "x", Description: "union based injection, boolean blind possible"})

	bus, logger := newTestDeps()
	techniques, err := RunSQLiTechnique(context.Background(), st, noopGate{}, bus, "scan-1", logger)
	require.NoError(t, err)
	assert.Contains(t, techniques, "union")
	assert.Contains(t, techniques, "boolean")
}

func TestRunXSSFuzzing_ScansUniqueEndpointsOnce(t *testing.T) {
	st := NewState()
	ep := model.NewEndpoint(model.MethodGET, "http://x.test/search?q=1", "")
	st.AddParameter(model.Parameter{Endpoint: *ep, Name: "q", Testable: true})
	st.AddParameter(model.Parameter{Endpoint: *ep, Name: "q2", Testable: true})

	bus, logger := newTestDeps()
	finding := model.Vulnerability{Type: model.VulnXSS, Endpoint: *ep, Parameter: "q", Description: "reflected"}
	xss := &fakeXSS{findings: map[string][]model.Vulnerability{ep.URL: {finding}}}

	cfg := &model.ScanConfig{XSSWorkerCount: 2}
	err := RunXSSFuzzing(context.Background(), st, noopGate{}, xss, bus, "scan-1", logger, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, xss.calls)
	assert.Len(t, st.Vulnerabilities(), 1)
}
