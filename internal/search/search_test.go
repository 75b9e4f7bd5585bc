package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/internal/observability"
	"github.com/rigmate/rigmate/pkg/models"
)

// Metrics register with the default Prometheus registry, so create them once
// for the whole test binary.
var searchMetrics = observability.NewMetrics()

// fakeProvider scripts provider behavior per call.
type fakeProvider struct {
	results [][]models.SearchResult
	errs    []error
	calls   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(_ context.Context, _ string, _ int) ([]models.SearchResult, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var results []models.SearchResult
	if i < len(f.results) {
		results = f.results[i]
	}
	return results, err
}

func fastGatewayConfig() Config {
	return Config{MaxResults: 5, MinInterval: 0, Timeout: time.Second, MaxAttempts: 3}
}

func TestGatewayRetriesTransientFailure(t *testing.T) {
	provider := &fakeProvider{
		errs: []error{errors.New("provider hiccup"), nil},
		results: [][]models.SearchResult{
			nil,
			{{Title: "RTX 4070", Body: "A GPU", URL: "https://example.com"}},
		},
	}
	g := NewGateway(provider, fastGatewayConfig(), nil, nil)

	results, err := g.Search(context.Background(), "rtx 4070")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "RTX 4070" {
		t.Errorf("results = %+v", results)
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2", provider.calls)
	}

	stats := g.Stats()
	if stats.Attempts != 2 || stats.Successes != 1 || stats.Failures != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGatewayEmptyResultsIsSuccess(t *testing.T) {
	provider := &fakeProvider{}
	g := NewGateway(provider, fastGatewayConfig(), nil, nil)

	results, err := g.Search(context.Background(), "obscure part number")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1 (no retry on empty)", provider.calls)
	}
}

func TestGatewayCountsSearchOutcomes(t *testing.T) {
	success := searchMetrics.SearchCounter.WithLabelValues("success")
	failure := searchMetrics.SearchCounter.WithLabelValues("error")
	successBefore := testutil.ToFloat64(success)
	failureBefore := testutil.ToFloat64(failure)

	// One search that succeeds after a retry counts a single success.
	provider := &fakeProvider{
		errs:    []error{errors.New("provider hiccup"), nil},
		results: [][]models.SearchResult{nil, {{Title: "RTX 4070"}}},
	}
	g := NewGateway(provider, fastGatewayConfig(), searchMetrics, nil)
	if _, err := g.Search(context.Background(), "rtx 4070"); err != nil {
		t.Fatalf("Search: %v", err)
	}

	// One search that exhausts every attempt counts a single error.
	failing := &fakeProvider{
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	g = NewGateway(failing, fastGatewayConfig(), searchMetrics, nil)
	if _, err := g.Search(context.Background(), "rtx 4070"); err == nil {
		t.Fatal("Search should fail when every attempt fails")
	}

	if got := testutil.ToFloat64(success) - successBefore; got != 1 {
		t.Errorf("success counter moved by %v, want 1", got)
	}
	if got := testutil.ToFloat64(failure) - failureBefore; got != 1 {
		t.Errorf("error counter moved by %v, want 1", got)
	}
}

func TestDuckDuckGoParsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "rtx 4070" {
			t.Errorf("query = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Heading":      "GeForce RTX 4070",
			"AbstractText": "A graphics card released in 2023.",
			"AbstractURL":  "https://en.wikipedia.org/wiki/RTX_4070",
			"RelatedTopics": []map[string]any{
				{"FirstURL": "https://example.com/1", "Text": "RTX 4070 Ti review"},
				{"FirstURL": "", "Text": "no url, skipped"},
				{"FirstURL": "https://example.com/2", "Text": "RTX 4070 Super pricing"},
			},
		})
	}))
	defer server.Close()

	p := NewDuckDuckGoProvider()
	p.httpClient = server.Client()
	// Point the provider at the test server by rewriting outbound requests.
	p.httpClient.Transport = rewriteHost(server.URL)

	results, err := p.Search(context.Background(), "rtx 4070", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Title != "GeForce RTX 4070" {
		t.Errorf("first result = %+v, want the abstract", results[0])
	}
	if results[1].URL != "https://example.com/1" {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestDuckDuckGoMaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		topics := make([]map[string]any, 10)
		for i := range topics {
			topics[i] = map[string]any{"FirstURL": "https://example.com", "Text": "topic"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"RelatedTopics": topics})
	}))
	defer server.Close()

	p := NewDuckDuckGoProvider()
	p.httpClient = server.Client()
	p.httpClient.Transport = rewriteHost(server.URL)

	results, err := p.Search(context.Background(), "gpu", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("results = %d, want capped at 3", len(results))
	}
}

func TestBraveParsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "test-key" {
			t.Errorf("token header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]any{
					{"title": "Ryzen 7800X3D", "url": "https://example.com", "description": "A CPU"},
				},
			},
		})
	}))
	defer server.Close()

	p := NewBraveProvider("test-key")
	p.httpClient = server.Client()
	p.httpClient.Transport = rewriteHost(server.URL)

	results, err := p.Search(context.Background(), "ryzen", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Ryzen 7800X3D" {
		t.Errorf("results = %+v", results)
	}
}

func TestBraveRateLimitSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewBraveProvider("test-key")
	p.httpClient = server.Client()
	p.httpClient.Transport = rewriteHost(server.URL)

	_, err := p.Search(context.Background(), "ryzen", 5)
	if err == nil {
		t.Fatal("Search should fail on 429")
	}
	if kind := faults.Classify(err); kind != faults.KindRateLimited {
		t.Errorf("kind = %s, want %s", kind, faults.KindRateLimited)
	}
}

func TestBraveMissingKey(t *testing.T) {
	p := NewBraveProvider("")
	if _, err := p.Search(context.Background(), "ryzen", 5); err == nil {
		t.Error("Search should fail without an API key")
	}
}

func TestToolExecute(t *testing.T) {
	provider := &fakeProvider{
		results: [][]models.SearchResult{{
			{Title: "RTX 4070", Body: "A GPU", URL: "https://example.com"},
			{Title: "RTX 4070 Ti", Body: "A faster GPU", URL: "https://example.com/ti"},
		}},
	}
	tool := NewGateway(provider, fastGatewayConfig(), nil, nil).Tool()

	if tool.Name() != ToolName {
		t.Errorf("Name = %q, want %q", tool.Name(), ToolName)
	}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"rtx 4070"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"1. RTX 4070", "2. RTX 4070 Ti", "Source: https://example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestToolExecuteEmptyQuery(t *testing.T) {
	tool := NewGateway(&fakeProvider{}, fastGatewayConfig(), nil, nil).Tool()

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`))
	if err == nil {
		t.Fatal("Execute should reject an empty query")
	}
	if kind := faults.KindOf(err); kind != faults.KindValidation {
		t.Errorf("kind = %s, want %s", kind, faults.KindValidation)
	}
}

func TestToolExecuteNoResults(t *testing.T) {
	tool := NewGateway(&fakeProvider{}, fastGatewayConfig(), nil, nil).Tool()

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "No results") {
		t.Errorf("output = %q, want a no-results notice", out)
	}
}

// rewriteHost redirects any outbound request to the test server.
func rewriteHost(target string) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		u := *req.URL
		u.Scheme = "http"
		u.Host = strings.TrimPrefix(target, "http://")
		clone := req.Clone(req.Context())
		clone.URL = &u
		return http.DefaultTransport.RoundTrip(clone)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
