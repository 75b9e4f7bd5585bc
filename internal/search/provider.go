// Package search queries external web-search providers through the paced,
// retrying outbound caller and normalizes their results.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rigmate/rigmate/pkg/models"
)

// Provider is the external search collaborator: text query in, ordered hits
// out. Implementations may fail on transport errors; an empty result set is
// not an error.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

// DuckDuckGoProvider queries the DuckDuckGo Instant Answer API. It needs no
// credentials, which makes it the default backend.
type DuckDuckGoProvider struct {
	httpClient *http.Client
}

// NewDuckDuckGoProvider creates the default provider.
func NewDuckDuckGoProvider() *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Provider.
func (p *DuckDuckGoProvider) Name() string { return "duckduckgo" }

// Search implements Provider.
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RigmateBot/1.0)")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: read response: %w", err)
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("duckduckgo: parse response: %w", err)
	}

	results := make([]models.SearchResult, 0, maxResults)
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, models.SearchResult{
			Title: ddg.Heading,
			Body:  ddg.AbstractText,
			URL:   ddg.AbstractURL,
		})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, models.SearchResult{
			Title: title,
			Body:  topic.Text,
			URL:   topic.FirstURL,
		})
	}
	return results, nil
}

// BraveProvider queries the Brave Search API.
type BraveProvider struct {
	apiKey     string
	httpClient *http.Client
}

// NewBraveProvider creates a provider backed by the Brave Search API.
func NewBraveProvider(apiKey string) *BraveProvider {
	return &BraveProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Provider.
func (p *BraveProvider) Name() string { return "brave" }

// Search implements Provider.
func (p *BraveProvider) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("brave: API key not configured")
	}

	endpoint, err := url.Parse("https://api.search.brave.com/res/v1/web/search")
	if err != nil {
		return nil, fmt.Errorf("brave: invalid URL: %w", err)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", maxResults))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("brave: rate limit: status 429")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("brave: read response: %w", err)
	}

	var brave struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &brave); err != nil {
		return nil, fmt.Errorf("brave: parse response: %w", err)
	}

	results := make([]models.SearchResult, 0, len(brave.Web.Results))
	for _, r := range brave.Web.Results {
		if len(results) >= maxResults {
			break
		}
		results = append(results, models.SearchResult{
			Title: r.Title,
			Body:  r.Description,
			URL:   r.URL,
		})
	}
	return results, nil
}
