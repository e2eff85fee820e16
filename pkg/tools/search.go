package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zen-systems/stockbrief/pkg/adapter"
)

const serpAPIBaseURL = "https://serpapi.com"

// SearchTool runs Google searches through SerpAPI and formats the organic results.
type SearchTool struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxResults int
}

// SearchOption configures a SearchTool.
type SearchOption func(*SearchTool)

// WithSerpAPIKey sets the API key.
func WithSerpAPIKey(key string) SearchOption {
	return func(s *SearchTool) {
		s.apiKey = key
	}
}

// WithSearchBaseURL targets an alternate endpoint.
func WithSearchBaseURL(u string) SearchOption {
	return func(s *SearchTool) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMaxResults sets the maximum number of results returned.
func WithMaxResults(max int) SearchOption {
	return func(s *SearchTool) {
		s.maxResults = max
	}
}

// NewSearchTool creates the web_search tool.
func NewSearchTool(opts ...SearchOption) *SearchTool {
	s := &SearchTool{
		baseURL: serpAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxResults: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available returns true if the API key is configured.
func (s *SearchTool) Available() bool {
	return s.apiKey != ""
}

// Spec describes the tool to the model.
func (s *SearchTool) Spec() adapter.ToolSpec {
	return adapter.ToolSpec{
		Name:        WebSearch,
		Description: "Performs a Google web search and returns the top organic results.",
		Parameter:   "query",
		ParamDoc:    "Search query string",
	}
}

type serpResponse struct {
	OrganicResults []serpResult `json:"organic_results"`
	Error          string       `json:"error,omitempty"`
}

type serpResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date,omitempty"`
}

// Call searches for query.
func (s *SearchTool) Call(ctx context.Context, query string) (string, error) {
	if !s.Available() {
		return "Please provide a SerpAPI key for web search", nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "No search query provided", nil
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("num", strconv.Itoa(s.maxResults))
	params.Set("api_key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Search failed: HTTP %d", resp.StatusCode), nil
	}

	var serp serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&serp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if serp.Error != "" {
		return "Search failed: " + serp.Error, nil
	}
	if len(serp.OrganicResults) == 0 {
		return fmt.Sprintf("No results found for %q", query), nil
	}

	results := serp.OrganicResults
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n%s", i+1, r.Title, r.Link)
		if r.Date != "" {
			fmt.Fprintf(&sb, " (%s)", r.Date)
		}
		if r.Snippet != "" {
			sb.WriteString("\n")
			sb.WriteString(r.Snippet)
		}
	}
	return sb.String(), nil
}
