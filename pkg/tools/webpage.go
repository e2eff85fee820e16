package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zen-systems/stockbrief/pkg/adapter"
	"go.uber.org/zap"
)

const (
	maxPageBytes  = 2 * 1024 * 1024
	maxPageLength = 60000
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Renderer loads a page in a browser and returns its final HTML and the
// status of the main document. A status of 0 means unknown.
type Renderer interface {
	Render(ctx context.Context, url string) (string, int, error)
}

// WebpageTool fetches a page and converts it to readable text.
type WebpageTool struct {
	httpClient *http.Client
	renderer   Renderer
	maxLength  int
	logger     *zap.Logger
}

// WebpageOption configures a WebpageTool.
type WebpageOption func(*WebpageTool)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) WebpageOption {
	return func(w *WebpageTool) {
		w.httpClient = client
	}
}

// WithRenderer renders pages through a headless browser instead of a plain GET.
func WithRenderer(r Renderer) WebpageOption {
	return func(w *WebpageTool) {
		w.renderer = r
	}
}

// WithMaxLength caps the returned text.
func WithMaxLength(n int) WebpageOption {
	return func(w *WebpageTool) {
		w.maxLength = n
	}
}

// WithWebpageLogger sets the tool logger.
func WithWebpageLogger(logger *zap.Logger) WebpageOption {
	return func(w *WebpageTool) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWebpageTool creates the fetch_webpage tool.
func NewWebpageTool(opts ...WebpageOption) *WebpageTool {
	w := &WebpageTool{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxLength:  maxPageLength,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Spec describes the tool to the model.
func (w *WebpageTool) Spec() adapter.ToolSpec {
	return adapter.ToolSpec{
		Name:        FetchWebpage,
		Description: "Crawls a webpage and returns its content as text.",
		Parameter:   "url",
		ParamDoc:    "The URL to crawl",
	}
}

// Call fetches url. Non-200 responses and empty pages are reported as text.
func (w *WebpageTool) Call(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "No URL provided", nil
	}

	var (
		doc    string
		status int
		err    error
	)
	if w.renderer != nil {
		doc, status, err = w.renderer.Render(ctx, url)
		if err != nil {
			return "", fmt.Errorf("render %s: %w", url, err)
		}
		if status == 0 {
			status = http.StatusOK
		}
	} else {
		doc, status, err = w.get(ctx, url)
		if err != nil {
			return "", err
		}
	}
	if status != http.StatusOK {
		w.logger.Warn("webpage fetch returned non-200", zap.String("url", url), zap.Int("status", status))
		return fmt.Sprintf("Failed to fetch %s: HTTP %d %s", url, status, http.StatusText(status)), nil
	}

	text, err := htmlToText(doc)
	if err != nil {
		return "", fmt.Errorf("parse html from %s: %w", url, err)
	}
	if text == "" {
		return fmt.Sprintf("No content extracted from %s", url), nil
	}
	return truncate(text, w.maxLength), nil
}

func (w *WebpageTool) get(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	setBrowserHeaders(req)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), resp.StatusCode, nil
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}
