package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const llamaParseBaseURL = "https://api.cloud.llamaindex.ai"

// PDFParser turns a local PDF file into markdown text.
type PDFParser interface {
	Parse(ctx context.Context, path string) (string, error)
}

// LlamaParser is a PDFParser backed by the LlamaParse cloud API.
type LlamaParser struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

// LlamaOption configures a LlamaParser.
type LlamaOption func(*LlamaParser)

// WithLlamaBaseURL targets an alternate endpoint.
func WithLlamaBaseURL(url string) LlamaOption {
	return func(p *LlamaParser) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithPollInterval sets how often job status is checked.
func WithPollInterval(d time.Duration) LlamaOption {
	return func(p *LlamaParser) {
		p.pollInterval = d
	}
}

// NewLlamaParser creates a parser for apiKey.
func NewLlamaParser(apiKey string, opts ...LlamaOption) *LlamaParser {
	p := &LlamaParser{
		apiKey:       apiKey,
		baseURL:      llamaParseBaseURL,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type llamaJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message,omitempty"`
}

type llamaMarkdown struct {
	Markdown string `json:"markdown"`
}

// Parse uploads the file, waits for the job and returns the markdown result.
func (p *LlamaParser) Parse(ctx context.Context, path string) (string, error) {
	job, err := p.upload(ctx, path)
	if err != nil {
		return "", err
	}

	for {
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			var out llamaMarkdown
			if err := p.getJSON(ctx, "/api/parsing/job/"+job.ID+"/result/markdown", &out); err != nil {
				return "", fmt.Errorf("fetch result: %w", err)
			}
			return out.Markdown, nil
		case "ERROR", "CANCELED", "CANCELLED":
			return "", fmt.Errorf("llamaparse job %s ended with status %s: %s", job.ID, job.Status, job.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.pollInterval):
		}

		if err := p.getJSON(ctx, "/api/parsing/job/"+job.ID, &job); err != nil {
			return "", fmt.Errorf("poll job: %w", err)
		}
	}
}

func (p *LlamaParser) upload(ctx context.Context, path string) (llamaJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return llamaJob{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return llamaJob{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return llamaJob{}, fmt.Errorf("copy pdf: %w", err)
	}
	if err := mw.Close(); err != nil {
		return llamaJob{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/parsing/upload", &body)
	if err != nil {
		return llamaJob{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	var job llamaJob
	if err := p.do(req, &job); err != nil {
		return llamaJob{}, fmt.Errorf("upload: %w", err)
	}
	if job.ID == "" {
		return llamaJob{}, fmt.Errorf("upload returned no job id")
	}
	return job, nil
}

func (p *LlamaParser) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	return p.do(req, out)
}

func (p *LlamaParser) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llamaparse returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
