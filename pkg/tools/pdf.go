package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/zen-systems/stockbrief/pkg/adapter"
	"go.uber.org/zap"
)

const (
	maxPDFBytes  = 50 * 1024 * 1024
	bseHost      = "bseindia.com"
	bseNameParam = "Pname="
)

var errPDFTooLarge = errors.New("pdf too large")

// PDFTool downloads a PDF to a temporary file and hands it to a PDFParser.
type PDFTool struct {
	parser     PDFParser
	httpClient *http.Client
	tempDir    string
	maxLength  int
	maxBytes   int64
	logger     *zap.Logger
}

// PDFOption configures a PDFTool.
type PDFOption func(*PDFTool)

// WithParser sets the PDF parser. Without one the tool reports that no
// parsing credentials are configured.
func WithParser(p PDFParser) PDFOption {
	return func(t *PDFTool) {
		t.parser = p
	}
}

// WithPDFHTTPClient replaces the download client.
func WithPDFHTTPClient(client *http.Client) PDFOption {
	return func(t *PDFTool) {
		t.httpClient = client
	}
}

// WithTempDir sets where downloads are staged.
func WithTempDir(dir string) PDFOption {
	return func(t *PDFTool) {
		t.tempDir = dir
	}
}

// WithMaxPDFBytes caps the download size. Larger documents are refused.
func WithMaxPDFBytes(n int64) PDFOption {
	return func(t *PDFTool) {
		if n > 0 {
			t.maxBytes = n
		}
	}
}

// WithPDFLogger sets the tool logger.
func WithPDFLogger(logger *zap.Logger) PDFOption {
	return func(t *PDFTool) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewPDFTool creates the parse_pdf tool.
func NewPDFTool(opts ...PDFOption) *PDFTool {
	t := &PDFTool{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxLength:  maxPageLength,
		maxBytes:   maxPDFBytes,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Spec describes the tool to the model.
func (t *PDFTool) Spec() adapter.ToolSpec {
	return adapter.ToolSpec{
		Name:        ParsePDF,
		Description: "Parses a PDF from a URL and returns its content as markdown.",
		Parameter:   "pdf_url",
		ParamDoc:    "URL of the PDF to parse",
	}
}

// Call downloads and parses the PDF at pdfURL.
func (t *PDFTool) Call(ctx context.Context, pdfURL string) (string, error) {
	if t.parser == nil {
		t.logger.Error("pdf parser not configured")
		return "Please provide LlamaIndex API key for PDF parsing", nil
	}
	pdfURL = strings.TrimSpace(pdfURL)
	if pdfURL == "" {
		return "No PDF URL provided", nil
	}

	t.logger.Info("downloading pdf", zap.String("url", pdfURL))
	data, status, err := t.download(ctx, pdfURL)
	if errors.Is(err, errPDFTooLarge) {
		return t.tooLarge(pdfURL), nil
	}
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		direct, ok := bseDirectURL(pdfURL)
		if !ok {
			t.logger.Error("pdf download failed", zap.String("url", pdfURL), zap.Int("status", status))
			return fmt.Sprintf("Failed to download PDF: %d", status), nil
		}
		t.logger.Info("trying direct BSE URL", zap.String("url", direct))
		data, status, err = t.download(ctx, direct)
		if errors.Is(err, errPDFTooLarge) {
			return t.tooLarge(direct), nil
		}
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			t.logger.Error("pdf download from BSE failed", zap.String("url", direct), zap.Int("status", status))
			return fmt.Sprintf("Failed to download PDF from BSE: %d", status), nil
		}
	}

	tmp, err := os.CreateTemp(t.tempDir, "stockbrief-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			t.logger.Error("failed to remove temp file", zap.String("path", path), zap.Error(rerr))
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	content, err := t.parser.Parse(ctx, path)
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		t.logger.Warn("no content parsed from pdf", zap.String("url", pdfURL))
		return "No content parsed from PDF", nil
	}
	t.logger.Info("parsed pdf", zap.String("url", pdfURL), zap.Int("chars", len(content)))
	return truncate(content, t.maxLength), nil
}

func (t *PDFTool) download(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	setBrowserHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > t.maxBytes {
		return nil, resp.StatusCode, errPDFTooLarge
	}
	return data, resp.StatusCode, nil
}

func (t *PDFTool) tooLarge(rawURL string) string {
	t.logger.Error("pdf exceeds size limit", zap.String("url", rawURL), zap.Int64("max_bytes", t.maxBytes))
	return fmt.Sprintf("PDF too large: %s exceeds %d bytes", rawURL, t.maxBytes)
}

// bseDirectURL extracts the attachment link BSE India wraps in its viewer URLs.
func bseDirectURL(rawURL string) (string, bool) {
	if !strings.Contains(rawURL, bseHost) {
		return "", false
	}
	idx := strings.Index(rawURL, bseNameParam)
	if idx < 0 {
		return "", false
	}
	name := rawURL[idx+len(bseNameParam):]
	if amp := strings.Index(name, "&"); amp >= 0 {
		name = name[:amp]
	}
	if unescaped, err := url.QueryUnescape(name); err == nil {
		name = unescaped
	}
	if !strings.HasPrefix(name, "http://") && !strings.HasPrefix(name, "https://") {
		return "", false
	}
	return name, true
}
