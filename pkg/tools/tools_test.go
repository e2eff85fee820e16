package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebpageToolConvertsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		_, _ = io.WriteString(w, `<html><head><title>Acme Ltd</title><script>var x = 1;</script></head>
<body><nav>menu</nav><h1>Results</h1><p>Revenue grew 20%</p><ul><li>Orders up</li></ul></body></html>`)
	}))
	defer srv.Close()

	out, err := NewWebpageTool().Call(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "# Acme Ltd")
	assert.Contains(t, out, "# Results")
	assert.Contains(t, out, "Revenue grew 20%")
	assert.Contains(t, out, "- Orders up")
	assert.NotContains(t, out, "var x")
	assert.NotContains(t, out, "menu")
}

func TestWebpageToolReportsStatusAsText(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	out, err := NewWebpageTool().Call(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "404")
}

func TestWebpageToolEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><body><script>only()</script></body></html>")
	}))
	defer srv.Close()

	out, err := NewWebpageTool().Call(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "No content extracted"), out)
}

type stubRenderer struct {
	html   string
	status int
	url    string
}

func (s *stubRenderer) Render(_ context.Context, url string) (string, int, error) {
	s.url = url
	return s.html, s.status, nil
}

func TestWebpageToolUsesRenderer(t *testing.T) {
	r := &stubRenderer{html: "<p>rendered body</p>"}
	out, err := NewWebpageTool(WithRenderer(r)).Call(context.Background(), "https://example.com/ir")
	require.NoError(t, err)
	assert.Equal(t, "rendered body", out)
	assert.Equal(t, "https://example.com/ir", r.url)
}

func TestWebpageToolRendererStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"not found", http.StatusNotFound, "Failed to fetch https://example.com/gone: HTTP 404 Not Found"},
		{"unknown status", 0, "page body"},
		{"ok", http.StatusOK, "page body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRenderer{html: "<p>page body</p>", status: tt.status}
			out, err := NewWebpageTool(WithRenderer(r)).Call(context.Background(), "https://example.com/gone")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10)
	out := truncate(s, 5)
	assert.True(t, utf8.ValidString(out), out)
	assert.Equal(t, "éé\n\n[...truncated...]", out)
	assert.Equal(t, "abc", truncate("abc", 5))
}

func TestWebpageToolTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<p>"+strings.Repeat("a", 500)+"</p>")
	}))
	defer srv.Close()

	out, err := NewWebpageTool(WithMaxLength(100)).Call(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "[...truncated...]"))
}

type stubParser struct {
	content string
	err     error
	path    string
	data    []byte
}

func (s *stubParser) Parse(_ context.Context, path string) (string, error) {
	s.path = path
	s.data, _ = os.ReadFile(path)
	return s.content, s.err
}

func pdfServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPDFToolRemovesTempFile(t *testing.T) {
	srv := pdfServer(t, "%PDF-1.4 fake")
	dir := t.TempDir()
	parser := &stubParser{content: "Q3 transcript: margins expanded"}

	out, err := NewPDFTool(WithParser(parser), WithTempDir(dir)).Call(context.Background(), srv.URL+"/q3.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Q3 transcript: margins expanded", out)
	assert.Equal(t, "%PDF-1.4 fake", string(parser.data))

	_, statErr := os.Stat(parser.path)
	assert.True(t, os.IsNotExist(statErr), "temp file should be removed")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPDFToolRemovesTempFileOnParseError(t *testing.T) {
	srv := pdfServer(t, "%PDF")
	dir := t.TempDir()
	parser := &stubParser{err: errors.New("parse failed")}

	_, err := NewPDFTool(WithParser(parser), WithTempDir(dir)).Call(context.Background(), srv.URL)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPDFToolWithoutParser(t *testing.T) {
	out, err := NewPDFTool().Call(context.Background(), "https://example.com/a.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "API key")
}

func TestPDFToolDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	out, err := NewPDFTool(WithParser(&stubParser{})).Call(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Failed to download PDF: 403", out)
}

func TestPDFToolRejectsOversizedDownload(t *testing.T) {
	srv := pdfServer(t, strings.Repeat("x", 65))
	parser := &stubParser{content: "should not be parsed"}
	dir := t.TempDir()

	out, err := NewPDFTool(WithParser(parser), WithTempDir(dir), WithMaxPDFBytes(64)).Call(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "PDF too large: "+srv.URL+" exceeds 64 bytes", out)
	assert.Empty(t, parser.path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	srv = pdfServer(t, strings.Repeat("x", 64))
	parser = &stubParser{content: "parsed"}
	out, err = NewPDFTool(WithParser(parser), WithTempDir(dir), WithMaxPDFBytes(64)).Call(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "parsed", out)
	assert.Len(t, parser.data, 64)
}

func TestPDFToolEmptyParse(t *testing.T) {
	srv := pdfServer(t, "%PDF")
	out, err := NewPDFTool(WithParser(&stubParser{content: "  "}), WithTempDir(t.TempDir())).Call(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "No content parsed from PDF", out)
}

func TestBSEDirectURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://www.bseindia.com/stockinfo/AnnPdfOpen.aspx?Pname=https%3A%2F%2Fwww.bseindia.com%2Fxml-data%2Fa.pdf", "https://www.bseindia.com/xml-data/a.pdf", true},
		{"https://www.bseindia.com/view?Pname=https://cdn.example.com/b.pdf&x=1", "https://cdn.example.com/b.pdf", true},
		{"https://www.bseindia.com/view?Pname=relative.pdf", "", false},
		{"https://example.com/view?Pname=https://cdn.example.com/b.pdf", "", false},
	}
	for _, tt := range tests {
		got, ok := bseDirectURL(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLlamaParserUploadPollResult(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/parsing/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer llx-test", r.Header.Get("Authorization"))
		f, _, err := r.FormFile("file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			assert.Equal(t, "%PDF-1.7", string(data))
		}
		_, _ = io.WriteString(w, `{"id":"job-1","status":"PENDING"}`)
	})
	mux.HandleFunc("/api/parsing/job/job-1", func(w http.ResponseWriter, r *http.Request) {
		status := "PENDING"
		if polls.Add(1) >= 2 {
			status = "SUCCESS"
		}
		fmt.Fprintf(w, `{"id":"job-1","status":%q}`, status)
	})
	mux.HandleFunc("/api/parsing/job/job-1/result/markdown", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"markdown":"# Annual Report\nRevenue 1,200 Cr"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := t.TempDir() + "/doc.pdf"
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7"), 0o600))

	p := NewLlamaParser("llx-test", WithLlamaBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	out, err := p.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "# Annual Report\nRevenue 1,200 Cr", out)
	assert.Equal(t, int32(2), polls.Load())
}

func TestLlamaParserJobError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"job-2","status":"ERROR","error_message":"corrupt"}`)
	}))
	defer srv.Close()

	path := t.TempDir() + "/doc.pdf"
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := NewLlamaParser("k", WithLlamaBaseURL(srv.URL)).Parse(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestSearchToolFormatsOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search.json", r.URL.Path)
		assert.Equal(t, "google", r.URL.Query().Get("engine"))
		assert.Equal(t, "acme order book", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, `{"organic_results":[
			{"position":1,"title":"Acme Q3","link":"https://a.example","snippet":"Order book at record"},
			{"position":2,"title":"Acme news","link":"https://b.example"}
		]}`)
	}))
	defer srv.Close()

	s := NewSearchTool(WithSerpAPIKey("k"), WithSearchBaseURL(srv.URL))
	out, err := s.Call(context.Background(), "acme order book")
	require.NoError(t, err)
	assert.Equal(t, "1. Acme Q3\nhttps://a.example\nOrder book at record\n\n2. Acme news\nhttps://b.example", out)
}

func TestSearchToolWithoutKey(t *testing.T) {
	out, err := NewSearchTool().Call(context.Background(), "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "SerpAPI key")
}

func TestWordCountTool(t *testing.T) {
	out, err := WordCountTool{}.Call(context.Background(), "  one two\tthree\nfour ")
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestRegistrySpecsAndInvoke(t *testing.T) {
	r := DefaultRegistry(NewWebpageTool(), NewPDFTool(), NewSearchTool())
	assert.Equal(t, []string{CountWords, FetchWebpage, ParsePDF, WebSearch}, r.Names())

	specs, err := r.Specs(FetchWebpage, ParsePDF)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "url", specs[0].Parameter)
	assert.Equal(t, "pdf_url", specs[1].Parameter)

	_, err = r.Specs("crawl")
	require.Error(t, err)

	out, err := r.Invoke(context.Background(), CountWords, "a b c")
	require.NoError(t, err)
	assert.Equal(t, "3", out)

	_, err = r.Invoke(context.Background(), "missing", "")
	require.Error(t, err)
}

func TestRegistryInvokeAppliesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewRegistry(WithTimeout(20 * time.Millisecond))
	r.Register(NewWebpageTool())

	_, err := r.Invoke(context.Background(), FetchWebpage, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
