// Package tools provides the external capabilities the research agent can
// invoke: web page fetch, PDF parsing, web search and word counting.
//
// Every tool takes one string argument. Expected failures (bad status codes,
// empty content, missing credentials) come back as descriptive text so the
// model can read them; only unexpected failures are returned as errors.
package tools

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/zen-systems/stockbrief/pkg/adapter"
	"go.uber.org/zap"
)

// Canonical tool names.
const (
	FetchWebpage = "fetch_webpage"
	ParsePDF     = "parse_pdf"
	WebSearch    = "web_search"
	CountWords   = "count_words"
)

// Tool is an external capability invoked with a single string argument.
type Tool interface {
	Spec() adapter.ToolSpec
	Call(ctx context.Context, arg string) (string, error)
}

// Registry holds the tools available to a run.
type Registry struct {
	tools   map[string]Tool
	timeout time.Duration
	logger  *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTimeout bounds every tool call.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		timeout: 60 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Spec().Name] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns specs for the named tools, or for all tools when names is empty.
func (r *Registry) Specs(names ...string) ([]adapter.ToolSpec, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	specs := make([]adapter.ToolSpec, 0, len(names))
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool %s not registered", name)
		}
		specs = append(specs, tool.Spec())
	}
	return specs, nil
}

// Invoke runs a tool under the registry timeout.
func (r *Registry) Invoke(ctx context.Context, name, arg string) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("tool %s not registered", name)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := tool.Call(ctx, arg)
	if err != nil {
		r.logger.Warn("tool call failed", zap.String("tool", name), zap.String("arg", arg), zap.Error(err))
		return "", fmt.Errorf("%s: %w", name, err)
	}
	r.logger.Info("tool call complete",
		zap.String("tool", name),
		zap.Int("chars", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// DefaultRegistry wires the standard tool set.
func DefaultRegistry(web *WebpageTool, pdf *PDFTool, search *SearchTool, opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	r.Register(web)
	r.Register(pdf)
	r.Register(search)
	r.Register(WordCountTool{})
	return r
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[...truncated...]"
}
