package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/zen-systems/stockbrief/pkg/artifact"
)

// MockAdapter returns deterministic responses for local runs and tests.
//
// Resolution order for each call: a queued scripted response, then a
// response keyed by the request's system prompt, then the default echo.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	script          []ScriptedReply
	defaultResponse string
	requests        []*Request
	Usage           *Usage
}

// ScriptedReply is one queued mock reply.
type ScriptedReply struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with responses keyed by system prompt.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// Enqueue appends scripted replies consumed in FIFO order.
func (a *MockAdapter) Enqueue(replies ...ScriptedReply) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script = append(a.script, replies...)
	return a
}

// Requests returns the requests received so far.
func (a *MockAdapter) Requests() []*Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns a deterministic response for the request.
func (a *MockAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = "mock-1"
	}

	a.mu.Lock()
	a.requests = append(a.requests, cloneRequest(req))
	var next *ScriptedReply
	if len(a.script) > 0 {
		next = &a.script[0]
		a.script = a.script[1:]
	}
	a.mu.Unlock()

	if next != nil {
		if next.Err != nil {
			return nil, next.Err
		}
		return &Response{
			Artifact:  artifact.New(next.Text, a.Name(), model),
			ToolCalls: next.ToolCalls,
			Usage:     a.Usage,
		}, nil
	}

	if response, ok := a.responses[req.System]; ok {
		return &Response{Artifact: artifact.New(response, a.Name(), model), Usage: a.Usage}, nil
	}

	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	content := fmt.Sprintf("%s\n%s", a.defaultResponse, last)
	return &Response{Artifact: artifact.New(content, a.Name(), model), Usage: a.Usage}, nil
}

func cloneRequest(req *Request) *Request {
	out := *req
	out.Messages = append([]Message(nil), req.Messages...)
	out.Tools = append([]ToolSpec(nil), req.Tools...)
	return &out
}
