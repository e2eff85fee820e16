package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", &AdapterError{Status: 429}, true},
		{"server error", fmt.Errorf("wrap: %w", &AdapterError{Status: 503}), true},
		{"bad request", &AdapterError{Status: 400}, false},
		{"temporary flag", &AdapterError{Temporary: true}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestArgumentFromJSON(t *testing.T) {
	assert.Equal(t, "https://example.com", argumentFromJSON([]byte(`{"url":"https://example.com"}`)))
	assert.Equal(t, "acme", argumentFromJSON([]byte(`{"query":"acme","limit":3}`)))
	assert.Equal(t, "not json", argumentFromJSON([]byte("not json")))
}

func TestMockAdapterScriptThenKeyedThenDefault(t *testing.T) {
	mock := NewMockAdapterWithResponses(map[string]string{"sys": "keyed"}, "default")
	mock.Enqueue(ScriptedReply{ToolCalls: []ToolCall{{ID: "1", Name: "fetch_webpage", Argument: "u"}}})

	ctx := context.Background()
	first, err := mock.Generate(ctx, &Request{System: "sys"})
	require.NoError(t, err)
	assert.True(t, first.WantsTools())

	second, err := mock.Generate(ctx, &Request{System: "sys"})
	require.NoError(t, err)
	assert.Equal(t, "keyed", second.Text())

	third, err := mock.Generate(ctx, &Request{System: "other", Messages: []Message{UserText("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "default\nhi", third.Text())

	assert.Len(t, mock.Requests(), 3)
}

type fakeInvoker struct {
	body     []byte
	response string
	err      error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.body = in.Body
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.response)}, nil
}

func TestBedrockAdapterEncodesToolsAndDecodesToolUse(t *testing.T) {
	invoker := &fakeInvoker{response: `{
		"content": [
			{"type": "text", "text": "fetching"},
			{"type": "tool_use", "id": "tu_1", "name": "parse_pdf", "input": {"pdf_url": "https://x/q3.pdf"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`}
	a := NewBedrockAdapterWithClient(invoker)

	specs := []ToolSpec{
		{Name: "fetch_webpage", Parameter: "url"},
		{Name: "parse_pdf", Parameter: "pdf_url"},
	}
	call1 := ToolCall{ID: "a", Name: "fetch_webpage", Argument: "https://x"}
	call2 := ToolCall{ID: "b", Name: "parse_pdf", Argument: "https://x/q3.pdf"}
	resp, err := a.Generate(context.Background(), &Request{
		System: "collect",
		Tools:  specs,
		Messages: []Message{
			UserText("research"),
			{Role: RoleAssistant, ToolCalls: []ToolCall{call1, call2}},
			ToolTurn(call1, "page", false),
			ToolTurn(call2, "doc", false),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "fetching", resp.Text())
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "https://x/q3.pdf", resp.ToolCalls[0].Argument)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	var sent bedrockRequest
	require.NoError(t, json.Unmarshal(invoker.body, &sent))
	assert.Equal(t, bedrockAnthropicVersion, sent.AnthropicVersion)
	require.Len(t, sent.Tools, 2)
	require.Len(t, sent.Messages, 3, "tool results must share one user message")
	assert.Len(t, sent.Messages[2].Content, 2)
	assert.Equal(t, "tool_result", sent.Messages[2].Content[0].Type)
	assert.JSONEq(t, `{"url":"https://x"}`, string(sent.Messages[1].Content[0].Input))
}

func TestDeepSeekAdapterMapsStatusToAdapterError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "overloaded")
	}))
	defer srv.Close()

	a, err := NewDeepSeekAdapterWithBaseURL("key", srv.URL)
	require.NoError(t, err)

	_, err = a.Generate(context.Background(), &Request{Messages: []Message{UserText("hi")}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestDeepSeekAdapterDecodesToolCalls(t *testing.T) {
	var got deepseekRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"acme\"}"}}]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	a, err := NewDeepSeekAdapterWithBaseURL("key", srv.URL)
	require.NoError(t, err)

	resp, err := a.Generate(context.Background(), &Request{
		System:   "sys",
		Tools:    []ToolSpec{{Name: "web_search", Parameter: "query"}},
		Messages: []Message{UserText("find acme")},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "acme", resp.ToolCalls[0].Argument)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
}
