package adapter

import (
	"encoding/json"

	"github.com/zen-systems/stockbrief/pkg/artifact"
)

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// CallReport captures adapter call metadata.
type CallReport struct {
	Stage   string `json:"stage"`
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	Retries int    `json:"retries"`
	Error   string `json:"error,omitempty"`
}

// Response wraps an adapter output, requested tool calls and optional usage data.
type Response struct {
	Artifact   *artifact.Artifact
	ToolCalls  []ToolCall
	Reasoning  string
	StopReason string
	Usage      *Usage
}

// Text returns the generated text or "" when there is none.
func (r *Response) Text() string {
	if r == nil || r.Artifact == nil {
		return ""
	}
	return r.Artifact.Content
}

// WantsTools reports whether the model asked for at least one tool call.
func (r *Response) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// toolInputSchema is the JSON schema every tool shares: one required string.
func toolInputSchema(spec ToolSpec) map[string]any {
	param := spec.Parameter
	if param == "" {
		param = "input"
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			param: map[string]any{
				"type":        "string",
				"description": spec.ParamDoc,
			},
		},
		"required": []string{param},
	}
}

// argumentFromJSON pulls the single string argument out of a tool-call
// payload. Unknown shapes fall back to the raw payload.
func argumentFromJSON(raw []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return string(raw)
	}
	return argumentFromMap(fields, string(raw))
}

func argumentFromMap(fields map[string]any, fallback string) string {
	if len(fields) == 1 {
		for _, v := range fields {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	for _, key := range []string{"url", "pdf_url", "query", "text", "input"} {
		if s, ok := fields[key].(string); ok {
			return s
		}
	}
	return fallback
}

func argumentJSON(spec ToolSpec, value string) []byte {
	param := spec.Parameter
	if param == "" {
		param = "input"
	}
	data, _ := json.Marshal(map[string]string{param: value})
	return data
}

func specFor(specs []ToolSpec, name string) ToolSpec {
	for _, s := range specs {
		if s.Name == name {
			return s
		}
	}
	return ToolSpec{Name: name}
}
