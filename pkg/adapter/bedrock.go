package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/zen-systems/stockbrief/pkg/artifact"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockInvoker is the slice of the Bedrock runtime client the adapter uses.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockAdapter calls Claude models hosted on AWS Bedrock through
// InvokeModel with the Anthropic messages body.
type BedrockAdapter struct {
	client BedrockInvoker
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
	Temperature      float64          `json:"temperature"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
}

type bedrockTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []bedrockBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewBedrockAdapter loads the default AWS configuration for region.
func NewBedrockAdapter(ctx context.Context, region string) (*BedrockAdapter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBedrockAdapterWithClient(bedrockruntime.NewFromConfig(cfg)), nil
}

// NewBedrockAdapterWithClient wraps an existing invoker.
func NewBedrockAdapterWithClient(client BedrockInvoker) *BedrockAdapter {
	return &BedrockAdapter{client: client}
}

// Name returns the adapter identifier.
func (a *BedrockAdapter) Name() string {
	return "bedrock"
}

// Models returns the Bedrock model IDs known to work with the messages body.
func (a *BedrockAdapter) Models() []string {
	return []string{
		"us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		"anthropic.claude-3-5-sonnet-20241022-v2:0",
	}
}

// Generate invokes the model and decodes text and tool_use blocks.
func (a *BedrockAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.Models()[0]
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokens,
		System:           req.System,
		Messages:         toBedrockMessages(req.Messages, req.Tools),
		Temperature:      req.Temperature,
	}
	for _, spec := range req.Tools {
		body.Tools = append(body.Tools, bedrockTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: toolInputSchema(spec),
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        data,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			return nil, &AdapterError{Provider: a.Name(), Status: respErr.HTTPStatusCode(), Err: err}
		}
		return nil, fmt.Errorf("failed to invoke bedrock model: %w", err)
	}

	var apiResp bedrockResponse
	if err := json.Unmarshal(out.Body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bedrock response: %w", err)
	}

	resp := &Response{StopReason: apiResp.StopReason}
	var content string
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "thinking":
			resp.Reasoning += block.Thinking
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:       block.ID,
				Name:     block.Name,
				Argument: argumentFromJSON(block.Input),
			})
		}
	}
	resp.Artifact = artifact.New(content, a.Name(), model)
	if apiResp.Usage != nil {
		resp.Usage = &Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}
	return resp, nil
}

func toBedrockMessages(messages []Message, specs []ToolSpec) []bedrockMessage {
	var out []bedrockMessage
	pendingResults := false
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			var blocks []bedrockBlock
			if msg.Content != "" {
				blocks = append(blocks, bedrockBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, bedrockBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: argumentJSON(specFor(specs, call.Name), call.Argument),
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, bedrockMessage{Role: "assistant", Content: blocks})
			pendingResults = false
		case RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			block := bedrockBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolResult.CallID,
				Content:   msg.ToolResult.Content,
				IsError:   msg.ToolResult.IsError,
			}
			if pendingResults && len(out) > 0 {
				out[len(out)-1].Content = append(out[len(out)-1].Content, block)
				continue
			}
			out = append(out, bedrockMessage{Role: "user", Content: []bedrockBlock{block}})
			pendingResults = true
		default:
			out = append(out, bedrockMessage{Role: "user", Content: []bedrockBlock{{Type: "text", Text: msg.Content}}})
			pendingResults = false
		}
	}
	return out
}
