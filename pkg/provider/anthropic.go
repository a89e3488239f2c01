package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(append(base, opts...)...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return NameAnthropic
}

// Call makes a blocking Messages API call
func (p *AnthropicProvider) Call(ctx context.Context, request Request) (*Response, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}
	return p.toResponse(message, request.Model)
}

// Stream makes a streaming Messages API call
func (p *AnthropicProvider) Stream(ctx context.Context, request Request, onDelta DeltaFunc) (*Response, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}

		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && onDelta != nil {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic streaming messages: %w", err)
	}

	return p.toResponse(&message, request.Model)
}

func (p *AnthropicProvider) buildParams(request Request) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(request.Messages))
	system := request.System

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleSystem:
			// the Messages API takes a single system prompt
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError)
			// consecutive tool results share one user turn
			if n := len(messages); n > 0 && messages[n-1].Role == anthropic.MessageParamRoleUser && isToolResultTurn(messages[n-1]) {
				messages[n-1].Content = append(messages[n-1].Content, block)
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(block))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, t := range request.Tools {
			tool := anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Parameters["properties"],
				},
			}
			if required, ok := t.Parameters["required"].([]string); ok {
				tool.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
		}
		params.Tools = tools
	}

	return params, nil
}

func isToolResultTurn(m anthropic.MessageParam) bool {
	for _, block := range m.Content {
		if block.OfToolResult == nil {
			return false
		}
	}
	return len(m.Content) > 0
}

func (p *AnthropicProvider) toResponse(message *anthropic.Message, model string) (*Response, error) {
	resp := &Response{
		FinishReason: string(message.StopReason),
		Provider:     NameAnthropic,
		Model:        model,
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		},
	}

	// union fields are read directly, streamed blocks carry no raw JSON
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			if !json.Valid(input) {
				return nil, fmt.Errorf("anthropic returned malformed tool input for %s", block.Name)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: append(json.RawMessage(nil), input...),
			})
		}
	}
	return resp, nil
}

func anthropicBaseURL(u string) option.RequestOption {
	return option.WithBaseURL(u)
}
