package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements LLMProvider on the Chat Completions API. It also
// serves OpenAI-compatible endpoints when given a base URL.
type OpenAIProvider struct {
	client openai.Client
	name   string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	return newOpenAICompatible(NameOpenAI, apiKey, opts...)
}

func newOpenAICompatible(name, apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries belong to the fallback executor
		option.WithMaxRetries(0),
	}
	return &OpenAIProvider{
		client: openai.NewClient(append(base, opts...)...),
		name:   name,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Call makes a blocking chat completion call
func (p *OpenAIProvider) Call(ctx context.Context, request Request) (*Response, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.name)
	}

	resp := p.toResponse(completion.Choices[0].Message, string(completion.Choices[0].FinishReason), request.Model)
	resp.Usage = Usage{
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}
	return resp, nil
}

// Stream makes a streaming chat completion call
func (p *OpenAIProvider) Stream(ctx context.Context, request Request, onDelta DeltaFunc) (*Response, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" && onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%s streaming completion: %w", p.name, err)
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("%s stream returned no choices", p.name)
	}

	resp := p.toResponse(acc.Choices[0].Message, string(acc.Choices[0].FinishReason), request.Model)
	resp.Usage = Usage{
		PromptTokens:     int(acc.Usage.PromptTokens),
		CompletionTokens: int(acc.Usage.CompletionTokens),
	}
	return resp, nil
}

func (p *OpenAIProvider) buildParams(request Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(request.Messages)+1)
	if request.System != "" {
		messages = append(messages, openai.SystemMessage(request.System))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}
	if request.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(request.ReasoningEffort)
	}

	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, t := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

func (p *OpenAIProvider) toResponse(msg openai.ChatCompletionMessage, finish, model string) *Response {
	resp := &Response{
		Text:         msg.Content,
		FinishReason: finish,
		Provider:     p.name,
		Model:        model,
	}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		// some compatible endpoints omit call ids
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp
}
