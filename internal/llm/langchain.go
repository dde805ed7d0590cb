package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/Morlock52/psscript-sub005/internal/config"
	"github.com/Morlock52/psscript-sub005/internal/types"
)

// LangChainProvider adapts a langchaingo model to the Provider interface.
type LangChainProvider struct {
	name  string
	model llms.Model
}

// NewProvider constructs the configured provider backend.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, types.WrapError(types.MODEL_PROVIDER_ERROR, "failed to initialize openai provider", err)
		}
		return &LangChainProvider{name: "openai", model: model}, nil

	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		model, err := anthropic.New(opts...)
		if err != nil {
			return nil, types.WrapError(types.MODEL_PROVIDER_ERROR, "failed to initialize anthropic provider", err)
		}
		return &LangChainProvider{name: "anthropic", model: model}, nil

	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, types.WrapError(types.MODEL_PROVIDER_ERROR, "failed to initialize ollama provider", err)
		}
		return &LangChainProvider{name: "ollama", model: model}, nil

	default:
		return nil, types.NewError(types.MODEL_PROVIDER_ERROR, fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// NewLangChainProvider wraps an existing langchaingo model. Used by tests to
// substitute fakes without touching provider construction.
func NewLangChainProvider(name string, model llms.Model) *LangChainProvider {
	return &LangChainProvider{name: name, model: model}
}

// Name returns the provider name.
func (p *LangChainProvider) Name() string {
	return p.name
}

// Complete sends a completion request without tool definitions.
func (p *LangChainProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return p.complete(ctx, req, nil)
}

// CompleteWithTools sends a completion request with tool definitions.
func (p *LangChainProvider) CompleteWithTools(ctx context.Context, req CompletionRequest, tools []ToolDef) (*CompletionResponse, error) {
	return p.complete(ctx, req, tools)
}

func (p *LangChainProvider) complete(ctx context.Context, req CompletionRequest, tools []ToolDef) (*CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "invalid completion request", err)
	}

	messages, err := toLangChainMessages(req.Messages)
	if err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "failed to convert messages", err)
	}

	opts := []llms.CallOption{}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if len(tools) > 0 {
		lcTools, err := toLangChainTools(tools)
		if err != nil {
			return nil, types.WrapError(types.VALIDATION_FAILED, "failed to convert tool definitions", err)
		}
		opts = append(opts, llms.WithTools(lcTools))
	}

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, types.WrapError(types.MODEL_PROVIDER_ERROR, "completion request failed", err)
	}

	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.MODEL_RESPONSE_INVALID, "provider returned no choices")
	}

	return fromContentChoice(req.Model, resp.Choices[0]), nil
}

// Health reports provider reachability. Providers do not expose a cheap ping,
// so health reflects successful construction only.
func (p *LangChainProvider) Health(ctx context.Context) types.HealthStatus {
	if p.model == nil {
		return types.Unhealthy("provider not initialized")
	}
	return types.Healthy(fmt.Sprintf("%s provider ready", p.name))
}

// toLangChainMessages converts transcript messages into langchaingo content.
func toLangChainMessages(messages []Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))

		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))

		case RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if msg.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextPart(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, mc)

		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: msg.ToolCallID,
						Name:       msg.ToolName,
						Content:    msg.Content,
					},
				},
			})

		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	return out, nil
}

// toLangChainTools converts tool definitions into langchaingo tool specs.
// Parameters round-trip through JSON so the provider sees a plain map.
func toLangChainTools(tools []ToolDef) ([]llms.Tool, error) {
	out := make([]llms.Tool, 0, len(tools))

	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return nil, err
		}

		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %q: marshal parameters: %w", t.Name, err)
		}
		var params map[string]any
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("tool %q: decode parameters: %w", t.Name, err)
		}

		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	return out, nil
}

// fromContentChoice converts a langchaingo choice into a CompletionResponse.
func fromContentChoice(model string, choice *llms.ContentChoice) *CompletionResponse {
	resp := &CompletionResponse{
		Model:        model,
		Content:      choice.Content,
		FinishReason: FinishReasonStop,
	}

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}

	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = FinishReasonToolCalls
	} else if choice.StopReason == "length" || choice.StopReason == "max_tokens" {
		resp.FinishReason = FinishReasonLength
	}

	return resp
}
