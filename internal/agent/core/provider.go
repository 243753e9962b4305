package core

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/mohammad-safakhou/tably/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// ModelTurn is one completed model inference round: the streamed text plus
// any structured tool requests the model finished the round with.
type ModelTurn struct {
	Content      string
	ToolCalls    []ToolInvocation
	InputTokens  int64
	OutputTokens int64
	FinishReason string
}

// LLMProvider abstracts "generate the next turn given conversation + tools".
type LLMProvider interface {
	// StreamTurn runs one model round. onDelta is invoked for each text
	// fragment in arrival order; an error from onDelta aborts the round.
	StreamTurn(ctx context.Context, model string, turns []Turn, tools []openai.ChatCompletionToolParam, onDelta func(string) error) (ModelTurn, error)
	CalculateCost(model string, inputTokens, outputTokens int64) float64
}

// NewLLMProvider builds the configured provider.
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	for name, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			if p.APIKey == "" {
				return nil, fmt.Errorf("llm provider %s: api_key not configured", name)
			}
			opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
			if p.BaseURL != "" {
				opts = append(opts, option.WithBaseURL(p.BaseURL))
			}
			if p.Timeout > 0 {
				opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: p.Timeout}))
			}
			return &OpenAIProvider{
				client: openai.NewClient(opts...),
				models: p.Models,
				logger: log.New(log.Writer(), "[LLM] ", log.LstdFlags),
			}, nil
		}
	}
	return nil, fmt.Errorf("no supported llm provider configured")
}

// ToolDef builds one OpenAI tool definition from a name, description and
// JSON-schema parameter object.
func ToolDef(name, description string, parameters openai.FunctionParameters) openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Function: openai.FunctionDefinitionParam{
			Name:        name,
			Description: param.NewOpt(description),
			Parameters:  parameters,
		},
	}
}

// OpenAIProvider streams chat completions from the OpenAI API.
type OpenAIProvider struct {
	client openai.Client
	models map[string]config.LLMModel
	logger *log.Logger
}

func (p *OpenAIProvider) StreamTurn(ctx context.Context, model string, turns []Turn, tools []openai.ChatCompletionToolParam, onDelta func(string) error) (ModelTurn, error) {
	msgs, err := convTurns(turns)
	if err != nil {
		return ModelTurn{}, err
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    model,
		Tools:    tools,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if mc, ok := p.models[model]; ok {
		if mc.APIName != "" {
			params.Model = mc.APIName
		}
		if mc.MaxTokens > 0 {
			params.MaxCompletionTokens = param.NewOpt(int64(mc.MaxTokens))
		}
		if mc.Temperature > 0 {
			params.Temperature = param.NewOpt(mc.Temperature)
		}
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var mt ModelTurn
	var running *openai.ChatCompletionChunkChoiceDeltaToolCall
	commit := func() {
		if running == nil {
			return
		}
		mt.ToolCalls = append(mt.ToolCalls, ToolInvocation{
			ID:        running.ID,
			Name:      running.Function.Name,
			Arguments: running.Function.Arguments,
		})
		running = nil
	}

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			mt.InputTokens = chunk.Usage.PromptTokens
			mt.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if s := choice.Delta.Content; s != "" {
			mt.Content += s
			if onDelta != nil {
				if err := onDelta(s); err != nil {
					return mt, err
				}
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			t := tc
			switch {
			case running == nil:
				if t.ID != "" || t.Function.Name != "" {
					running = &t
				}
			case t.ID == "" || t.ID == running.ID:
				running.Function.Name += t.Function.Name
				running.Function.Arguments += t.Function.Arguments
			default:
				commit()
				running = &t
			}
		}
		if choice.FinishReason != "" {
			mt.FinishReason = choice.FinishReason
		}
	}
	if err := stream.Err(); err != nil {
		return mt, fmt.Errorf("openai stream: %w", err)
	}
	commit()
	return mt, nil
}

// CalculateCost prices a round from the per-model config rates.
func (p *OpenAIProvider) CalculateCost(model string, inputTokens, outputTokens int64) float64 {
	mc, ok := p.models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*mc.CostPer1K + float64(outputTokens)/1000*mc.CostPer1KOutput
}

func convTurns(turns []Turn) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(t.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(t.Content))
		case RoleAssistant:
			if len(t.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(t.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(t.ToolCalls))
			for _, c := range t.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: c.Arguments,
					},
				})
			}
			msg := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if t.Content != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: param.NewOpt(t.Content),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case RoleTool:
			out = append(out, openai.ToolMessage(t.Content, t.ToolCallID))
		default:
			return nil, fmt.Errorf("unsupported turn role %q", t.Role)
		}
	}
	return out, nil
}
