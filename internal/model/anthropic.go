// Package model adapts non-Gemini language models to the ADK model interface.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

// DefaultMaxTokens caps a single completion. Research answers with four
// sections routinely exceed the SDK examples' 1024.
const DefaultMaxTokens = 8192

// AnthropicModel implements adkmodel.LLM on top of the Messages API.
type AnthropicModel struct {
	client      anthropic.Client
	modelName   string
	maxTokens   int64
	requestOpts []option.RequestOption
}

// Option configures an AnthropicModel.
type Option func(*AnthropicModel)

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int64) Option {
	return func(m *AnthropicModel) {
		if n > 0 {
			m.maxTokens = n
		}
	}
}

// WithRequestOptions passes extra SDK options, such as a base URL or HTTP
// client, to the underlying client. They apply after the API key.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(m *AnthropicModel) {
		m.requestOpts = append(m.requestOpts, opts...)
	}
}

// NewAnthropicModel creates a model client. apiKey must not be empty.
func NewAnthropicModel(ctx context.Context, modelName, apiKey string, opts ...Option) (*AnthropicModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic model %q: API key is required", modelName)
	}
	m := &AnthropicModel{
		modelName: modelName,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.client = anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, m.requestOpts...)...)
	return m, nil
}

// Name returns the model name.
func (m *AnthropicModel) Name() string {
	return m.modelName
}

// GenerateContent implements adkmodel.LLM. Responses are never streamed:
// tool calls only arrive whole.
func (m *AnthropicModel) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		params, err := m.convertRequest(req)
		if err != nil {
			yield(nil, fmt.Errorf("convert request: %w", err))
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			yield(nil, fmt.Errorf("anthropic API error: %w", err))
			return
		}

		out := convertResponse(resp)
		slog.Debug("anthropic response",
			"model", m.modelName,
			"stop_reason", resp.StopReason,
			"parts", len(out.Content.Parts),
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens)
		yield(out, nil)
	}
}

// convertRequest converts an ADK LLMRequest to Anthropic message params.
func (m *AnthropicModel) convertRequest(req *adkmodel.LLMRequest) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	if req.Config != nil && req.Config.SystemInstruction != nil {
		system = appendText(system, req.Config.SystemInstruction)
	}

	var messages []anthropic.MessageParam
	for _, content := range req.Contents {
		if content.Role == "system" {
			system = appendText(system, content)
			continue
		}
		msg, err := convertContent(content)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		Messages:  messages,
		MaxTokens: m.maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*cfg.Temperature))
		}
		if cfg.MaxOutputTokens != 0 {
			params.MaxTokens = int64(cfg.MaxOutputTokens)
		}
		if cfg.TopP != nil {
			params.TopP = anthropic.Float(float64(*cfg.TopP))
		}
	}
	return params, nil
}

func appendText(dst []anthropic.TextBlockParam, content *genai.Content) []anthropic.TextBlockParam {
	for _, part := range content.Parts {
		if part.Text != "" {
			dst = append(dst, anthropic.TextBlockParam{Text: part.Text})
		}
	}
	return dst
}

// convertContent converts a genai.Content to an Anthropic MessageParam.
func convertContent(content *genai.Content) (anthropic.MessageParam, error) {
	var blocks []anthropic.ContentBlockParamUnion

	for _, part := range content.Parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))

		case part.FunctionCall != nil:
			blocks = append(blocks, anthropic.NewToolUseBlock(
				part.FunctionCall.ID,
				part.FunctionCall.Args,
				part.FunctionCall.Name,
			))

		case part.FunctionResponse != nil:
			resultJSON, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				return anthropic.MessageParam{}, err
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(
				part.FunctionResponse.ID,
				string(resultJSON),
				isErrorResponse(part.FunctionResponse.Response),
			))
		}
	}

	if content.Role == "model" || content.Role == "assistant" {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

// isErrorResponse reports whether a tool reported failure in its payload.
func isErrorResponse(resp map[string]any) bool {
	msg, ok := resp["error"].(string)
	return ok && msg != ""
}

type declarationProvider interface {
	Declaration() *genai.FunctionDeclaration
}

type describer interface {
	Description() string
}

// convertTools converts ADK tools to Anthropic tool definitions, sorted by
// name so requests are stable.
func convertTools(tools map[string]any) ([]anthropic.ToolUnionParam, error) {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []anthropic.ToolUnionParam
	for _, name := range names {
		var description string
		var parameters *genai.Schema

		switch def := tools[name].(type) {
		case *genai.FunctionDeclaration:
			description = def.Description
			parameters = def.Parameters
		case declarationProvider:
			if decl := def.Declaration(); decl != nil {
				description = decl.Description
				parameters = decl.Parameters
			}
		}
		if d, ok := tools[name].(describer); ok && description == "" {
			description = d.Description()
		}
		if description == "" && parameters == nil {
			slog.Warn("skipping tool without declaration", "tool", name, "type", fmt.Sprintf("%T", tools[name]))
			continue
		}

		inputSchema := anthropic.ToolInputSchemaParam{}
		if parameters != nil {
			schemaBytes, err := json.Marshal(parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", name, err)
			}
			var schema struct {
				Properties map[string]any `json:"properties"`
				Required   []string       `json:"required"`
			}
			if err := json.Unmarshal(schemaBytes, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: %w", name, err)
			}
			if schema.Properties != nil {
				inputSchema.Properties = schema.Properties
			}
			inputSchema.Required = schema.Required
		}

		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        name,
				Description: anthropic.String(description),
				InputSchema: inputSchema,
			},
		})
	}
	return result, nil
}

// convertResponse converts an Anthropic response to an ADK LLMResponse.
func convertResponse(resp *anthropic.Message) *adkmodel.LLMResponse {
	var parts []*genai.Part

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, &genai.Part{Text: block.Text})

		case "tool_use":
			args := make(map[string]any)
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					slog.Warn("malformed tool input", "tool", block.Name, "err", err)
				}
			}
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: args,
				},
			})
		}
	}

	var finishReason genai.FinishReason
	turnComplete := true
	switch resp.StopReason {
	case "end_turn", "stop_sequence":
		finishReason = genai.FinishReasonStop
	case "tool_use":
		// The runner still has to execute the tools.
		finishReason = genai.FinishReasonStop
		turnComplete = false
	case "max_tokens":
		finishReason = genai.FinishReasonMaxTokens
	}

	return &adkmodel.LLMResponse{
		Content: &genai.Content{
			Role:  "model",
			Parts: parts,
		},
		FinishReason: finishReason,
		TurnComplete: turnComplete,
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     int32(resp.Usage.InputTokens),
			CandidatesTokenCount: int32(resp.Usage.OutputTokens),
			TotalTokenCount:      int32(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}
