// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Generate implements unified streaming / non-streaming generation.
// It adapts the Anthropic Messages API (with function/tool calling) into model.Response events.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		messages := m.buildMessages(req.Turns)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    messages,
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}

		if systemBlocks := m.buildSystemBlocks(req); len(systemBlocks) > 0 {
			params.System = systemBlocks
		}

		if len(req.Tools) > 0 {
			params.Tools = m.buildTools(req.Tools)
		}

		if req.Stream {
			// TODO: stream via Messages.NewStreaming once tool_use delta
			// accumulation is in place.
			errCh <- fmt.Errorf("streaming not yet implemented for Anthropic model")
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var parts []core.Part
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				textBlock := block.AsText()
				if textBlock.Text != "" {
					parts = append(parts, core.TextPart{Text: textBlock.Text})
				}
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := ""
				if toolBlock.Input != nil {
					if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
						args = string(argsBytes)
					}
				}
				parts = append(parts, core.FunctionCallPart{
					FunctionCall: core.FunctionCall{
						ID:        toolBlock.ID,
						Name:      toolBlock.Name,
						Arguments: args,
					},
				})
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}

		out <- model.Response{
			Partial:      false,
			Parts:        parts,
			FinishReason: finishReason,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

// buildSystemBlocks merges the request instructions with any explicit system
// turns into Anthropic system blocks.
func (m *Model) buildSystemBlocks(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, t := range req.Turns {
		if t.Role != core.RoleSystem {
			continue
		}
		if text := t.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

// buildMessages converts normalized turns to the Anthropic message format.
// Tool responses are embedded as tool_result blocks inside user messages, as
// the Messages API expects.
func (m *Model) buildMessages(turns []core.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, t := range turns {
		switch t.Role {
		case core.RoleSystem:
			// Handled separately via system blocks.
		case core.RoleUser:
			content := m.buildUserContent(t.Parts)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		case core.RoleAssistant:
			content := m.buildAssistantContent(t.Parts)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case core.RoleTool:
			content := m.buildToolResultContent(t.Parts)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		}
	}

	return messages
}

// buildUserContent converts user parts into content blocks.
func (m *Model) buildUserContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
			content = append(content, anthropic.NewTextBlock(tp.Text))
		}
	}
	return content
}

// buildAssistantContent converts assistant parts (text + tool use) into content blocks.
func (m *Model) buildAssistantContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch v := p.(type) {
		case core.TextPart:
			if v.Text != "" {
				content = append(content, anthropic.NewTextBlock(v.Text))
			}
		case core.FunctionCallPart:
			var input any
			if v.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(v.FunctionCall.Arguments), &input); err != nil {
					input = map[string]any{}
				}
			} else {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(v.FunctionCall.ID, input, v.FunctionCall.Name))
		}
	}
	return content
}

// buildToolResultContent converts function responses into tool_result blocks.
func (m *Model) buildToolResultContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		fr, ok := p.(core.FunctionResponsePart)
		if !ok || fr.FunctionResponse.ID == "" {
			continue
		}
		text := fr.FunctionResponse.Error
		isError := text != ""
		if !isError {
			if s, ok := fr.FunctionResponse.Response.(string); ok {
				text = s
			} else {
				text = fmt.Sprintf("%v", fr.FunctionResponse.Response)
			}
		}
		content = append(content, anthropic.NewToolResultBlock(fr.FunctionResponse.ID, text, isError))
	}
	return content
}

// buildTools converts normalized tool definitions into Anthropic tool params.
func (m *Model) buildTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, tdef := range defs {
		properties := any(map[string]any{})
		var required []string
		if tdef.Function.Parameters != nil {
			if props, ok := tdef.Function.Parameters["properties"]; ok {
				properties = props
			}
			if req, ok := tdef.Function.Parameters["required"].([]string); ok {
				required = req
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tdef.Function.Name,
				Description: anthropic.String(tdef.Function.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return tools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
