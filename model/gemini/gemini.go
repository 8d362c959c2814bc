// Package gemini provides a model wrapper for the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/model"
)

// DefaultModel is the Gemini model id used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Options configures the Gemini model adapter.
type Options struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int32
	APIKey          string
}

// Model wraps the Gemini generate-content API behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a new Gemini model using the official genai client.
// Unlike the other backends, client construction can fail (it validates
// credentials and backend selection), so an error is returned.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := defaultOptions(optFns...)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &Model{client: client, opts: opts}, nil
}

// NewModelFromClient creates a new Gemini model from an existing client
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns...)}
}

func defaultOptions(optFns ...func(o *Options)) Options {
	opts := Options{
		Model:           DefaultModel,
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Generate implements unified streaming / non-streaming generation.
// It adapts Gemini generate-content responses (with function calling) into model.Response events.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		contents := buildContents(req.Turns)
		config := m.buildConfig(req)

		if req.Stream {
			m.handleStreaming(ctx, contents, config, out, errCh)
			return
		}
		m.handleNonStreaming(ctx, contents, config, out, errCh)
	}()

	return out, errCh
}

// buildConfig assembles the generation config including system instruction and tools.
func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	temp := float32(m.opts.Temperature)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: m.opts.MaxOutputTokens,
		Temperature:     &temp,
		Tools:           buildTools(req.Tools),
	}

	instructions := req.Instructions
	for _, t := range req.Turns {
		if t.Role != core.RoleSystem {
			continue
		}
		if text := t.Text(); text != "" {
			if instructions != "" {
				instructions += "\n\n"
			}
			instructions += text
		}
	}
	if instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instructions}},
		}
	}

	return config
}

// buildContents converts normalized turns into genai contents. Tool response
// turns become function_response parts with user role, matching the API's
// expected shape for function calling.
func buildContents(turns []core.Turn) []*genai.Content {
	var contents []*genai.Content
	for _, t := range turns {
		switch t.Role {
		case core.RoleSystem:
			// Carried via the system instruction.
		case core.RoleUser:
			if parts := buildParts(t.Parts); len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "user", Parts: parts})
			}
		case core.RoleAssistant:
			if parts := buildParts(t.Parts); len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case core.RoleTool:
			for _, p := range t.Parts {
				fr, ok := p.(core.FunctionResponsePart)
				if !ok {
					continue
				}
				contents = append(contents, &genai.Content{
					Role: "user",
					Parts: []*genai.Part{{
						FunctionResponse: &genai.FunctionResponse{
							ID:       fr.FunctionResponse.ID,
							Name:     fr.FunctionResponse.Name,
							Response: responseMap(fr.FunctionResponse),
						},
					}},
				})
			}
		}
	}
	return contents
}

func responseMap(fr core.FunctionResponse) map[string]any {
	if fr.Error != "" {
		return map[string]any{"error": fr.Error}
	}
	return map[string]any{"output": fr.Response}
}

func buildParts(parts []core.Part) []*genai.Part {
	var result []*genai.Part
	for _, p := range parts {
		switch v := p.(type) {
		case core.TextPart:
			if v.Text != "" {
				result = append(result, &genai.Part{Text: v.Text})
			}
		case core.FunctionCallPart:
			var args map[string]any
			if v.FunctionCall.Arguments != "" {
				_ = json.Unmarshal([]byte(v.FunctionCall.Arguments), &args)
			}
			result = append(result, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   v.FunctionCall.ID,
					Name: v.FunctionCall.Name,
					Args: args,
				},
			})
		}
	}
	return result
}

// buildTools converts normalized tool definitions into genai tool declarations.
func buildTools(defs []model.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(defs))
	for i, tdef := range defs {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 tdef.Function.Name,
			Description:          tdef.Function.Description,
			ParametersJsonSchema: tdef.Function.Parameters,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// handleStreaming forwards partial chunks and a final aggregate response.
func (m *Model) handleStreaming(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	out chan<- model.Response,
	errCh chan<- error,
) {
	var finalParts []core.Part
	finishReason := ""

	for resp, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, contents, config) {
		if err != nil {
			errCh <- fmt.Errorf("gemini streaming error: %w", err)
			return
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		cand := resp.Candidates[0]
		parts := partsFromContent(cand.Content)
		if len(parts) > 0 {
			finalParts = append(finalParts, parts...)
			out <- model.Response{Partial: true, Parts: parts}
		}
		if cand.FinishReason != "" {
			finishReason = string(cand.FinishReason)
		}
	}

	out <- model.Response{
		Partial:      false,
		Parts:        mergeTextParts(finalParts),
		FinishReason: finishReason,
	}
}

// handleNonStreaming issues a single generate-content call.
func (m *Model) handleNonStreaming(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	out chan<- model.Response,
	errCh chan<- error,
) {
	resp, err := m.client.Models.GenerateContent(ctx, m.opts.Model, contents, config)
	if err != nil {
		errCh <- fmt.Errorf("gemini api error: %w", err)
		return
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		errCh <- fmt.Errorf("no candidates returned")
		return
	}

	cand := resp.Candidates[0]
	result := model.Response{
		Partial:      false,
		Parts:        partsFromContent(cand.Content),
		FinishReason: string(cand.FinishReason),
	}
	if usage := resp.UsageMetadata; usage != nil {
		result.Usage = &model.TokenUsage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	out <- result
}

// partsFromContent maps genai parts back into normalized parts.
func partsFromContent(content *genai.Content) []core.Part {
	var parts []core.Part
	for _, p := range content.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" && !p.Thought {
			parts = append(parts, core.TextPart{Text: p.Text})
		}
		if p.FunctionCall != nil {
			args := ""
			if p.FunctionCall.Args != nil {
				if argsBytes, err := json.Marshal(p.FunctionCall.Args); err == nil {
					args = string(argsBytes)
				}
			}
			parts = append(parts, core.FunctionCallPart{
				FunctionCall: core.FunctionCall{
					ID:        p.FunctionCall.ID,
					Name:      p.FunctionCall.Name,
					Arguments: args,
				},
			})
		}
	}
	return parts
}

// mergeTextParts collapses consecutive streamed text fragments into one part
// so the final response mirrors the non-streaming shape.
func mergeTextParts(parts []core.Part) []core.Part {
	var merged []core.Part
	text := ""
	flush := func() {
		if text != "" {
			merged = append(merged, core.TextPart{Text: text})
			text = ""
		}
	}
	for _, p := range parts {
		if tp, ok := p.(core.TextPart); ok {
			text += tp.Text
			continue
		}
		flush()
		merged = append(merged, p)
	}
	flush()
	return merged
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "gemini",
		SupportsTools: true,
	}
}
