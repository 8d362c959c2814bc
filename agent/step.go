package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/logging"
	"github.com/agentpipe/agentpipe/model"
	"github.com/agentpipe/agentpipe/tool"
)

// DefaultMaxToolRounds bounds how many times a single step may loop through
// model → tool call → tool result before giving up.
const DefaultMaxToolRounds = 8

// runState tracks where a step is inside its model/tool loop. Used for
// telemetry and to make the loop's legal transitions explicit.
type runState int

const (
	stateAwaitingModel runState = iota
	stateToolRequested
	stateAwaitingToolResult
	stateCompleted
	stateFailed
)

func (s runState) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting_model"
	case stateToolRequested:
		return "tool_requested"
	case stateAwaitingToolResult:
		return "awaiting_tool_result"
	case stateCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// StepAgent executes one pipeline step: it prompts the model with the
// accumulated execution context plus its own instruction, and services the
// model's tool calls until the model produces a final answer.
//
// A StepAgent is immutable after construction and safe for concurrent use;
// all run state lives on the stack of Run.
type StepAgent struct {
	name          string
	instruction   Instruction
	model         model.Model
	toolsets      []*tool.Toolset
	tools         map[string]tool.Tool
	maxToolRounds int
	logger        logging.Logger
}

// StepOptions configure a StepAgent.
type StepOptions struct {
	// Instruction is the step's system prompt (static or dynamic).
	Instruction Instruction
	// Toolsets are offered to the model in declaration order.
	Toolsets []*tool.Toolset
	// MaxToolRounds bounds the tool-call loop. Defaults to DefaultMaxToolRounds.
	MaxToolRounds int
	// Logger receives per-round telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// NewStepAgent constructs a step around a model. Tool names must be unique
// across all attached toolsets; a collision is a construction error because
// the model would see an ambiguous function declaration.
func NewStepAgent(name string, m model.Model, optFns ...func(o *StepOptions)) (*StepAgent, error) {
	opts := StepOptions{
		MaxToolRounds: DefaultMaxToolRounds,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if name == "" {
		return nil, fmt.Errorf("step name must not be empty")
	}
	if m == nil {
		return nil, fmt.Errorf("step %s: model must not be nil", name)
	}

	tools := map[string]tool.Tool{}
	for _, ts := range opts.Toolsets {
		for _, t := range ts.Tools() {
			if _, exists := tools[t.Name()]; exists {
				return nil, fmt.Errorf("step %s: duplicate tool name %q across toolsets", name, t.Name())
			}
			tools[t.Name()] = t
		}
	}

	return &StepAgent{
		name:          name,
		instruction:   opts.Instruction,
		model:         m,
		toolsets:      append([]*tool.Toolset(nil), opts.Toolsets...),
		tools:         tools,
		maxToolRounds: opts.MaxToolRounds,
		logger:        opts.Logger,
	}, nil
}

// Name returns the step's unique name within its pipeline.
func (s *StepAgent) Name() string { return s.name }

// Run executes the step against the shared execution context. The model's
// turns (including intermediate tool calls and tool results) are appended to
// ec as they happen, so on failure the context already holds the step's
// partial progress.
//
// Error contract:
//   - tool invocation failures are absorbed: the model sees an error-carrying
//     tool-response turn and decides how to proceed
//   - connection / credential failures against a tool backend are fatal and
//     surface as *core.StepExecutionError
//   - exceeding the tool-round bound surfaces as *core.ToolLoopExceededError
func (s *StepAgent) Run(ctx context.Context, ec *core.ExecutionContext) error {
	instructions, err := s.instruction.Resolve(ec)
	if err != nil {
		return &core.StepExecutionError{Step: s.name, Cause: fmt.Errorf("resolve instruction: %w", err)}
	}

	defs := s.toolDefinitions()
	state := stateAwaitingModel

	for round := 0; ; round++ {
		resp, err := s.generate(ctx, instructions, ec, defs)
		if err != nil {
			state = stateFailed
			s.logger.Error("step.model_failed", "step", s.name, "state", state.String(), "error", err)
			return &core.StepExecutionError{Step: s.name, Cause: err}
		}

		turn := core.NewTurn(s.name, core.RoleAssistant)
		turn.Parts = resp.Parts
		ec.Append(turn)

		calls := turn.FunctionCalls()
		if len(calls) == 0 {
			state = stateCompleted
			s.logger.Debug("step.completed", "step", s.name, "state", state.String(), "rounds", round)
			return nil
		}

		if round >= s.maxToolRounds {
			state = stateFailed
			s.logger.Warn("step.tool_loop_exceeded", "step", s.name, "state", state.String(), "max_rounds", s.maxToolRounds)
			return &core.ToolLoopExceededError{Step: s.name, MaxRounds: s.maxToolRounds}
		}

		state = stateToolRequested
		s.logger.Debug("step.tool_round", "step", s.name, "state", state.String(), "round", round, "calls", len(calls))
		for _, call := range calls {
			state = stateAwaitingToolResult
			if err := s.invokeTool(ctx, ec, call); err != nil {
				return err
			}
		}
		state = stateAwaitingModel
	}
}

// invokeTool services one function call, appending the tool-response turn.
// Only connection and credential failures propagate; everything else becomes
// a model-visible error response.
func (s *StepAgent) invokeTool(ctx context.Context, ec *core.ExecutionContext, call core.FunctionCall) error {
	t, ok := s.tools[call.Name]
	if !ok {
		s.logger.Warn("step.unknown_tool", "step", s.name, "tool", call.Name)
		ec.Append(core.NewFunctionResponseTurn(s.name, call.ID, call.Name, nil,
			fmt.Errorf("unknown tool %q", call.Name)))
		return nil
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			ec.Append(core.NewFunctionResponseTurn(s.name, call.ID, call.Name, nil,
				fmt.Errorf("invalid arguments: %v", err)))
			return nil
		}
	}

	s.logger.Debug("step.tool_call", "step", s.name, "tool", call.Name)

	result, err := t.Call(ctx, args)
	if err != nil {
		var connErr *core.ConnectionError
		var authErr *core.AuthError
		if errors.As(err, &connErr) || errors.As(err, &authErr) {
			s.logger.Error("step.tool_backend_lost", "step", s.name, "tool", call.Name, "error", err)
			return &core.StepExecutionError{Step: s.name, Cause: err}
		}

		// Absorbed: the model sees the failure and can retry or route around it.
		s.logger.Warn("step.tool_failed", "step", s.name, "tool", call.Name, "error", err)
		ec.Append(core.NewFunctionResponseTurn(s.name, call.ID, call.Name, nil, err))
		return nil
	}

	ec.Append(core.NewFunctionResponseTurn(s.name, call.ID, call.Name, result, nil))
	return nil
}

// generate runs one model inference and returns the final (non-partial)
// response, draining any streamed partials.
func (s *StepAgent) generate(
	ctx context.Context,
	instructions string,
	ec *core.ExecutionContext,
	defs []model.ToolDefinition,
) (model.Response, error) {
	req := model.Request{
		Instructions: instructions,
		Turns:        ec.Turns(),
		Tools:        defs,
	}

	respCh, errCh := s.model.Generate(ctx, req)

	var final model.Response
	got := false
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				final = resp
				got = true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return model.Response{}, err
			}
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		}
	}
	if !got {
		return model.Response{}, fmt.Errorf("model produced no final response")
	}
	return final, nil
}

// toolDefinitions converts the attached tools into model function declarations.
func (s *StepAgent) toolDefinitions() []model.ToolDefinition {
	var defs []model.ToolDefinition
	for _, ts := range s.toolsets {
		for _, t := range ts.Tools() {
			defs = append(defs, model.ToolDefinition{
				Type: "function",
				Function: model.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
	}
	return defs
}
