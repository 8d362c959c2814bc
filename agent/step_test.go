package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/model"
	"github.com/agentpipe/agentpipe/tool"
)

// modelFunc adapts a function into a Model emitting a single final response.
type modelFunc func(req model.Request) (model.Response, error)

func (f modelFunc) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	resp, err := f(req)
	if err != nil {
		errCh <- err
	} else {
		respCh <- resp
	}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (f modelFunc) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "test", SupportsTools: true}
}

func textResponse(text string) model.Response {
	return model.Response{
		Parts:        []core.Part{core.TextPart{Text: text}},
		FinishReason: "stop",
	}
}

func toolCallResponse(id, name, arguments string) model.Response {
	return model.Response{
		Parts: []core.Part{core.FunctionCallPart{
			FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: arguments},
		}},
		FinishReason: "tool_calls",
	}
}

func echoToolset(t *testing.T) *tool.Toolset {
	t.Helper()
	echo := tool.NewFunctionTool("echo", "Echo the value back",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"value": map[string]any{"type": "string"}},
			"required":   []string{"value"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["value"], nil
		},
	)
	ts, err := tool.NewToolset("functions", echo)
	require.NoError(t, err)
	return ts
}

// stubTool fails the way remote tools do: the backend error comes back as-is.
type stubTool struct {
	name    string
	callErr error
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub tool" }
func (s *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Call(context.Context, map[string]any) (any, error) {
	return nil, s.callErr
}

func failingToolset(t *testing.T, name string, callErr error) *tool.Toolset {
	t.Helper()
	ts, err := tool.NewToolset("functions", &stubTool{name: name, callErr: callErr})
	require.NoError(t, err)
	return ts
}

func TestNewStepAgent_Validation(t *testing.T) {
	m := modelFunc(func(model.Request) (model.Response, error) { return textResponse("ok"), nil })

	_, err := NewStepAgent("", m)
	assert.Error(t, err)

	_, err = NewStepAgent("collector", nil)
	assert.Error(t, err)
}

func TestNewStepAgent_RejectsDuplicateToolNames(t *testing.T) {
	m := modelFunc(func(model.Request) (model.Response, error) { return textResponse("ok"), nil })

	_, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Toolsets = []*tool.Toolset{echoToolset(t), echoToolset(t)}
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "echo")
}

func TestStepAgent_Run_NoToolCalls(t *testing.T) {
	var seenInstructions string
	m := modelFunc(func(req model.Request) (model.Response, error) {
		seenInstructions = req.Instructions
		return textResponse("final answer"), nil
	})

	step, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Instruction = NewInstructionFromText("Collect the data.")
	})
	require.NoError(t, err)

	ec := core.NewExecutionContext(core.NewUserTurn("question"))
	require.NoError(t, step.Run(context.Background(), ec))

	assert.Equal(t, "Collect the data.", seenInstructions)

	turns := ec.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "collector", turns[1].Author)
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
	assert.Equal(t, "final answer", turns[1].Text())
}

func TestStepAgent_Run_ToolCallRoundTrip(t *testing.T) {
	round := 0
	m := modelFunc(func(req model.Request) (model.Response, error) {
		round++
		if round == 1 {
			require.NotEmpty(t, req.Tools)
			return toolCallResponse("call-1", "echo", `{"value":"hi"}`), nil
		}
		// second round: the tool result must already be in the conversation
		last := req.Turns[len(req.Turns)-1]
		responses := last.FunctionResponses()
		require.Len(t, responses, 1)
		require.Equal(t, "hi", responses[0].Response)
		return textResponse("done: hi"), nil
	})

	step, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Toolsets = []*tool.Toolset{echoToolset(t)}
	})
	require.NoError(t, err)

	ec := core.NewExecutionContext(core.NewUserTurn("echo hi"))
	require.NoError(t, step.Run(context.Background(), ec))

	turns := ec.Turns()
	require.Len(t, turns, 4) // user, assistant call, tool response, assistant final
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
	require.Len(t, turns[1].FunctionCalls(), 1)
	assert.Equal(t, core.RoleTool, turns[2].Role)
	assert.Equal(t, "done: hi", turns[3].Text())
}

func TestStepAgent_Run_AbsorbsInvocationError(t *testing.T) {
	round := 0
	m := modelFunc(func(req model.Request) (model.Response, error) {
		round++
		if round == 1 {
			return toolCallResponse("call-1", "flaky", `{}`), nil
		}
		last := req.Turns[len(req.Turns)-1]
		responses := last.FunctionResponses()
		require.Len(t, responses, 1)
		require.Contains(t, responses[0].Error, "backend exploded")
		return textResponse("recovered"), nil
	})

	invErr := &core.ToolInvocationError{Tool: "flaky", Cause: errors.New("backend exploded")}
	step, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Toolsets = []*tool.Toolset{failingToolset(t, "flaky", invErr)}
	})
	require.NoError(t, err)

	ec := core.NewExecutionContext(core.NewUserTurn("try the flaky tool"))
	require.NoError(t, step.Run(context.Background(), ec))

	last, ok := ec.LastTurn()
	require.True(t, ok)
	assert.Equal(t, "recovered", last.Text())
}

func TestStepAgent_Run_ConnectionErrorIsFatal(t *testing.T) {
	m := modelFunc(func(model.Request) (model.Response, error) {
		return toolCallResponse("call-1", "remote", `{}`), nil
	})

	connErr := &core.ConnectionError{Endpoint: "http://tools:5000", Cause: errors.New("connection refused")}
	step, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Toolsets = []*tool.Toolset{failingToolset(t, "remote", connErr)}
	})
	require.NoError(t, err)

	ec := core.NewExecutionContext(core.NewUserTurn("use the remote tool"))
	runErr := step.Run(context.Background(), ec)

	var stepErr *core.StepExecutionError
	require.ErrorAs(t, runErr, &stepErr)
	assert.Equal(t, "collector", stepErr.Step)

	var target *core.ConnectionError
	assert.ErrorAs(t, runErr, &target)
}

func TestStepAgent_Run_AuthErrorIsFatal(t *testing.T) {
	m := modelFunc(func(model.Request) (model.Response, error) {
		return toolCallResponse("call-1", "remote", `{}`), nil
	})

	authErr := &core.AuthError{Endpoint: "http://tools:5000", Cause: errors.New("status 401")}
	step, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Toolsets = []*tool.Toolset{failingToolset(t, "remote", authErr)}
	})
	require.NoError(t, err)

	runErr := step.Run(context.Background(), core.NewExecutionContext(core.NewUserTurn("go")))

	var target *core.AuthError
	require.ErrorAs(t, runErr, &target)
}

func TestStepAgent_Run_ToolLoopExceeded(t *testing.T) {
	// The model asks for the tool on every round and never finishes.
	m := modelFunc(func(model.Request) (model.Response, error) {
		return toolCallResponse("call-n", "echo", `{"value":"again"}`), nil
	})

	step, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Toolsets = []*tool.Toolset{echoToolset(t)}
		o.MaxToolRounds = 2
	})
	require.NoError(t, err)

	runErr := step.Run(context.Background(), core.NewExecutionContext(core.NewUserTurn("loop")))

	var loopErr *core.ToolLoopExceededError
	require.ErrorAs(t, runErr, &loopErr)
	assert.Equal(t, "collector", loopErr.Step)
	assert.Equal(t, 2, loopErr.MaxRounds)
}

func TestStepAgent_Run_UnknownToolAbsorbed(t *testing.T) {
	round := 0
	m := modelFunc(func(req model.Request) (model.Response, error) {
		round++
		if round == 1 {
			return toolCallResponse("call-1", "nonexistent", `{}`), nil
		}
		last := req.Turns[len(req.Turns)-1]
		responses := last.FunctionResponses()
		require.Len(t, responses, 1)
		require.Contains(t, responses[0].Error, "unknown tool")
		return textResponse("gave up"), nil
	})

	step, err := NewStepAgent("collector", m)
	require.NoError(t, err)

	require.NoError(t, step.Run(context.Background(), core.NewExecutionContext(core.NewUserTurn("go"))))
}

func TestStepAgent_Run_MalformedArgumentsAbsorbed(t *testing.T) {
	round := 0
	m := modelFunc(func(req model.Request) (model.Response, error) {
		round++
		if round == 1 {
			return toolCallResponse("call-1", "echo", `{not json`), nil
		}
		last := req.Turns[len(req.Turns)-1]
		responses := last.FunctionResponses()
		require.Len(t, responses, 1)
		require.Contains(t, responses[0].Error, "invalid arguments")
		return textResponse("ok"), nil
	})

	step, err := NewStepAgent("collector", m, func(o *StepOptions) {
		o.Toolsets = []*tool.Toolset{echoToolset(t)}
	})
	require.NoError(t, err)

	require.NoError(t, step.Run(context.Background(), core.NewExecutionContext(core.NewUserTurn("go"))))
}

func TestStepAgent_Run_ModelError(t *testing.T) {
	m := modelFunc(func(model.Request) (model.Response, error) {
		return model.Response{}, fmt.Errorf("rate limited")
	})

	step, err := NewStepAgent("collector", m)
	require.NoError(t, err)

	runErr := step.Run(context.Background(), core.NewExecutionContext(core.NewUserTurn("go")))

	var stepErr *core.StepExecutionError
	require.ErrorAs(t, runErr, &stepErr)
	assert.Contains(t, stepErr.Error(), "rate limited")
}

func TestStepAgent_Run_DynamicInstruction(t *testing.T) {
	var seen string
	m := modelFunc(func(req model.Request) (model.Response, error) {
		seen = req.Instructions
		return textResponse("ok"), nil
	})

	step, err := NewStepAgent("formatter", m, func(o *StepOptions) {
		o.Instruction = NewInstructionFromFunc(func(ec *core.ExecutionContext) (string, error) {
			return fmt.Sprintf("Format %d prior turns.", ec.Len()), nil
		})
	})
	require.NoError(t, err)

	ec := core.NewExecutionContext(core.NewUserTurn("q"), core.NewTextTurn("collector", core.RoleAssistant, "data"))
	require.NoError(t, step.Run(context.Background(), ec))

	assert.Equal(t, "Format 2 prior turns.", seen)
}

func TestStepAgent_Run_InstructionProviderError(t *testing.T) {
	m := modelFunc(func(model.Request) (model.Response, error) { return textResponse("ok"), nil })

	step, err := NewStepAgent("formatter", m, func(o *StepOptions) {
		o.Instruction = NewInstructionFromFunc(func(*core.ExecutionContext) (string, error) {
			return "", errors.New("no template found")
		})
	})
	require.NoError(t, err)

	runErr := step.Run(context.Background(), core.NewExecutionContext(core.NewUserTurn("go")))

	var stepErr *core.StepExecutionError
	require.ErrorAs(t, runErr, &stepErr)
}
