package a2a

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"
	"trpc.group/trpc-go/trpc-a2a-go/taskmanager"

	"github.com/agentpipe/agentpipe/agent"
	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/logging"
	"github.com/agentpipe/agentpipe/model"
	"github.com/agentpipe/agentpipe/session"
)

// stubModel returns a fixed answer; enough to build pipelines for card tests.
type stubModel struct{}

func (stubModel) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error)
	respCh <- model.Response{Parts: []core.Part{core.TextPart{Text: "ok"}}}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (stubModel) Info() model.Info {
	return model.Info{Name: "stub", Provider: "test", SupportsTools: true}
}

// fakeRunner scripts a pipeline run outcome.
type fakeRunner struct {
	name    string
	answer  string
	err     error
	lastRun *core.ExecutionContext
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Run(_ context.Context, ec *core.ExecutionContext) error {
	r.lastRun = ec
	if r.err != nil {
		return r.err
	}
	ec.Append(core.NewTextTurn(r.name, core.RoleAssistant, r.answer))
	return nil
}

func userMessage(text string) protocol.Message {
	return protocol.NewMessage(protocol.MessageRoleUser, []protocol.Part{
		protocol.NewTextPart(text),
	})
}

func TestNew_BuildsAgentCard(t *testing.T) {
	runner := &fakeRunner{name: "report-pipeline", answer: "done"}

	srv, err := New(runner, "https://pipeline.example.com", func(o *Options) {
		o.Description = "Generates reports"
	})
	require.NoError(t, err)

	card := srv.Card()
	assert.Equal(t, "report-pipeline", card.Name)
	assert.Equal(t, "Generates reports", card.Description)
	assert.Equal(t, "https://pipeline.example.com", card.URL)
	require.NotNil(t, card.Capabilities.Streaming)
	assert.False(t, *card.Capabilities.Streaming)
	assert.Equal(t, []string{"text"}, card.DefaultInputModes)
}

func TestSkillsFromPipeline(t *testing.T) {
	m := stubModel{}
	collector, err := agent.NewStepAgent("collector", m)
	require.NoError(t, err)
	formatter, err := agent.NewStepAgent("formatter", m)
	require.NoError(t, err)

	p, err := agent.NewPipeline("report", []*agent.StepAgent{collector, formatter})
	require.NoError(t, err)

	skills := SkillsFromPipeline(p)
	require.Len(t, skills, 2)
	assert.Equal(t, "collector", skills[0].Name)
	assert.Equal(t, "formatter", skills[1].Name)
	require.NotNil(t, skills[0].Description)
	assert.Contains(t, *skills[0].Description, "collector")
}

func TestProcessMessage_Success(t *testing.T) {
	runner := &fakeRunner{name: "report", answer: "the final report"}
	mp := &messageProcessor{runner: runner, logger: logging.NoOpLogger{}}

	result, err := mp.ProcessMessage(context.Background(), userMessage("make a report"),
		taskmanager.ProcessOptions{}, nil)

	require.NoError(t, err)

	reply, ok := result.Result.(*protocol.Message)
	require.True(t, ok)
	assert.Equal(t, protocol.MessageRoleAgent, reply.Role)
	assert.Equal(t, "the final report", extractText(*reply))

	// the run started from exactly the incoming text
	require.NotNil(t, runner.lastRun)
	assert.Equal(t, "make a report", runner.lastRun.Turns()[0].Text())
}

func TestProcessMessage_EmptyInput(t *testing.T) {
	runner := &fakeRunner{name: "report", answer: "unused"}
	mp := &messageProcessor{runner: runner, logger: logging.NoOpLogger{}}

	_, err := mp.ProcessMessage(context.Background(),
		protocol.NewMessage(protocol.MessageRoleUser, nil),
		taskmanager.ProcessOptions{}, nil)

	assert.Error(t, err)
}

func TestProcessMessage_FailureBecomesStructuredPayload(t *testing.T) {
	partial := core.NewExecutionContext(core.NewUserTurn("make a report"))
	runner := &fakeRunner{
		name: "report",
		err: &core.PipelineExecutionError{
			FailedStep: "collector",
			Partial:    partial,
			Cause: &core.StepExecutionError{
				Step:  "collector",
				Cause: &core.ConnectionError{Endpoint: "http://tools:5000", Cause: errors.New("refused")},
			},
		},
	}
	mp := &messageProcessor{runner: runner, logger: logging.NoOpLogger{}}

	result, err := mp.ProcessMessage(context.Background(), userMessage("make a report"),
		taskmanager.ProcessOptions{}, nil)

	require.NoError(t, err)

	reply, ok := result.Result.(*protocol.Message)
	require.True(t, ok)
	payload := dataPayload(t, *reply)
	assert.Equal(t, "collector", payload["failed_step"])
	assert.Equal(t, "connection_error", payload["category"])
	assert.Contains(t, payload["message"], "collector")
}

func TestProcessMessage_ContinuesConversationByContextID(t *testing.T) {
	runner := &fakeRunner{name: "report", answer: "reply"}
	mp := &messageProcessor{
		runner:   runner,
		sessions: session.NewInMemoryStore(),
		logger:   logging.NoOpLogger{},
	}

	contextID := "ctx-42"
	first := userMessage("first question")
	first.ContextID = &contextID

	_, err := mp.ProcessMessage(context.Background(), first, taskmanager.ProcessOptions{}, nil)
	require.NoError(t, err)

	second := userMessage("follow-up")
	second.ContextID = &contextID

	_, err = mp.ProcessMessage(context.Background(), second, taskmanager.ProcessOptions{}, nil)
	require.NoError(t, err)

	// second run saw the full first exchange plus the new user turn
	turns := runner.lastRun.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, "first question", turns[0].Text())
	assert.Equal(t, "reply", turns[1].Text())
	assert.Equal(t, "follow-up", turns[2].Text())
}

func TestExtractText_JoinsParts(t *testing.T) {
	msg := protocol.NewMessage(protocol.MessageRoleUser, []protocol.Part{
		protocol.NewTextPart("first"),
		protocol.NewTextPart("second"),
	})

	assert.Equal(t, "first\nsecond", extractText(msg))
}

func TestOutputParts_PicksLastAssistantText(t *testing.T) {
	ec := core.NewExecutionContext(
		core.NewUserTurn("q"),
		core.NewTextTurn("collector", core.RoleAssistant, "intermediate"),
		core.NewFunctionResponseTurn("collector", "call-1", "search", "raw", nil),
		core.NewTextTurn("formatter", core.RoleAssistant, "final text"),
	)

	parts := outputParts(ec)
	require.Len(t, parts, 1)

	msg := protocol.NewMessage(protocol.MessageRoleAgent, parts)
	assert.Equal(t, "final text", extractText(msg))
}

func TestOutputParts_EmptyWithoutAssistantText(t *testing.T) {
	ec := core.NewExecutionContext(core.NewUserTurn("q"))
	assert.Nil(t, outputParts(ec))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"loop", &core.ToolLoopExceededError{Step: "s", MaxRounds: 8}, "tool_loop_exceeded"},
		{"auth", &core.AuthError{Endpoint: "e", Cause: errors.New("401")}, "auth_error"},
		{"connection", &core.ConnectionError{Endpoint: "e", Cause: errors.New("refused")}, "connection_error"},
		{"toolset", &core.ToolsetNotFoundError{Toolset: "inventory"}, "toolset_not_found"},
		{"cancelled", context.Canceled, "cancelled"},
		{"deadline", context.DeadlineExceeded, "cancelled"},
		{"other", errors.New("anything else"), "step_execution_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := &core.PipelineExecutionError{FailedStep: "s", Cause: tt.err}
			assert.Equal(t, tt.want, categorize(wrapped))
		})
	}
}

// dataPayload digs the structured error payload out of a reply message.
func dataPayload(t *testing.T, msg protocol.Message) map[string]any {
	t.Helper()
	require.NotEmpty(t, msg.Parts)
	switch dp := msg.Parts[0].(type) {
	case *protocol.DataPart:
		return dp.Data.(map[string]any)
	case protocol.DataPart:
		return dp.Data.(map[string]any)
	default:
		t.Fatalf("unexpected part type %T", msg.Parts[0])
		return nil
	}
}
