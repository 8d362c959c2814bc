// Package a2a exposes a built pipeline over the Agent-to-Agent (A2A)
// protocol. The adapter is deliberately thin: it converts an incoming A2A
// message into the initial execution context, runs the pipeline, and converts
// the final turns back into an A2A reply. Pipeline failures are mapped to a
// structured error payload, never surfaced as raw internal errors.
package a2a

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-a2a-go/protocol"
	"trpc.group/trpc-go/trpc-a2a-go/server"
	"trpc.group/trpc-go/trpc-a2a-go/taskmanager"

	"github.com/agentpipe/agentpipe/agent"
	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/logging"
	"github.com/agentpipe/agentpipe/session"
)

// Runner is the pipeline surface the adapter serves. Both *agent.Pipeline and
// *agent.LoopPipeline satisfy it.
type Runner interface {
	Name() string
	Run(ctx context.Context, ec *core.ExecutionContext) error
}

// Options configure the serving adapter.
type Options struct {
	// Name overrides the agent card name. Defaults to the runner's name.
	Name string
	// Description appears on the agent card.
	Description string
	// Skills advertises pipeline capabilities on the card. See
	// SkillsFromPipeline.
	Skills []server.AgentSkill
	// Logger receives request telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
	// Sessions stores conversations across exchanges so follow-up messages
	// under the same context id continue where they left off. Defaults to an
	// in-memory store.
	Sessions session.Store
	// ServerOptions are passed through to the underlying A2A server.
	ServerOptions []server.Option
}

// Server wraps a pipeline as an A2A protocol server.
type Server struct {
	srv    *server.A2AServer
	card   server.AgentCard
	logger logging.Logger
}

// New builds the serving adapter. publicURL is the externally reachable URL
// advertised on the agent card; it can differ from the local bind address
// (reverse proxies, containers).
func New(runner Runner, publicURL string, optFns ...func(o *Options)) (*Server, error) {
	opts := Options{
		Name:     runner.Name(),
		Logger:   logging.NoOpLogger{},
		Sessions: session.NewInMemoryStore(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	streaming := false
	card := server.AgentCard{
		Name:        opts.Name,
		Description: opts.Description,
		URL:         publicURL,
		Capabilities: server.AgentCapabilities{
			Streaming: &streaming,
		},
		Skills:             opts.Skills,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
	}

	processor := &messageProcessor{runner: runner, sessions: opts.Sessions, logger: opts.Logger}
	tm, err := taskmanager.NewMemoryTaskManager(processor)
	if err != nil {
		return nil, fmt.Errorf("create task manager: %w", err)
	}

	srv, err := server.NewA2AServer(card, tm, opts.ServerOptions...)
	if err != nil {
		return nil, fmt.Errorf("create A2A server: %w", err)
	}

	return &Server{srv: srv, card: card, logger: opts.Logger}, nil
}

// Card returns the agent card served to clients.
func (s *Server) Card() server.AgentCard { return s.card }

// Start serves on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("a2a.serving", "addr", addr, "url", s.card.URL)
	return s.srv.Start(addr)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Stop(ctx)
}

// SkillsFromPipeline advertises one skill per pipeline step.
func SkillsFromPipeline(p *agent.Pipeline) []server.AgentSkill {
	steps := p.Steps()
	skills := make([]server.AgentSkill, 0, len(steps))
	for _, step := range steps {
		desc := fmt.Sprintf("Pipeline step %s", step.Name())
		skills = append(skills, server.AgentSkill{
			Name:        step.Name(),
			Description: &desc,
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
			Tags:        []string{"step"},
		})
	}
	return skills
}

// messageProcessor adapts incoming A2A messages onto pipeline runs.
type messageProcessor struct {
	runner   Runner
	sessions session.Store
	logger   logging.Logger
}

// ProcessMessage implements taskmanager.MessageProcessor. A message carrying
// a known context id continues its stored conversation, otherwise it starts a
// fresh one; the pipeline's final assistant output becomes the reply. A
// failed run is answered with a structured error payload
// {failed_step, category, message} instead of an internal error.
func (m *messageProcessor) ProcessMessage(
	ctx context.Context,
	message protocol.Message,
	options taskmanager.ProcessOptions,
	handler taskmanager.TaskHandler,
) (*taskmanager.MessageProcessingResult, error) {
	input := extractText(message)
	if input == "" {
		return nil, fmt.Errorf("message contains no text input")
	}

	contextID := ""
	if message.ContextID != nil {
		contextID = *message.ContextID
	}

	ec, err := m.loadConversation(contextID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	ec.Append(core.NewUserTurn(input))

	m.logger.Info("a2a.run_start", "pipeline", m.runner.Name(), "context_id", contextID)

	if err := m.runner.Run(ctx, ec); err != nil {
		m.logger.Error("a2a.run_failed", "pipeline", m.runner.Name(), "error", err)
		reply := errorMessage(err)
		return &taskmanager.MessageProcessingResult{Result: &reply}, nil
	}

	if contextID != "" && m.sessions != nil {
		if err := m.sessions.Save(contextID, ec); err != nil {
			m.logger.Warn("a2a.save_conversation_failed", "context_id", contextID, "error", err)
		}
	}

	reply := protocol.NewMessage(protocol.MessageRoleAgent, outputParts(ec))
	return &taskmanager.MessageProcessingResult{Result: &reply}, nil
}

// loadConversation returns the stored context for the id, or a fresh one.
func (m *messageProcessor) loadConversation(contextID string) (*core.ExecutionContext, error) {
	if contextID == "" || m.sessions == nil {
		return core.NewExecutionContext(), nil
	}
	ec, ok, err := m.sessions.Get(contextID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return core.NewExecutionContext(), nil
	}
	return ec, nil
}

// extractText concatenates the text parts of an incoming message. Parts
// arrive as pointers when deserialized from the wire and as values when the
// message was built in-process, so both shapes are handled.
func extractText(message protocol.Message) string {
	var texts []string
	for _, part := range message.Parts {
		var text string
		switch tp := part.(type) {
		case *protocol.TextPart:
			text = tp.Text
		case protocol.TextPart:
			text = tp.Text
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}

// outputParts selects the final assistant text of the run as the reply body.
func outputParts(ec *core.ExecutionContext) []protocol.Part {
	turns := ec.Turns()
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != core.RoleAssistant {
			continue
		}
		if text := turns[i].Text(); text != "" {
			return []protocol.Part{protocol.NewTextPart(text)}
		}
	}
	return nil
}

// errorMessage maps a pipeline failure to the structured error payload.
func errorMessage(err error) protocol.Message {
	payload := map[string]any{
		"category": categorize(err),
		"message":  err.Error(),
	}
	var pipeErr *core.PipelineExecutionError
	if errors.As(err, &pipeErr) {
		payload["failed_step"] = pipeErr.FailedStep
	}
	return protocol.NewMessage(protocol.MessageRoleAgent, []protocol.Part{
		protocol.NewDataPart(payload),
	})
}

// categorize names the failure class for clients without exposing internals.
func categorize(err error) string {
	var (
		loopErr *core.ToolLoopExceededError
		connErr *core.ConnectionError
		authErr *core.AuthError
		tsErr   *core.ToolsetNotFoundError
	)
	switch {
	case errors.As(err, &loopErr):
		return "tool_loop_exceeded"
	case errors.As(err, &authErr):
		return "auth_error"
	case errors.As(err, &connErr):
		return "connection_error"
	case errors.As(err, &tsErr):
		return "toolset_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "step_execution_error"
	}
}
