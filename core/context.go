package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation roles used throughout the pipeline.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Turn is one entry of the conversation threaded through a pipeline run.
// After it is appended to an ExecutionContext it must be treated as immutable.
type Turn struct {
	ID        string    `json:"id"`
	Author    string    `json:"author,omitempty"` // Step name or "user"
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a bare turn authored by 'author' with the given role.
// Prefer the helper constructors for common shapes.
func NewTurn(author, role string) Turn {
	return Turn{
		ID:        NewID(),
		Author:    author,
		Role:      role,
		Timestamp: time.Now().UTC(),
	}
}

// NewTextTurn creates a turn with a single text part.
func NewTextTurn(author, role, text string) Turn {
	t := NewTurn(author, role)
	t.Parts = []Part{TextPart{Text: text}}
	return t
}

// NewUserTurn creates a user-authored text turn.
func NewUserTurn(text string) Turn { return NewTextTurn("user", RoleUser, text) }

// NewFunctionResponseTurn records the completion result (or error) of a tool
// invocation. If err is non-nil its message is copied into the response.
func NewFunctionResponseTurn(author, id, toolName string, result any, err error) Turn {
	t := NewTurn(author, RoleTool)
	fr := FunctionResponse{ID: id, Name: toolName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	t.Parts = []Part{FunctionResponsePart{FunctionResponse: fr}}
	return t
}

// NewID generates a new unique identifier for turns and tool-call correlation.
func NewID() string { return uuid.NewString() }

// Text concatenates all text parts of the turn in order.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// FunctionCalls returns any FunctionCall parts preserving their original order.
func (t Turn) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range t.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns any FunctionResponse parts preserving their original order.
func (t Turn) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range t.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// ExecutionContext carries the running conversation passed between pipeline
// steps. It is strictly append-ordered: turns are added at the end and never
// rewritten or reordered. A context belongs to exactly one pipeline run at a
// time; it is not safe for concurrent mutation from multiple goroutines.
type ExecutionContext struct {
	turns []Turn
}

// NewExecutionContext creates a context seeded with the given turns.
func NewExecutionContext(turns ...Turn) *ExecutionContext {
	ec := &ExecutionContext{}
	ec.turns = append(ec.turns, turns...)
	return ec
}

// Append adds turns to the end of the conversation.
func (ec *ExecutionContext) Append(turns ...Turn) {
	ec.turns = append(ec.turns, turns...)
}

// Turns returns a shallow copy of the turn sequence for safe iteration.
func (ec *ExecutionContext) Turns() []Turn {
	out := make([]Turn, len(ec.turns))
	copy(out, ec.turns)
	return out
}

// Len returns the number of turns.
func (ec *ExecutionContext) Len() int { return len(ec.turns) }

// LastTurn returns the most recent turn and true, or a zero turn and false if
// the context is empty.
func (ec *ExecutionContext) LastTurn() (Turn, bool) {
	if len(ec.turns) == 0 {
		return Turn{}, false
	}
	return ec.turns[len(ec.turns)-1], true
}

// Clone returns an independent copy sharing no backing storage, so a caller
// can inspect partial progress without racing the owning run.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	return NewExecutionContext(ec.turns...)
}
