package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserTurn(t *testing.T) {
	turn := NewUserTurn("hello")

	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, "user", turn.Author)
	assert.Equal(t, RoleUser, turn.Role)
	assert.Equal(t, "hello", turn.Text())
	assert.False(t, turn.Timestamp.IsZero())
}

func TestTurn_Text_ConcatenatesTextParts(t *testing.T) {
	turn := NewTurn("step", RoleAssistant)
	turn.Parts = []Part{
		TextPart{Text: "first"},
		FunctionCallPart{FunctionCall: FunctionCall{Name: "lookup"}},
		TextPart{Text: " second"},
	}

	assert.Equal(t, "first second", turn.Text())
}

func TestTurn_FunctionCalls(t *testing.T) {
	turn := NewTurn("step", RoleAssistant)
	turn.Parts = []Part{
		TextPart{Text: "calling tools"},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "call-1", Name: "search"}},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "call-2", Name: "fetch"}},
	}

	calls := turn.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "search", calls[0].Name)
	assert.Equal(t, "fetch", calls[1].Name)
}

func TestNewFunctionResponseTurn_Success(t *testing.T) {
	turn := NewFunctionResponseTurn("step", "call-1", "search", map[string]any{"hits": 3}, nil)

	assert.Equal(t, RoleTool, turn.Role)
	responses := turn.FunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, "call-1", responses[0].ID)
	assert.Equal(t, "search", responses[0].Name)
	assert.Equal(t, map[string]any{"hits": 3}, responses[0].Response)
	assert.Empty(t, responses[0].Error)
}

func TestNewFunctionResponseTurn_Error(t *testing.T) {
	turn := NewFunctionResponseTurn("step", "call-1", "search", nil, errors.New("backend exploded"))

	responses := turn.FunctionResponses()
	require.Len(t, responses, 1)
	assert.Nil(t, responses[0].Response)
	assert.Equal(t, "backend exploded", responses[0].Error)
}

func TestExecutionContext_AppendPreservesOrder(t *testing.T) {
	ec := NewExecutionContext(NewUserTurn("question"))
	ec.Append(NewTextTurn("collector", RoleAssistant, "gathered"))
	ec.Append(NewTextTurn("formatter", RoleAssistant, "formatted"))

	turns := ec.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "user", turns[0].Author)
	assert.Equal(t, "collector", turns[1].Author)
	assert.Equal(t, "formatter", turns[2].Author)
	assert.Equal(t, 3, ec.Len())
}

func TestExecutionContext_TurnsReturnsCopy(t *testing.T) {
	ec := NewExecutionContext(NewUserTurn("question"))

	turns := ec.Turns()
	turns[0] = NewUserTurn("tampered")

	fresh := ec.Turns()
	assert.Equal(t, "question", fresh[0].Text())
}

func TestExecutionContext_LastTurn(t *testing.T) {
	ec := NewExecutionContext()

	_, ok := ec.LastTurn()
	assert.False(t, ok)

	ec.Append(NewUserTurn("first"), NewTextTurn("step", RoleAssistant, "second"))

	last, ok := ec.LastTurn()
	require.True(t, ok)
	assert.Equal(t, "second", last.Text())
}

func TestExecutionContext_CloneIsIndependent(t *testing.T) {
	ec := NewExecutionContext(NewUserTurn("question"))
	clone := ec.Clone()

	ec.Append(NewTextTurn("step", RoleAssistant, "answer"))

	assert.Equal(t, 2, ec.Len())
	assert.Equal(t, 1, clone.Len())

	clone.Append(NewTextTurn("other", RoleAssistant, "divergent"))
	assert.Equal(t, 2, ec.Len())
}
