package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpipe/agentpipe/core"
)

var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_SaveAndGet(t *testing.T) {
	s := NewInMemoryStore()

	_, ok, err := s.Get("ctx-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ec := core.NewExecutionContext(core.NewUserTurn("hello"))
	require.NoError(t, s.Save("ctx-1", ec))

	got, ok, err := s.Get("ctx-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Len())
}

func TestInMemoryStore_GetReturnsClone(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Save("ctx-1", core.NewExecutionContext(core.NewUserTurn("hello"))))

	first, _, err := s.Get("ctx-1")
	require.NoError(t, err)
	first.Append(core.NewTextTurn("step", core.RoleAssistant, "tampered"))

	second, _, err := s.Get("ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Len())
}

func TestInMemoryStore_SaveSnapshotsContext(t *testing.T) {
	s := NewInMemoryStore()

	ec := core.NewExecutionContext(core.NewUserTurn("hello"))
	require.NoError(t, s.Save("ctx-1", ec))
	ec.Append(core.NewTextTurn("step", core.RoleAssistant, "grew afterwards"))

	got, _, err := s.Get("ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestInMemoryStore_Delete(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Save("ctx-1", core.NewExecutionContext(core.NewUserTurn("hello"))))

	require.NoError(t, s.Delete("ctx-1"))
	require.NoError(t, s.Delete("ctx-1"))

	_, ok, err := s.Get("ctx-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
