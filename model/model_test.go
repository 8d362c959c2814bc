package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpipe/agentpipe/core"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var responses []Response
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			responses = append(responses, resp)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return responses, err
			}
		}
	}
	return responses, nil
}

func TestMockModel_Generate_CannedResponse(t *testing.T) {
	m := NewMockModel("mock-1", "test")
	m.AddResponse("hello", "hi there")

	req := Request{Turns: []core.Turn{core.NewUserTurn("hello")}}
	respCh, errCh := m.Generate(context.Background(), req)
	responses, err := collect(t, respCh, errCh)

	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Partial)
	assert.Equal(t, "stop", responses[0].FinishReason)

	turn := core.Turn{Parts: responses[0].Parts}
	assert.Equal(t, "hi there", turn.Text())
}

func TestMockModel_Generate_DefaultResponse(t *testing.T) {
	m := NewMockModel("mock-1", "test")

	req := Request{Turns: []core.Turn{core.NewUserTurn("unscripted input")}}
	respCh, errCh := m.Generate(context.Background(), req)
	responses, err := collect(t, respCh, errCh)

	require.NoError(t, err)
	require.Len(t, responses, 1)

	turn := core.Turn{Parts: responses[0].Parts}
	assert.Contains(t, turn.Text(), "unscripted input")
}

func TestMockModel_Generate_Streaming(t *testing.T) {
	m := NewMockModel("mock-1", "test")
	m.AddResponse("hello", "hi")

	req := Request{Turns: []core.Turn{core.NewUserTurn("hello")}, Stream: true}
	respCh, errCh := m.Generate(context.Background(), req)
	responses, err := collect(t, respCh, errCh)

	require.NoError(t, err)
	// char partials plus the final aggregate
	require.Len(t, responses, 3)

	var streamed strings.Builder
	for _, resp := range responses[:len(responses)-1] {
		assert.True(t, resp.Partial)
		streamed.WriteString(core.Turn{Parts: resp.Parts}.Text())
	}
	assert.Equal(t, "hi", streamed.String())

	final := responses[len(responses)-1]
	assert.False(t, final.Partial)
}

func TestMockModel_Generate_NoTurns(t *testing.T) {
	m := NewMockModel("mock-1", "test")

	respCh, errCh := m.Generate(context.Background(), Request{})
	_, err := collect(t, respCh, errCh)
	assert.Error(t, err)
}

func TestMockModel_Info(t *testing.T) {
	m := NewMockModel("mock-1", "test")

	info := m.Info()
	assert.Equal(t, "mock-1", info.Name)
	assert.Equal(t, "test", info.Provider)
	assert.True(t, info.SupportsTools)
}
