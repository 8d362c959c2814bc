package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingCloser appends its name to a shared order slice on Close.
type recordingCloser struct {
	name   string
	err    error
	closed int
	order  *[]string
}

func (c *recordingCloser) Close() error {
	c.closed++
	if c.order != nil {
		*c.order = append(*c.order, c.name)
	}
	return c.err
}

func TestManager_ReleaseAll_ReverseOrder(t *testing.T) {
	var order []string
	m := NewManager()
	m.Register(&recordingCloser{name: "first", order: &order})
	m.Register(&recordingCloser{name: "second", order: &order})
	m.Register(&recordingCloser{name: "third", order: &order})

	require.NoError(t, m.ReleaseAll())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestManager_ReleaseAll_AggregatesErrors(t *testing.T) {
	errA := errors.New("close a failed")
	errB := errors.New("close b failed")

	m := NewManager()
	m.Register(&recordingCloser{name: "a", err: errA})
	ok := &recordingCloser{name: "ok"}
	m.Register(ok)
	m.Register(&recordingCloser{name: "b", err: errB})

	err := m.ReleaseAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	// a failing close never blocks the others
	assert.Equal(t, 1, ok.closed)
}

func TestManager_ReleaseAll_ExactlyOnce(t *testing.T) {
	errA := errors.New("close failed")
	c := &recordingCloser{name: "a", err: errA}

	m := NewManager()
	m.Register(c)

	first := m.ReleaseAll()
	second := m.ReleaseAll()

	assert.Equal(t, 1, c.closed)
	assert.ErrorIs(t, first, errA)
	assert.Equal(t, first, second)
}

func TestManager_Register_AfterReleaseClosesImmediately(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.ReleaseAll())

	late := &recordingCloser{name: "late"}
	m.Register(late)

	assert.Equal(t, 1, late.closed)
}

func TestManager_Register_IgnoresNil(t *testing.T) {
	m := NewManager()
	m.Register(nil)

	assert.NoError(t, m.ReleaseAll())
}
