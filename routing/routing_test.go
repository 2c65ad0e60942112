package routing

import (
	"testing"

	"github.com/opd-ai/simsync/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls int
	last  *wire.Message
}

func (c *countingHandler) HandleMessage(msg *wire.Message) {
	c.calls++
	c.last = msg
}

// TestEveryTagRoutesToItsHandler covers the full 8-bit tag domain.
func TestEveryTagRoutesToItsHandler(t *testing.T) {
	table := NewTable()
	handlers := make([]*countingHandler, Slots)

	for tag := 0; tag < Slots; tag++ {
		handlers[tag] = &countingHandler{}
		prev := table.SetHandler(wire.RoutingType(tag), handlers[tag])
		assert.Nil(t, prev)
	}

	for tag := 0; tag < Slots; tag++ {
		got, ok := table.GetHandler(wire.RoutingType(tag))
		require.True(t, ok)
		assert.Same(t, handlers[tag], got)

		msg := &wire.Message{Routing: wire.RoutingType(tag)}
		assert.True(t, table.Route(msg))
		assert.Equal(t, 1, handlers[tag].calls, "tag %d", tag)
		assert.Same(t, msg, handlers[tag].last)
	}
	assert.Zero(t, table.Unroutable())
}

func TestSetHandlerReturnsPrevious(t *testing.T) {
	table := NewTable()
	a, b := &countingHandler{}, &countingHandler{}

	assert.Nil(t, table.SetHandler(3, a))
	assert.Same(t, a, table.SetHandler(3, b))
	assert.Same(t, b, table.SetHandler(3, nil))

	_, ok := table.GetHandler(3)
	assert.False(t, ok)
}

func TestRouteFallsBackToDefault(t *testing.T) {
	table := NewTable()
	explicit, fallback := &countingHandler{}, &countingHandler{}
	table.SetHandler(1, explicit)
	assert.Nil(t, table.SetDefaultHandler(fallback))

	table.Route(&wire.Message{Routing: 1})
	table.Route(&wire.Message{Routing: 2})

	assert.Equal(t, 1, explicit.calls)
	assert.Equal(t, 1, fallback.calls)

	// GetHandler never answers with the default
	_, ok := table.GetHandler(2)
	assert.False(t, ok)
}

func TestRouteDropsWithoutHandler(t *testing.T) {
	table := NewTable()
	var hooked []*wire.Message
	table.OnUnroutable(func(msg *wire.Message) { hooked = append(hooked, msg) })

	for tag := 0; tag < Slots; tag++ {
		assert.NotPanics(t, func() {
			assert.False(t, table.Route(&wire.Message{Routing: wire.RoutingType(tag)}))
		})
	}

	assert.Equal(t, uint64(Slots), table.Unroutable())
	assert.Len(t, hooked, Slots)
}

func TestRemoveAllKeepsDefault(t *testing.T) {
	table := NewTable()
	explicit, fallback := &countingHandler{}, &countingHandler{}
	table.SetHandler(9, explicit)
	table.SetDefaultHandler(fallback)

	table.RemoveAll()

	_, ok := table.GetHandler(9)
	assert.False(t, ok)
	def, ok := table.DefaultHandler()
	require.True(t, ok)
	assert.Same(t, fallback, def)

	table.Route(&wire.Message{Routing: 9})
	assert.Equal(t, 0, explicit.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestHandlerFunc(t *testing.T) {
	table := NewTable()
	called := 0
	table.SetHandler(wire.RouteUserBase, HandlerFunc(func(*wire.Message) { called++ }))

	table.Route(&wire.Message{Routing: wire.RouteUserBase})
	assert.Equal(t, 1, called)
}
