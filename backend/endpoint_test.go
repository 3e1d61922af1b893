package webgui

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counts struct {
	mu     sync.Mutex
	events [][2]int
}

func (c *counts) record(sessions, connections int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, [2]int{sessions, connections})
}

func (c *counts) last() [2]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return [2]int{-1, -1}
	}
	return c.events[len(c.events)-1]
}

// serveEndpoint runs a connection through e and returns a frontend for it.
func serveEndpoint(t *testing.T, e *Endpoint) *frontend {
	t.Helper()
	f := &frontend{t: t, tr: newPipeTransport(), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		e.Serve(ctx, f.tr)
		close(f.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-f.done
	})
	return f
}

func pageFactory(s *Session) error {
	p := &page{Title: "endpoint"}
	return InitView(p, s)
}

func TestSharedEndpoint(t *testing.T) {
	e := NewEndpoint("shared", true, pageFactory, nil, nil)
	defer e.Close()
	connected, disconnected := &counts{}, &counts{}
	e.OnConnected = connected.record
	e.OnDisconnected = disconnected.record

	f1 := serveEndpoint(t, e)
	assert.Contains(t, f1.ready(), "<h1>endpoint</h1>")
	f2 := serveEndpoint(t, e)
	f2.ready()

	require.Len(t, e.Sessions(), 1)
	assert.Equal(t, [2]int{1, 2}, connected.last())

	f1.disconnect()
	assert.Equal(t, [2]int{1, 1}, disconnected.last())
	f2.disconnect()
	assert.Equal(t, [2]int{0, 0}, disconnected.last())
	assert.Empty(t, e.Sessions())
}

func TestPerConnectionEndpoint(t *testing.T) {
	e := NewEndpoint("private", false, pageFactory, nil, nil)
	defer e.Close()

	f1 := serveEndpoint(t, e)
	f1.ready()
	f2 := serveEndpoint(t, e)
	f2.ready()

	sessions := e.Sessions()
	require.Len(t, sessions, 2)
	assert.NotEqual(t, sessions[0].ID, sessions[1].ID)
	assert.NotEqual(t, sessions[0].Root().Base().ID(), sessions[1].Root().Base().ID())

	f1.disconnect()
	assert.Len(t, e.Sessions(), 1)
}

func TestEndpointExpose(t *testing.T) {
	e := NewEndpoint("expose", true, pageFactory, nil, nil)
	defer e.Close()
	require.NoError(t, e.Expose("double", func(i int) int { return 2 * i }))

	f := serveEndpoint(t, e)
	id := f.call("call_python_function_with_args", "double", []any{21})
	assert.EqualValues(t, 42, f.nextReturn(id).Value)

	assert.Error(t, e.Expose("bad", "not a function"))
}

func TestEndpointFactoryError(t *testing.T) {
	e := NewEndpoint("broken", false, func(*Session) error {
		return errors.New("no root for you")
	}, nil, nil)
	defer e.Close()

	tr := newPipeTransport()
	err := e.Serve(context.Background(), tr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no root for you")
	assert.Empty(t, e.Sessions())
	select {
	case <-tr.closed:
	case <-time.After(time.Second):
		t.Errorf("transport not closed")
	}
}

func TestEndpointRerender(t *testing.T) {
	e := NewEndpoint("rerender", true, pageFactory, nil, nil)
	defer e.Close()
	f := serveEndpoint(t, e)
	f.ready()

	root := e.Sessions()[0].Root().(*page)
	e.Sessions()[0].updateMu.Lock()
	root.Title = "again"
	e.Sessions()[0].updateMu.Unlock()
	e.Rerender()

	msg := f.nextCall("htmlgui.replace_element")
	assert.Equal(t, root.ID(), msg.Args[0])
	assert.Contains(t, msg.Args[1], "<h1>again</h1>")
}
