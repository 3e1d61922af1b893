package webgui

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CallResult is the reply of one frontend to a call.
type CallResult struct {
	Connection string
	Value      any
	Error      string
}

// PendingCall collects the replies to a call of a frontend function, one from every
// connection the call was sent to. It completes when all of them replied or disconnected,
// or when the session gives up on it because too many newer calls were made.
type PendingCall struct {
	ID   int64
	Name string

	timeout time.Duration

	mu        sync.Mutex
	waiting   map[*Connection]struct{}
	results   []CallResult
	abandoned bool
	done      chan struct{}
	callbacks []func([]any, error)
}

func newPendingCall(id int64, name string, conns []*Connection, timeout time.Duration) *PendingCall {
	p := &PendingCall{
		ID:      id,
		Name:    name,
		timeout: timeout,
		waiting: make(map[*Connection]struct{}, len(conns)),
		done:    make(chan struct{}),
	}
	for _, c := range conns {
		p.waiting[c] = struct{}{}
	}
	if len(p.waiting) == 0 {
		close(p.done)
	}
	return p
}

func (p *PendingCall) completed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// complete is called with mu held once nothing is awaited anymore.
func (p *PendingCall) complete() []func([]any, error) {
	close(p.done)
	callbacks := p.callbacks
	p.callbacks = nil
	return callbacks
}

func (p *PendingCall) finish(callbacks []func([]any, error)) {
	if len(callbacks) == 0 {
		return
	}
	values, err := p.Values(), p.Err()
	for _, cb := range callbacks {
		cb(values, err)
	}
}

// resolve records the reply of c and reports whether that completed the call.
func (p *PendingCall) resolve(c *Connection, value any, errMsg string) bool {
	p.mu.Lock()
	if _, ok := p.waiting[c]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.waiting, c)
	p.results = append(p.results, CallResult{Connection: c.ID, Value: value, Error: errMsg})
	var callbacks []func([]any, error)
	done := len(p.waiting) == 0
	if done {
		callbacks = p.complete()
	}
	p.mu.Unlock()

	p.finish(callbacks)
	return done
}

// drop stops waiting for c, which disconnected, and reports whether that completed the call.
func (p *PendingCall) drop(c *Connection) bool {
	p.mu.Lock()
	if _, ok := p.waiting[c]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.waiting, c)
	var callbacks []func([]any, error)
	done := len(p.waiting) == 0
	if done {
		callbacks = p.complete()
	}
	p.mu.Unlock()

	p.finish(callbacks)
	return done
}

// abandon completes the call with the results received so far.
func (p *PendingCall) abandon() {
	p.mu.Lock()
	if len(p.waiting) == 0 {
		p.mu.Unlock()
		return
	}
	p.waiting = nil
	p.abandoned = true
	callbacks := p.complete()
	p.mu.Unlock()

	p.finish(callbacks)
}

// Done is closed when the call completed.
func (p *PendingCall) Done() <-chan struct{} {
	return p.done
}

// Abandoned reports whether the call completed without hearing from all frontends it was
// sent to, other than those that disconnected.
func (p *PendingCall) Abandoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abandoned
}

// Results returns the replies received so far, in the order they arrived.
func (p *PendingCall) Results() []CallResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CallResult(nil), p.results...)
}

// Values returns the values of the successful replies received so far.
func (p *PendingCall) Values() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	values := make([]any, 0, len(p.results))
	for _, r := range p.results {
		if r.Error == "" {
			values = append(values, r.Value)
		}
	}
	return values
}

// Err returns a *FrontendError if any frontend replied with an error.
func (p *PendingCall) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var messages []string
	for _, r := range p.results {
		if r.Error != "" {
			messages = append(messages, r.Error)
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return &FrontendError{Name: p.Name, Failed: len(messages), Total: len(p.results), Messages: messages}
}

// Wait blocks until the call completed, or at most timeout. A timeout of zero uses the
// session's call timeout.
func (p *PendingCall) Wait(timeout time.Duration) ([]any, error) {
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.WaitContext(ctx)
}

func (p *PendingCall) WaitContext(ctx context.Context) ([]any, error) {
	select {
	case <-p.done:
		return p.Values(), p.Err()
	case <-ctx.Done():
		if errors.Cause(ctx.Err()) == context.DeadlineExceeded {
			return p.Values(), errors.Wrapf(ErrTimeout, "call %d to %s", p.ID, p.Name)
		}
		return p.Values(), ctx.Err()
	}
}

// Then arranges for cb to be called with the values and error once the call completed. If it
// already has, cb is called right away.
func (p *PendingCall) Then(cb func(values []any, err error)) {
	p.mu.Lock()
	if !p.completed() {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	cb(p.Values(), p.Err())
}
