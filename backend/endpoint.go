package webgui

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// SessionFactory sets up a new session, usually by initializing its root view with the
// session as parent.
type SessionFactory func(s *Session) error

// Endpoint creates sessions for incoming connections. A shared endpoint has at most one
// session that all connections attach to, otherwise every connection gets its own. Sessions
// are closed when their last connection goes away.
type Endpoint struct {
	Name   string
	Shared bool

	// OnConnected and OnDisconnected are called with the number of sessions and connections
	// after a connection was attached or detached.
	OnConnected    func(sessions, connections int)
	OnDisconnected func(sessions, connections int)
	// OnReady is set as OnReady of every session.
	OnReady func(s *Session, c *Connection)

	renderer Renderer
	settings *Settings
	factory  SessionFactory

	mu       sync.Mutex
	sessions []*Session
	exposed  map[string]any
}

func NewEndpoint(name string, shared bool, factory SessionFactory, renderer Renderer, settings *Settings) *Endpoint {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Endpoint{
		Name:     name,
		Shared:   shared,
		renderer: renderer,
		settings: settings,
		factory:  factory,
		exposed:  make(map[string]any),
	}
}

// Expose makes fn callable by name in all sessions of the endpoint, current and future.
func (e *Endpoint) Expose(name string, fn any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		if err := s.Expose(name, fn); err != nil {
			return err
		}
	}
	e.exposed[name] = fn
	return nil
}

func (e *Endpoint) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// counts is called with mu held
func (e *Endpoint) counts() (sessions, connections int) {
	for _, s := range e.sessions {
		connections += s.ConnectionCount()
	}
	return len(e.sessions), connections
}

// newSession is called with mu held
func (e *Endpoint) newSession() (*Session, error) {
	s := NewSession(e.renderer, e.settings)
	s.OnReady = e.OnReady
	for name, fn := range e.exposed {
		s.Expose(name, fn)
	}
	if e.factory != nil {
		if err := e.factory(s); err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "endpoint %s: creating session", e.Name)
		}
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Serve attaches t to a session and processes it until it closes or ctx is done.
func (e *Endpoint) Serve(ctx context.Context, t Transport) error {
	e.mu.Lock()
	var s *Session
	var err error
	if e.Shared && len(e.sessions) > 0 {
		s = e.sessions[0]
	} else if s, err = e.newSession(); err != nil {
		e.mu.Unlock()
		t.Close()
		return err
	}
	c, err := s.Connect(t)
	if err != nil {
		e.mu.Unlock()
		t.Close()
		return err
	}
	sessions, connections := e.counts()
	e.mu.Unlock()

	if e.OnConnected != nil {
		e.OnConnected(sessions, connections)
	}

	err = s.Run(ctx, c)
	s.Disconnect(c)

	e.mu.Lock()
	if s.ConnectionCount() == 0 {
		for i, es := range e.sessions {
			if es == s {
				e.sessions = append(e.sessions[:i], e.sessions[i+1:]...)
				break
			}
		}
		s.Close()
	}
	sessions, connections = e.counts()
	e.mu.Unlock()

	if e.OnDisconnected != nil {
		e.OnDisconnected(sessions, connections)
	}
	if errors.Cause(err) == ErrConnectionClosed {
		err = nil
	}
	glog.V(1).Infof("webgui: endpoint %s: connection %s done (%d sessions, %d connections)",
		e.Name, c.ID, sessions, connections)
	return err
}

// Rerender renders all sessions again, for example after templates changed.
func (e *Endpoint) Rerender() {
	for _, s := range e.Sessions() {
		if err := s.Rerender(); err != nil {
			glog.Warningf("webgui: endpoint %s: rerender of session %s failed: %s", e.Name, s.ID, err)
		}
	}
}

// Close closes all sessions.
func (e *Endpoint) Close() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = nil
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
