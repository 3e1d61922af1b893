package webgui

import (
	"context"
	"encoding/json"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/CrimsonAS/webgui/backend/weakfn"
)

// BodyElement is the id of the element the root view is rendered into.
const BodyElement = "htmlguiBody"

// Session is one logical user interface: a root view and the frontends showing it. All
// frontends connected to a session see the same views; calls of frontend functions go to all
// of them.
type Session struct {
	ID string

	// OnReady is called when a frontend has completed its handshake and has been sent the
	// initial markup.
	OnReady func(s *Session, c *Connection)

	settings  *Settings
	renderer  Renderer
	callbacks weakfn.Registry[[]any, Result]

	// updateMu serializes all changes of the view tree and all rendering
	updateMu sync.Mutex

	mu       sync.Mutex
	root     Component
	conns    []*Connection
	frontend map[string]struct{}
	exposed  map[string]any
	lastCall int64
	pending  map[int64]*PendingCall
	polled   map[*View]struct{}
	pollStop chan struct{}
	closed   bool
}

// NewSession creates a session rendering with renderer. A nil renderer uses a
// TemplateRenderer without template files, and nil settings use DefaultSettings.
func NewSession(renderer Renderer, settings *Settings) *Session {
	if renderer == nil {
		renderer = NewTemplateRenderer(nil)
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	u, _ := uuid.NewV4()
	s := &Session{
		ID:       u.String(),
		settings: settings,
		renderer: renderer,
		frontend: make(map[string]struct{}),
		exposed:  make(map[string]any),
		pending:  make(map[int64]*PendingCall),
		polled:   make(map[*View]struct{}),
	}
	sessionsGauge.Inc()
	glog.V(1).Infof("webgui: session %s created", s.ID)
	return s
}

func (s *Session) parentSession() *Session {
	return s
}

func (s *Session) adopt(c Component) {
	s.mu.Lock()
	old := s.root
	s.root = c
	s.mu.Unlock()

	if old != nil && old != c {
		glog.Warningf("webgui: session %s: root view %s replaced by %s", s.ID, old.Base(), c.Base())
	}
}

func (s *Session) release(c Component) {
	s.mu.Lock()
	if s.root == c {
		s.root = nil
	}
	s.mu.Unlock()
}

// Root returns the root view, or nil.
func (s *Session) Root() Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

func (s *Session) Settings() *Settings {
	return s.settings
}

// Register makes cb callable by frontends and returns its id. Registering the same method of
// the same owner again returns the same id.
func (s *Session) Register(cb Callback) int64 {
	return s.callbacks.Register(cb)
}

func (s *Session) Unregister(id int64) {
	s.callbacks.Unregister(id)
}

// Expose makes fn callable by frontends under name. fn must be a function; its arguments are
// converted like Invoke does. Exposed functions are held strongly.
func (s *Session) Expose(name string, fn any) error {
	if reflect.ValueOf(fn).Kind() != reflect.Func {
		return errors.Errorf("exposing %s: %T is not a function", name, fn)
	}
	s.mu.Lock()
	s.exposed[name] = fn
	s.mu.Unlock()
	return nil
}

// FrontendFunctions returns the names of the functions frontends have made callable.
func (s *Session) FrontendFunctions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.frontend))
	for name := range s.frontend {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Session) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conns)
}

func (s *Session) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// readyConnections is called with mu held
func (s *Session) readyConnections() []*Connection {
	var conns []*Connection
	for _, c := range s.conns {
		if c.ready.Load() {
			conns = append(conns, c)
		}
	}
	return conns
}

// Connect attaches a transport to the session. The returned connection does nothing until
// Run is called; Serve does both.
func (s *Session) Connect(t Transport) (*Connection, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrConnectionClosed, "session %s is closed", s.ID)
	}
	c := newConnection(s, t)
	s.conns = append(s.conns, c)
	count := len(s.conns)
	s.mu.Unlock()

	connectionsGauge.Inc()
	glog.V(1).Infof("webgui: session %s: connection %s opened (%d connected)", s.ID, c.ID, count)
	return c, nil
}

// Run processes messages of c until it is closed or ctx is done.
func (s *Session) Run(ctx context.Context, c *Connection) error {
	return c.run(ctx)
}

// Disconnect detaches c. Calls waiting for c stop doing so, and once no connection is left
// the view tree becomes invisible.
func (s *Session) Disconnect(c *Connection) {
	c.Close()

	s.mu.Lock()
	i := slices.Index(s.conns, c)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.conns = slices.Delete(s.conns, i, i+1)
	remaining := len(s.conns)
	pending := make([]*PendingCall, 0, len(s.pending))
	for _, p := range s.pending {
		pending = append(pending, p)
	}
	s.mu.Unlock()

	connectionsGauge.Dec()
	glog.V(1).Infof("webgui: session %s: connection %s closed (%d connected): %v", s.ID, c.ID, remaining, c.Err())

	for _, p := range pending {
		if p.drop(c) {
			s.forget(p.ID)
		}
	}

	if remaining == 0 {
		s.updateMu.Lock()
		if root := s.Root(); root != nil {
			root.Base().setVisible(false)
		}
		s.updateMu.Unlock()
	}
}

// Serve runs t as a connection of the session until it closes or ctx is done.
func (s *Session) Serve(ctx context.Context, t Transport) error {
	c, err := s.Connect(t)
	if err != nil {
		t.Close()
		return err
	}
	defer s.Disconnect(c)
	return s.Run(ctx, c)
}

// Close disconnects all frontends, abandons pending calls and deletes the view tree.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := slices.Clone(s.conns)
	pending := s.pending
	s.pending = make(map[int64]*PendingCall)
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.Disconnect(c)
	}
	for _, p := range pending {
		pendingGauge.Dec()
		p.abandon()
	}

	s.updateMu.Lock()
	if root := s.Root(); root != nil {
		root.Base().delete(false)
	}
	s.updateMu.Unlock()

	sessionsGauge.Dec()
	glog.V(1).Infof("webgui: session %s closed", s.ID)
}

// Rerender renders the root view again and sends it to all frontends.
func (s *Session) Rerender() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	root := s.Root()
	if root == nil || !root.Base().visible.Load() {
		return nil
	}
	return root.Base().update()
}

// CallJavascript calls the frontend function name in every connected frontend. Unless
// skipResults is set, the returned PendingCall collects their replies.
func (s *Session) CallJavascript(name string, args []any, skipResults bool) (*PendingCall, error) {
	if args == nil {
		args = []any{}
	}

	s.mu.Lock()
	if _, known := s.frontend[name]; !known {
		s.mu.Unlock()
		callsCounter.WithLabelValues("frontend", "error").Inc()
		return nil, errors.Wrapf(ErrUnknownFunction, "frontend function %s", name)
	}
	s.lastCall++
	id := s.lastCall
	conns := s.readyConnections()
	var p *PendingCall
	var expired []*PendingCall
	if !skipResults {
		p = newPendingCall(id, name, conns, s.settings.CallTimeout)
		if !p.completed() {
			s.pending[id] = p
			pendingGauge.Inc()
		}
		expired = s.expireLocked(id)
	}
	s.mu.Unlock()

	for _, e := range expired {
		glog.Warningf("webgui: session %s: abandoned call %d to %s, %d newer calls were made",
			s.ID, e.ID, e.Name, id-e.ID)
		e.abandon()
	}

	buf, err := json.Marshal(callMessage{Call: id, Name: name, Args: args, SkipResults: skipResults})
	if err != nil {
		if p != nil {
			s.forget(id)
			p.abandon()
		}
		callsCounter.WithLabelValues("frontend", "error").Inc()
		return nil, errors.Wrapf(err, "encoding call to %s", name)
	}
	for _, c := range conns {
		if err := c.send(buf); err != nil && p != nil && p.drop(c) {
			s.forget(id)
		}
	}
	callsCounter.WithLabelValues("frontend", "ok").Inc()
	return p, nil
}

// Call calls the frontend function name and waits for the replies of all frontends.
func (s *Session) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	p, err := s.CallJavascript(name, args, false)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.CallTimeout)
		defer cancel()
	}
	return p.WaitContext(ctx)
}

// expireLocked removes pending calls that fell out of the window before id.
func (s *Session) expireLocked(id int64) []*PendingCall {
	var expired []*PendingCall
	for pid, p := range s.pending {
		if id-pid >= int64(s.settings.PendingWindow) {
			delete(s.pending, pid)
			pendingGauge.Dec()
			expired = append(expired, p)
		}
	}
	return expired
}

func (s *Session) forget(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		pendingGauge.Dec()
	}
}

// PendingCount returns the number of calls still waiting for frontends.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// patch sends a markup change to all ready frontends, not waiting for results.
func (s *Session) patch(name string, args ...any) {
	s.mu.Lock()
	ready := len(s.readyConnections())
	s.mu.Unlock()
	if ready == 0 {
		return
	}
	if _, err := s.CallJavascript(name, args, true); err != nil {
		glog.Warningf("webgui: session %s: %s", s.ID, err)
	}
}

// debug shows msg in the frontends.
func (s *Session) debug(msg string) {
	s.patch("htmlgui.debug_msg", msg)
}

func (s *Session) handleMessage(c *Connection, data []byte) {
	var msg incomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		droppedCounter.Inc()
		c.warn("dropped undecodable message: %s", err)
		return
	}

	switch {
	case msg.Return != nil:
		s.handleReturn(c, *msg.Return, msg.Value, msg.Error)
	case msg.Call != nil:
		s.handleCall(c, *msg.Call, msg.Name, msg.Args, msg.SkipResults)
	default:
		droppedCounter.Inc()
		c.warn("dropped message without call or return: %s", data)
	}
}

func (s *Session) handleReturn(c *Connection, id int64, value any, errMsg string) {
	s.mu.Lock()
	p, exists := s.pending[id]
	s.mu.Unlock()

	if !exists {
		glog.V(2).Infof("webgui: connection %s: return for unknown call %d", c.ID, id)
		return
	}
	if p.resolve(c, value, errMsg) {
		s.forget(id)
	}
}

func (s *Session) handleCall(c *Connection, id int64, name string, args []any, skipResults bool) {
	var value any
	var err error

	switch name {
	case "frontend_ready":
		err = s.frontendReady(c, args)
	case "call_python_function", "call_python_function_with_args":
		value, err = s.callBackend(name, args)
	case "ping":
		value = "pong"
	default:
		err = errors.Wrapf(ErrUnknownFunction, "%s", name)
	}
	callsCounter.WithLabelValues("backend", resultLabel(err)).Inc()

	if err != nil {
		c.warn("call %d to %s failed: %s", id, name, err)
		value = map[string]string{"error": err.Error()}
	}
	if skipResults {
		return
	}
	if err := c.sendMessage(returnMessage{Return: id, Value: value}); err != nil {
		if errors.Cause(err) != ErrConnectionClosed {
			// the value could not be encoded
			c.sendMessage(returnMessage{Return: id, Value: map[string]string{"error": err.Error()}})
		}
	}
}

// frontendReady records the functions of the frontend and sends it the root view.
func (s *Session) frontendReady(c *Connection, args []any) error {
	if len(args) > 0 {
		names, ok := args[0].([]any)
		if !ok {
			return errors.Wrap(ErrBadArguments, "frontend_ready expects a list of function names")
		}
		s.mu.Lock()
		for _, n := range names {
			if name, ok := n.(string); ok {
				s.frontend[name] = struct{}{}
			}
		}
		s.mu.Unlock()
	}

	s.updateMu.Lock()
	var html string
	if root := s.Root(); root == nil {
		html = renderNode(errorNode("session has no root view"))
	} else if out, ok := root.Base().render(); ok {
		html = out
	}
	s.mu.Lock()
	s.lastCall++
	id := s.lastCall
	s.mu.Unlock()
	err := c.sendMessage(callMessage{Call: id, Name: "htmlgui.update_element", Args: []any{BodyElement, html}, SkipResults: true})
	c.ready.Store(true)
	s.updateMu.Unlock()

	if err != nil {
		return err
	}
	glog.V(1).Infof("webgui: session %s: connection %s is ready", s.ID, c.ID)
	if s.OnReady != nil {
		s.OnReady(s, c)
	}
	return nil
}

// callBackend calls a registered callback by id, or an exposed function by name.
func (s *Session) callBackend(name string, args []any) (value any, err error) {
	if len(args) == 0 {
		return nil, errors.Wrapf(ErrBadArguments, "%s without function", name)
	}
	var fnArgs []any
	if name == "call_python_function_with_args" {
		if len(args) < 2 {
			return nil, errors.Wrapf(ErrBadArguments, "%s without arguments", name)
		} else if args[1] != nil {
			var ok bool
			if fnArgs, ok = args[1].([]any); !ok {
				return nil, errors.Wrapf(ErrBadArguments, "%s arguments are not a list", name)
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
		if err != nil && errors.Cause(err) != ErrUnknownFunction {
			glog.Errorf("webgui: session %s: backend function %v failed: %s", s.ID, args[0], err)
			s.debug(err.Error())
		}
	}()

	switch ref := args[0].(type) {
	case float64:
		cb, err := s.callbacks.Resolve(int64(ref))
		if err != nil {
			return nil, errors.Wrapf(ErrUnknownFunction, "%s", err)
		}
		r, ok := cb.Call(fnArgs)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownFunction, "owner of %s was collected", cb.Key().Name())
		}
		return r.Value, r.Err

	case string:
		s.mu.Lock()
		fn, exists := s.exposed[ref]
		s.mu.Unlock()
		if !exists {
			return nil, errors.Wrapf(ErrUnknownFunction, "%s", ref)
		}
		return Invoke(fn, ref, fnArgs)

	default:
		return nil, errors.Wrapf(ErrBadArguments, "invalid function reference %v", ref)
	}
}

func (s *Session) startAutoUpdate(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.polled[v] = struct{}{}
	if s.pollStop == nil {
		s.pollStop = make(chan struct{})
		go s.autoUpdateLoop(s.pollStop)
	}
}

func (s *Session) stopAutoUpdate(v *View) {
	s.mu.Lock()
	delete(s.polled, v)
	s.mu.Unlock()
}

func (s *Session) autoUpdateLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.settings.AutoUpdateTick)
	defer ticker.Stop()

	var tick int64
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			tick++
			s.autoUpdate(tick, now)
		}
	}
}

// autoUpdate re-renders polled views every interval, skipping those that were rendered
// during the last half interval anyway.
func (s *Session) autoUpdate(tick int64, now time.Time) {
	s.mu.Lock()
	views := make([]*View, 0, len(s.polled))
	for v := range s.polled {
		views = append(views, v)
	}
	s.mu.Unlock()

	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	for _, v := range views {
		ticks := int64(v.autoUpdate / s.settings.AutoUpdateTick)
		if ticks < 1 || !v.visible.Load() || tick%ticks != 0 {
			continue
		}
		if now.Sub(v.lastRender) > v.autoUpdate/2 {
			v.update()
		}
	}
}
