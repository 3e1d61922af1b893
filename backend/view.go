package webgui

import (
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"

	"github.com/CrimsonAS/webgui/backend/observable"
)

// Component is implemented by every type embedding View.
type Component interface {
	Base() *View
}

// Parent is what a component is attached to: the Session for the root view, any other
// component otherwise.
type Parent interface {
	parentSession() *Session
	adopt(c Component)
	release(c Component)
}

// SubjectUpdater is implemented by components that handle changes of their subject
// themselves. Components without it are re-rendered on every change.
type SubjectUpdater interface {
	OnSubjectUpdated(ev observable.Event)
}

// implemented by container views
type visibilityHook interface {
	viewShown()
	viewHidden()
}

type childHook interface {
	childRemoved(c Component)
}

type indexer interface {
	indexOf(v *View) int
}

type Option func(*View)

// Element sets the name of the element wrapping the view's markup, "div" by default.
func Element(name string) Option {
	return func(v *View) { v.element = name }
}

// Class sets the class of the wrapping element. It defaults to the component's type name.
func Class(class string) Option {
	return func(v *View) { v.class = class }
}

// Attrs adds attributes to the wrapping element.
func Attrs(attrs ...g.Node) Option {
	return func(v *View) { v.attrs = append(v.attrs, attrs...) }
}

var lastViewID atomic.Uint64

func nextViewID() string {
	return fmt.Sprintf("wg%014x", lastViewID.Add(1))
}

// View is embedded in every component. It renders the component into an element carrying the
// view's id, keeps the component subscribed to its subject while it is visible and sends
// patches for its element to the frontends of its session.
//
// A view only holds its subject and its parent weakly. Its parent owns it, and if the subject
// is collected the view deletes itself.
type View struct {
	self    Component
	id      string
	session *Session
	parent  weak.Pointer[View]

	subject    func() any
	hasSubject bool
	cleanup    runtime.Cleanup

	element string
	class   string
	attrs   []g.Node

	visible atomic.Bool
	deleted atomic.Bool

	// guarded by the session update lock
	rendered   bool
	lastRender time.Time
	autoUpdate time.Duration
	indexUsed  bool

	mu           sync.Mutex
	children     []Component
	observations []*observation
}

type observation struct {
	target weak.Pointer[observable.Observable]
	sub    observable.Subscriber
}

func (o *observation) attach() {
	if t := o.target.Value(); t != nil {
		t.Attach(o.sub)
	}
}

func (o *observation) detach() {
	if t := o.target.Value(); t != nil {
		t.Detach(o.sub)
	}
}

// Init initializes the view embedded in c with its subject and parent. subject may be nil
// for views that don't represent any object. If subject embeds observable.Observable, the
// view subscribes to it while visible.
//
// The subject is only referenced weakly; when it is collected the view is deleted. Subjects
// should be pointers to structs, the runtime may never report the collection of very small
// pointer-free allocations.
func Init[T any](c Component, subject *T, parent Parent, opts ...Option) error {
	v := c.Base()
	if v == nil {
		return errors.Errorf("%T has no view", c)
	} else if v.self != nil {
		return errors.Errorf("view %s is already initialized", v.id)
	} else if parent == nil {
		return errors.Errorf("view of %T has no parent", c)
	}
	s := parent.parentSession()
	if s == nil {
		return errors.Wrap(ErrNotInitialized, "parent")
	}

	v.self = c
	v.id = nextViewID()
	v.session = s
	v.element = "div"
	v.class = reflect.Indirect(reflect.ValueOf(c)).Type().Name()
	for _, opt := range opts {
		opt(v)
	}
	if pc, ok := parent.(Component); ok {
		v.parent = weak.Make(pc.Base())
	}

	if subject != nil {
		wp := weak.Make(subject)
		v.hasSubject = true
		v.subject = func() any {
			if p := wp.Value(); p != nil {
				return p
			}
			return nil
		}
		v.cleanup = runtime.AddCleanup(subject, subjectCollected, weak.Make(v))
		if sub, ok := any(subject).(observable.Subject); ok {
			v.observations = append(v.observations, &observation{
				target: weak.Make(sub.Observers()),
				sub:    observable.Observer(v, "subject", (*View).subjectUpdated),
			})
		}
	}

	parent.adopt(c)
	return nil
}

// InitView initializes a view that has no subject.
func InitView(c Component, parent Parent, opts ...Option) error {
	return Init[struct{}](c, nil, parent, opts...)
}

func subjectCollected(wv weak.Pointer[View]) {
	v := wv.Value()
	if v == nil {
		return
	}
	glog.V(1).Infof("webgui: subject of %s was collected", v)

	v.session.updateMu.Lock()
	defer v.session.updateMu.Unlock()
	v.delete(true)
}

func (v *View) Base() *View {
	return v
}

func (v *View) ID() string {
	return v.id
}

func (v *View) Session() *Session {
	return v.session
}

// Subject returns the subject, or nil if there is none or it was collected.
func (v *View) Subject() any {
	if !v.hasSubject {
		return nil
	}
	return v.subject()
}

// Parent returns the parent component, or nil for the root view.
func (v *View) Parent() Component {
	if p := v.parent.Value(); p != nil {
		return p.self
	}
	return nil
}

func (v *View) Visible() bool {
	return v.visible.Load()
}

func (v *View) Deleted() bool {
	return v.deleted.Load()
}

// Children returns the components created with this view as their parent.
func (v *View) Children() []Component {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.children)
}

func (v *View) String() string {
	if v.self == nil {
		return "uninitialized view"
	}
	return fmt.Sprintf("%T(%s)", v.self, v.id)
}

func (v *View) parentSession() *Session {
	return v.session
}

func (v *View) adopt(c Component) {
	v.mu.Lock()
	v.children = append(v.children, c)
	v.mu.Unlock()
}

func (v *View) release(c Component) {
	v.mu.Lock()
	if i := slices.Index(v.children, c); i >= 0 {
		v.children = slices.Delete(v.children, i, i+1)
	}
	v.mu.Unlock()

	if hook, ok := v.self.(childHook); ok {
		hook.childRemoved(c)
	}
}

// AddObservable subscribes the view to subject, which must embed observable.Observable.
// Changes are handled like changes of the view's own subject.
func (v *View) AddObservable(subject any) error {
	return v.addObservation(subject, observable.Observer(v, "subject", (*View).subjectUpdated))
}

// RemoveObservable drops all subscriptions of the view to subject.
func (v *View) RemoveObservable(subject any) {
	sub, ok := subject.(observable.Subject)
	if !ok {
		return
	}
	target := weak.Make(sub.Observers())

	v.mu.Lock()
	defer v.mu.Unlock()
	v.observations = slices.DeleteFunc(v.observations, func(o *observation) bool {
		if o.target != target {
			return false
		}
		o.detach()
		return true
	})
}

// Observe subscribes the view of c to subject with its own handler. fn is called with c for
// every change while the view is visible; it must not capture c. Observing the same subject
// twice under one name has no further effect.
func Observe[C Component](c C, subject any, name string, fn func(C, observable.Event)) error {
	v := c.Base()
	return v.addObservation(subject, observable.Observer(v, name, func(v *View, ev observable.Event) {
		if self, ok := v.self.(C); ok && v.visible.Load() {
			fn(self, ev)
		}
	}))
}

func (v *View) addObservation(subject any, s observable.Subscriber) error {
	if v.self == nil {
		return ErrNotInitialized
	}
	sub, ok := subject.(observable.Subject)
	if !ok {
		return errors.Wrapf(ErrNotObservable, "%T", subject)
	}
	o := &observation{target: weak.Make(sub.Observers()), sub: s}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, existing := range v.observations {
		if existing.target == o.target && existing.sub.Key() == s.Key() {
			return nil
		}
	}
	v.observations = append(v.observations, o)
	if v.visible.Load() {
		o.attach()
	}
	return nil
}

// ObservationCount returns the number of subscriptions of the view, attached or not.
func (v *View) ObservationCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.observations)
}

func (v *View) subjectUpdated(ev observable.Event) {
	if !v.visible.Load() {
		return
	}
	if u, ok := v.self.(SubjectUpdater); ok {
		u.OnSubjectUpdated(ev)
		return
	}
	v.Update()
}

// SetVisible changes the visibility of the view. Becoming visible attaches its subscriptions
// and needs a visible parent. Becoming invisible detaches the subscriptions of the view and
// all of its descendants.
func (v *View) SetVisible(visible bool) {
	v.session.updateMu.Lock()
	defer v.session.updateMu.Unlock()

	if visible {
		if p := v.parent.Value(); p != nil && !p.visible.Load() {
			glog.Warningf("webgui: %s can't be visible, its parent %s is not", v, p)
			return
		}
	}
	v.setVisible(visible)
}

func (v *View) setVisible(visible bool) {
	if visible {
		if v.deleted.Load() || v.visible.Swap(true) {
			return
		}
		v.mu.Lock()
		for _, o := range v.observations {
			o.attach()
		}
		v.mu.Unlock()
		if hook, ok := v.self.(visibilityHook); ok {
			hook.viewShown()
		}
		return
	}

	stack := []*View{v}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !n.visible.Swap(false) {
			// children of invisible views are invisible
			continue
		}

		n.mu.Lock()
		for _, o := range n.observations {
			o.detach()
		}
		children := slices.Clone(n.children)
		n.mu.Unlock()

		if hook, ok := n.self.(visibilityHook); ok {
			hook.viewHidden()
		}
		for _, c := range children {
			stack = append(stack, c.Base())
		}
	}
}

// render produces the markup of the view and marks it visible. Children that were visible but
// not rendered in this pass become invisible. ok is false if the view was deleted or its
// subject is gone.
func (v *View) render() (html string, ok bool) {
	if v.deleted.Load() || v.self == nil {
		return "", false
	}
	var subject any
	if v.hasSubject {
		if subject = v.subject(); subject == nil {
			return "", false
		}
	}

	v.setVisible(true)
	for _, c := range v.Children() {
		c.Base().rendered = false
	}

	inner, err := v.session.renderer.Render(v.self)
	runtime.KeepAlive(subject)
	rendersCounter.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		rerr := &RenderError{Component: v.String(), Err: err}
		glog.Errorf("webgui: %s", rerr)
		v.session.debug(rerr.Error())
		inner = renderNode(errorNode(rerr.Error()))
	}

	for _, c := range v.Children() {
		if cv := c.Base(); !cv.rendered && cv.visible.Load() {
			cv.setVisible(false)
		}
	}
	v.rendered = true
	v.lastRender = time.Now()
	return v.wrap(inner), true
}

func (v *View) wrap(inner string) string {
	nodes := []g.Node{h.ID(v.id)}
	if v.class != "" {
		nodes = append(nodes, h.Class(v.class))
	}
	nodes = append(nodes, v.attrs...)
	nodes = append(nodes, g.Raw(inner))
	return renderNode(g.El(v.element, nodes...))
}

func renderNode(n g.Node) string {
	var b strings.Builder
	if err := n.Render(&b); err != nil {
		glog.Errorf("webgui: rendering node failed: %s", err)
	}
	return b.String()
}

// RenderChild renders c for inclusion in the markup of its parent, for components that
// build their markup with Node. It renders nothing if c is gone.
func RenderChild(c Component) g.Node {
	if c == nil {
		return g.Group(nil)
	}
	html, _ := c.Base().render()
	return g.Raw(html)
}

// Update re-renders a visible view and replaces its element in all frontends.
func (v *View) Update() error {
	v.session.updateMu.Lock()
	defer v.session.updateMu.Unlock()
	return v.update()
}

func (v *View) update() error {
	if !v.visible.Load() {
		glog.Warningf("webgui: update of invisible view %s", v)
		return errors.Wrapf(ErrInvisible, "update %s", v)
	}
	html, ok := v.render()
	if !ok {
		return errors.Wrapf(ErrSubjectDied, "update %s", v)
	}
	v.session.patch("htmlgui.replace_element", v.id, html)
	return nil
}

// InsertElement renders child, which must have v as its parent, and inserts it as the
// index'th element into v's element. It returns false if child could not be rendered.
func (v *View) InsertElement(index int, child Component) bool {
	v.session.updateMu.Lock()
	defer v.session.updateMu.Unlock()
	return v.insertElement(index, child)
}

func (v *View) insertElement(index int, child Component) bool {
	cv := child.Base()
	if !v.visible.Load() {
		glog.Warningf("webgui: insert into invisible view %s", v)
		return false
	} else if p := cv.parent.Value(); p != v {
		glog.Warningf("webgui: insert of %s into %s, which is not its parent", cv, v)
		return false
	}

	html, ok := cv.render()
	if !ok {
		return false
	}
	v.session.patch("htmlgui.insert_element", v.id, index, html)
	return true
}

// MoveElement moves the element of child to the index'th position in v's element.
func (v *View) MoveElement(index int, child Component) error {
	v.session.updateMu.Lock()
	defer v.session.updateMu.Unlock()

	cv := child.Base()
	if !v.visible.Load() || !cv.visible.Load() {
		return errors.Wrapf(ErrInvisible, "move %s in %s", cv, v)
	}
	v.session.patch("htmlgui.move_element", v.id, index, cv.id)
	return nil
}

// Delete makes the view invisible, deletes its descendants, detaches it from its parent and
// removes its element from the frontends.
func (v *View) Delete() {
	v.session.updateMu.Lock()
	defer v.session.updateMu.Unlock()
	v.delete(true)
}

func (v *View) delete(removeElement bool) {
	if v.deleted.Load() || v.self == nil {
		return
	}
	wasVisible := v.visible.Load()
	v.setVisible(false)

	stack := []*View{v}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.deleted.Swap(true) {
			continue
		}
		if n.hasSubject {
			n.cleanup.Stop()
		}
		n.session.stopAutoUpdate(n)

		n.mu.Lock()
		children := n.children
		n.children = nil
		n.observations = nil
		n.mu.Unlock()

		if hook, ok := n.self.(visibilityHook); ok && n != v {
			hook.viewHidden()
		}
		for _, c := range children {
			stack = append(stack, c.Base())
		}
	}

	if p := v.parent.Value(); p != nil {
		p.release(v.self)
	} else {
		v.session.release(v.self)
	}
	if removeElement && wasVisible {
		v.session.patch("htmlgui.remove_element", v.id)
	}
}

// Ref registers the method name of the component with the session and returns the id the
// frontend calls it by. It is meant for templates: onclick="htmlgui.call({{ .Ref "Save" }})".
func (v *View) Ref(name string) (int64, error) {
	cb, err := bindMethod(v, name, func(v *View) any { return v.self })
	if err != nil {
		return 0, err
	}
	return v.session.Register(cb), nil
}

// ElementIndex returns the position of the view in the list view it belongs to, or -1. Views
// using it are re-rendered when their position changes.
func (v *View) ElementIndex() int {
	v.indexUsed = true
	if p := v.parent.Value(); p != nil {
		if ix, ok := p.self.(indexer); ok {
			return ix.indexOf(v)
		}
	}
	return -1
}

// CallJavascript calls the frontend function name in all connected frontends. It fails if
// the view is not visible.
func (v *View) CallJavascript(name string, args []any, skipResults bool) (*PendingCall, error) {
	if !v.visible.Load() {
		return nil, errors.Wrapf(ErrInvisible, "call %s from %s", name, v)
	}
	return v.session.CallJavascript(name, args, skipResults)
}

// EvalJavascript runs script in all connected frontends. The script sees args, and the id of
// the view's element as args.element_id.
func (v *View) EvalJavascript(script string, args map[string]any, skipResults bool) (*PendingCall, error) {
	scriptArgs := make(map[string]any, len(args)+1)
	for k, a := range args {
		scriptArgs[k] = a
	}
	scriptArgs["element_id"] = v.id
	return v.CallJavascript("htmlgui.eval_script", []any{script, scriptArgs}, skipResults)
}

// SetAutoUpdate re-renders the view periodically while it is visible. Intervals are at least
// one second; zero disables it.
func (v *View) SetAutoUpdate(interval time.Duration) {
	if interval > 0 && interval < time.Second {
		interval = time.Second
	}

	v.session.updateMu.Lock()
	v.autoUpdate = interval
	v.session.updateMu.Unlock()

	if interval > 0 {
		v.session.startAutoUpdate(v)
	} else {
		v.session.stopAutoUpdate(v)
	}
}
