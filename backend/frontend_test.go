package webgui

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/webgui/backend/observable"
)

func TestMain(m *testing.M) {
	flag.Parse()
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "FATAL")
	os.Exit(m.Run())
}

// pipeTransport is an in-memory Transport; the test plays the frontend on the other end.
type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) ReadMessage() ([]byte, error) {
	select {
	case buf := <-p.in:
		return buf, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeTransport) WriteMessage(buf []byte) error {
	select {
	case p.out <- buf:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

var builtinFunctions = []any{
	"htmlgui.update_element",
	"htmlgui.replace_element",
	"htmlgui.insert_element",
	"htmlgui.remove_element",
	"htmlgui.move_element",
	"htmlgui.debug_msg",
	"htmlgui.eval_script",
	"notify",
}

type wireMessage struct {
	Call        *int64 `json:"call"`
	Return      *int64 `json:"return"`
	Name        string `json:"name"`
	Args        []any  `json:"args"`
	Value       any    `json:"value"`
	SkipResults bool   `json:"skip_results"`
}

// frontend drives one connection of a session like a browser would.
type frontend struct {
	t        *testing.T
	tr       *pipeTransport
	lastCall int64
	done     chan struct{}
}

func connect(t *testing.T, s *Session) *frontend {
	t.Helper()
	f := &frontend{t: t, tr: newPipeTransport(), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	before := s.ConnectionCount()
	go func() {
		s.Serve(ctx, f.tr)
		close(f.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-f.done
	})
	require.Eventually(t, func() bool { return s.ConnectionCount() > before }, 5*time.Second, time.Millisecond)
	return f
}

// connectReady connects and completes the handshake, returning the initial body markup.
func connectReady(t *testing.T, s *Session) (*frontend, string) {
	t.Helper()
	f := connect(t, s)
	html := f.ready()
	return f, html
}

func (f *frontend) send(msg any) {
	f.t.Helper()
	buf, err := json.Marshal(msg)
	require.NoError(f.t, err)
	f.tr.in <- buf
}

func (f *frontend) call(name string, args ...any) int64 {
	f.t.Helper()
	f.lastCall++
	if args == nil {
		args = []any{}
	}
	f.send(map[string]any{"call": f.lastCall, "name": name, "args": args})
	return f.lastCall
}

func (f *frontend) reply(call int64, value any) {
	f.send(map[string]any{"return": call, "value": value})
}

func (f *frontend) replyError(call int64, msg string) {
	f.send(map[string]any{"return": call, "value": nil, "error": msg})
}

func (f *frontend) next() wireMessage {
	f.t.Helper()
	select {
	case buf := <-f.tr.out:
		var msg wireMessage
		require.NoError(f.t, json.Unmarshal(buf, &msg), "message %s", buf)
		return msg
	case <-time.After(5 * time.Second):
		f.t.Fatal("timeout waiting for a message from the backend")
		return wireMessage{}
	}
}

// nextCall skips messages until a call of name arrives.
func (f *frontend) nextCall(name string) wireMessage {
	f.t.Helper()
	for {
		if msg := f.next(); msg.Call != nil && msg.Name == name {
			return msg
		}
	}
}

func (f *frontend) nextReturn(call int64) wireMessage {
	f.t.Helper()
	for {
		if msg := f.next(); msg.Return != nil && *msg.Return == call {
			return msg
		}
	}
}

// quiet asserts that nothing is sent for a moment.
func (f *frontend) quiet() {
	f.t.Helper()
	select {
	case buf := <-f.tr.out:
		f.t.Errorf("unexpected message %s", buf)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *frontend) ready() string {
	f.t.Helper()
	f.call("frontend_ready", builtinFunctions)
	msg := f.nextCall("htmlgui.update_element")
	require.Len(f.t, msg.Args, 2)
	require.Equal(f.t, BodyElement, msg.Args[0])
	return msg.Args[1].(string)
}

func (f *frontend) disconnect() {
	f.tr.Close()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		f.t.Fatal("timeout waiting for disconnect")
	}
}

// Components used throughout the tests

type item struct {
	observable.Observable
	Name string
}

func newItem(name string) *item {
	return &item{Name: name}
}

func (i *item) Rename(name string) {
	i.Name = name
	i.Notify(observable.Event{Source: i})
}

type itemView struct {
	View
}

func (v *itemView) Template() string {
	return `{{ .Subject.Name }}`
}

func newItemView(it any, parent Parent) (Component, error) {
	v := &itemView{}
	return v, Init(v, it.(*item), parent, Element("li"))
}

type indexedItemView struct {
	View
}

func (v *indexedItemView) Template() string {
	return `{{ .ElementIndex }}:{{ .Subject.Name }}`
}

func newIndexedItemView(it any, parent Parent) (Component, error) {
	v := &indexedItemView{}
	return v, Init(v, it.(*item), parent)
}

type itemList struct {
	ListView
}

type page struct {
	View
	Title string
	List  *itemList
	Child Component
	Show  bool
}

func (p *page) Template() string {
	return `<h1>{{ .Title }}</h1>{{ if .List }}{{ render .List }}{{ end }}{{ if .Show }}{{ render .Child }}{{ end }}`
}

func newPage(t *testing.T, s *Session, list *observable.List[*item], factory ItemFactory) *page {
	t.Helper()
	p := &page{Title: "test"}
	require.NoError(t, InitView(p, s))
	if list != nil {
		p.List = &itemList{}
		require.NoError(t, InitList(p.List, list, p, factory, Element("ul")))
	}
	return p
}

func render(c Component) string {
	v := c.Base()
	v.session.updateMu.Lock()
	defer v.session.updateMu.Unlock()
	html, _ := v.render()
	return html
}

func itemNames(views []Component) []string {
	names := make([]string, len(views))
	for i, v := range views {
		names[i] = v.Base().Subject().(*item).Name
	}
	return names
}
