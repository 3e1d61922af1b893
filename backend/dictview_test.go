package webgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/webgui/backend/observable"
)

type itemDict struct {
	DictView
}

type entryView struct {
	View
	Key string
}

func (v *entryView) Template() string {
	return `{{ .Key }}={{ .Subject.Name }}`
}

func newEntryView(key, it any, parent Parent) (Component, error) {
	v := &entryView{Key: key.(string)}
	return v, Init(v, it.(*item), parent, Element("li"))
}

func newItemDict(t *testing.T, s *Session, entries ...observable.Entry[string, *item]) (*itemDict, *observable.Dict[string, *item]) {
	t.Helper()
	dict := observable.NewDict(entries...)
	dv := &itemDict{}
	require.NoError(t, InitDict(dv, dict, s, newEntryView, Element("ul")))
	return dv, dict
}

func TestInitDictRequiresMapping(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()

	assert.ErrorIs(t, InitDict(&itemDict{}, observable.NewList[*item](), s, newEntryView), ErrNotObservable)
	assert.Error(t, InitDict(&itemDict{}, observable.NewDict[string, *item](), s, nil))
}

func TestDictViewOrdersByKey(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	dv, _ := newItemDict(t, s,
		observable.Entry[string, *item]{Key: "b", Value: newItem("two")},
		observable.Entry[string, *item]{Key: "a", Value: newItem("one")},
	)

	html := render(dv)
	assert.Less(t, strings.Index(html, "a=one"), strings.Index(html, "b=two"))
	assert.Equal(t, []any{"a", "b"}, dv.Keys())
	assert.Len(t, dv.Items(), 2)
}

func TestDictViewSetAndDelete(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	dv, dict := newItemDict(t, s,
		observable.Entry[string, *item]{Key: "a", Value: newItem("one")},
		observable.Entry[string, *item]{Key: "b", Value: newItem("two")},
	)
	f, _ := connectReady(t, s)

	dict.Set("c", newItem("three"))
	msg := f.nextCall("htmlgui.insert_element")
	assert.Equal(t, dv.ID(), msg.Args[0])
	assert.EqualValues(t, 2, msg.Args[1])
	assert.Contains(t, msg.Args[2], "c=three")

	old := dv.Items()[0]
	dict.Set("a", newItem("uno"))
	msg = f.nextCall("htmlgui.remove_element")
	assert.Equal(t, []any{old.Base().ID()}, msg.Args)
	msg = f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 0, msg.Args[1])
	assert.Contains(t, msg.Args[2], "a=uno")

	viewB := dv.Items()[1]
	require.NoError(t, dict.Delete("b"))
	msg = f.nextCall("htmlgui.remove_element")
	assert.Equal(t, []any{viewB.Base().ID()}, msg.Args)
	assert.Equal(t, []any{"a", "c"}, dv.Keys())

	// popping a missing key changes nothing
	_, ok := dict.Pop("missing")
	assert.False(t, ok)
	f.quiet()

	dict.Clear()
	msg = f.nextCall("htmlgui.replace_element")
	assert.Equal(t, dv.ID(), msg.Args[0])
	assert.Empty(t, dv.Keys())
}

func TestDictViewUpdate(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	dv, dict := newItemDict(t, s, observable.Entry[string, *item]{Key: "m", Value: newItem("middle")})
	f, _ := connectReady(t, s)

	dict.Update(
		observable.Entry[string, *item]{Key: "z", Value: newItem("last")},
		observable.Entry[string, *item]{Key: "a", Value: newItem("first")},
	)
	msg := f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 1, msg.Args[1])
	msg = f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 0, msg.Args[1])
	assert.Equal(t, []any{"a", "m", "z"}, dv.Keys())
}

func TestDictViewCustomSort(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	dv, dict := newItemDict(t, s,
		observable.Entry[string, *item]{Key: "a", Value: newItem("one")},
		observable.Entry[string, *item]{Key: "b", Value: newItem("two")},
	)
	render(dv)

	dv.SetSort(func(a, b any) bool { return a.(string) > b.(string) })
	assert.Equal(t, []any{"b", "a"}, dv.Keys())

	dict.Set("c", newItem("three"))
	assert.Equal(t, []any{"c", "b", "a"}, dv.Keys())
}

func TestCompareKeys(t *testing.T) {
	assert.Negative(t, compareKeys("a", "b"))
	assert.Negative(t, compareKeys(2, 10))
	assert.Negative(t, compareKeys(2.5, 10.0))
	assert.Zero(t, compareKeys(int64(3), int64(3)))
	assert.Positive(t, compareKeys(true, false))
}
