package webgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/webgui/backend/observable"
)

func byName(a, b *item) int {
	return strings.Compare(a.Name, b.Name)
}

func TestInitListRequiresSequence(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()

	assert.ErrorIs(t, InitList(&itemList{}, newItem("a"), s, newItemView), ErrNotObservable)
	assert.Error(t, InitList(&itemList{}, observable.NewList[*item](), s, nil))
	assert.Error(t, InitList(&page{}, observable.NewList[*item](), s, newItemView))
}

func TestListViewInsert(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	a, b, c := newItem("A"), newItem("B"), newItem("C")
	list := observable.NewList(a, b)
	p := newPage(t, s, list, newItemView)
	f, html := connectReady(t, s)
	assert.Contains(t, html, ">A</li>")
	assert.Contains(t, html, ">B</li>")

	list.Insert(1, c)
	msg := f.nextCall("htmlgui.insert_element")
	require.Len(t, msg.Args, 3)
	assert.Equal(t, p.List.ID(), msg.Args[0])
	assert.EqualValues(t, 1, msg.Args[1])
	assert.Contains(t, msg.Args[2], ">C</li>")

	assert.Equal(t, []string{"A", "C", "B"}, itemNames(p.List.Items()))
	assert.Equal(t, 1, c.ObserverCount())
}

func TestListViewAppendAndExtend(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	list := observable.NewList(newItem("a"))
	p := newPage(t, s, list, newItemView)
	f, _ := connectReady(t, s)

	list.Append(newItem("b"))
	msg := f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 1, msg.Args[1])

	list.Extend(newItem("c"), newItem("d"))
	msg = f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 2, msg.Args[1])
	assert.Contains(t, msg.Args[2], ">c</li>")
	msg = f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 3, msg.Args[1])
	assert.Contains(t, msg.Args[2], ">d</li>")

	assert.Equal(t, []string{"a", "b", "c", "d"}, itemNames(p.List.Items()))
}

func TestListViewRemove(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	a, b, c := newItem("a"), newItem("b"), newItem("c")
	list := observable.NewList(a, b, c)
	p := newPage(t, s, list, newItemView)
	f, _ := connectReady(t, s)
	views := p.List.Items()

	require.NoError(t, list.Remove(b))
	msg := f.nextCall("htmlgui.remove_element")
	assert.Equal(t, []any{views[1].Base().ID()}, msg.Args)
	assert.True(t, views[1].Base().Deleted())
	assert.Equal(t, 0, b.ObserverCount())

	_, err := list.Pop(-1)
	require.NoError(t, err)
	msg = f.nextCall("htmlgui.remove_element")
	assert.Equal(t, []any{views[2].Base().ID()}, msg.Args)

	assert.Equal(t, []string{"a"}, itemNames(p.List.Items()))
	assert.Equal(t, []Component{views[0]}, p.List.Children())
}

func TestListViewSetItem(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	list := observable.NewList(newItem("a"), newItem("b"))
	p := newPage(t, s, list, newItemView)
	f, _ := connectReady(t, s)
	old := p.List.Items()[1]

	require.NoError(t, list.Set(1, newItem("x")))
	msg := f.nextCall("htmlgui.remove_element")
	assert.Equal(t, []any{old.Base().ID()}, msg.Args)
	msg = f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 1, msg.Args[1])
	assert.Contains(t, msg.Args[2], ">x</li>")
	assert.Equal(t, []string{"a", "x"}, itemNames(p.List.Items()))
}

func TestListViewResetActions(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	list := observable.NewList(newItem("b"), newItem("c"), newItem("a"))
	p := newPage(t, s, list, newItemView)
	f, _ := connectReady(t, s)

	list.Sort(byName)
	msg := f.nextCall("htmlgui.replace_element")
	assert.Equal(t, p.List.ID(), msg.Args[0])
	html := msg.Args[1].(string)
	assert.Less(t, strings.Index(html, ">a<"), strings.Index(html, ">b<"))
	assert.Less(t, strings.Index(html, ">b<"), strings.Index(html, ">c<"))

	list.Reverse()
	f.nextCall("htmlgui.replace_element")
	assert.Equal(t, []string{"c", "b", "a"}, itemNames(p.List.Items()))

	list.Clear()
	msg = f.nextCall("htmlgui.replace_element")
	assert.NotContains(t, msg.Args[1], "<li")
	assert.Empty(t, p.List.Items())
	assert.Empty(t, p.List.Children())
}

func TestListViewFilter(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	list := observable.NewList(newItem("a"), newItem("b"), newItem("c"))
	p := newPage(t, s, list, newItemView)
	f, _ := connectReady(t, s)

	p.List.SetFilter(func(it any) bool { return it.(*item).Name != "b" })
	msg := f.nextCall("htmlgui.replace_element")
	assert.NotContains(t, msg.Args[1], ">b</li>")
	assert.Equal(t, []string{"a", "c"}, itemNames(p.List.Items()))

	// filtered items are not inserted
	list.Append(newItem("b"))
	f.quiet()

	list.Append(newItem("d"))
	msg = f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 2, msg.Args[1])
	assert.Equal(t, []string{"a", "c", "d"}, itemNames(p.List.Items()))
}

func TestListViewSort(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	list := observable.NewList(newItem("a"), newItem("b"), newItem("c"))
	p := newPage(t, s, list, newItemView)
	f, _ := connectReady(t, s)

	p.List.SetSort(func(a, b any) bool { return a.(*item).Name > b.(*item).Name })
	f.nextCall("htmlgui.replace_element")
	assert.Equal(t, []string{"c", "b", "a"}, itemNames(p.List.Items()))

	list.Append(newItem("bb"))
	msg := f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 1, msg.Args[1])
	assert.Equal(t, []string{"c", "bb", "b", "a"}, itemNames(p.List.Items()))

	// equal items keep their list order
	list.Insert(0, newItem("b"))
	msg = f.nextCall("htmlgui.insert_element")
	assert.EqualValues(t, 2, msg.Args[1])
}

func TestListViewElementIndex(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	list := observable.NewList(newItem("a"), newItem("b"))
	p := newPage(t, s, list, newIndexedItemView)
	f, html := connectReady(t, s)
	assert.Contains(t, html, ">0:a<")
	assert.Contains(t, html, ">1:b<")

	list.Insert(0, newItem("c"))
	msg := f.nextCall("htmlgui.insert_element")
	assert.Contains(t, msg.Args[2], ">0:c<")

	views := p.List.Items()
	msg = f.nextCall("htmlgui.replace_element")
	assert.Equal(t, views[1].Base().ID(), msg.Args[0])
	assert.Contains(t, msg.Args[1], ">1:a<")
	msg = f.nextCall("htmlgui.replace_element")
	assert.Equal(t, views[2].Base().ID(), msg.Args[0])
	assert.Contains(t, msg.Args[1], ">2:b<")
}

func TestListViewRecreatedWhenShownAgain(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	a := newItem("a")
	list := observable.NewList(a)
	p := newPage(t, s, list, newItemView)
	render(p)
	first := p.List.Items()[0]

	p.SetVisible(false)
	assert.Empty(t, p.List.Items())
	assert.True(t, first.Base().Deleted())

	// changes while hidden are picked up
	list.Append(newItem("b"))
	render(p)
	assert.Equal(t, []string{"a", "b"}, itemNames(p.List.Items()))
	assert.NotEqual(t, first, p.List.Items()[0])
}

func TestListViewSkipsChangesOfItsSnapshot(t *testing.T) {
	s := NewSession(nil, nil)
	defer s.Close()
	list := observable.NewList(newItem("a"))
	p := newPage(t, s, list, newItemView)

	// b is appended before the view enumerates the list, its event arrives afterwards
	b := newItem("b")
	list.Append(b)
	render(p)
	require.Equal(t, []string{"a", "b"}, itemNames(p.List.Items()))
	p.List.OnSubjectUpdated(observable.Event{Source: list, Version: 1, Action: observable.Append, Index: 1, Item: b})
	assert.Equal(t, []string{"a", "b"}, itemNames(p.List.Items()))

	list.Append(newItem("c"))
	assert.Equal(t, []string{"a", "b", "c"}, itemNames(p.List.Items()))
}
