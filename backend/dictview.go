package webgui

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	g "maragu.dev/gomponents"

	"github.com/CrimsonAS/webgui/backend/observable"
)

// KeyedItemFactory creates the view of one entry of a dict view. The view must be
// initialized with parent as its parent.
type KeyedItemFactory func(key, item any, parent Parent) (Component, error)

// DictView is embedded in components showing an observable.Mapping with one child view per
// entry, ordered by key. Changes of single entries are applied incrementally, clear and
// plain change notifications re-render the whole view.
type DictView struct {
	View

	factory KeyedItemFactory
	less    func(a, b any) bool

	// guarded by the session update lock
	keys  []any
	views map[any]Component
}

type dictComponent interface {
	Component
	dictBase() *DictView
}

// InitDict initializes a component embedding DictView to show dict, which must be an
// observable.Mapping like *observable.Dict.
func InitDict[T any](c Component, dict *T, parent Parent, factory KeyedItemFactory, opts ...Option) error {
	dc, ok := c.(dictComponent)
	if !ok {
		return errors.Errorf("%T does not embed DictView", c)
	} else if _, ok := any(dict).(observable.Mapping); !ok {
		return errors.Wrapf(ErrNotObservable, "%T is not a mapping", dict)
	} else if factory == nil {
		return errors.New("dict view without item factory")
	}
	dc.dictBase().factory = factory
	return Init(c, dict, parent, opts...)
}

func (dv *DictView) dictBase() *DictView {
	return dv
}

// SetSort orders the entries by less on their keys instead of the natural key order.
func (dv *DictView) SetSort(less func(a, b any) bool) {
	dv.session.updateMu.Lock()
	defer dv.session.updateMu.Unlock()
	dv.less = less
	if dv.visible.Load() {
		dv.reset()
	}
}

func (dv *DictView) keyLess(a, b any) bool {
	if dv.less != nil {
		return dv.less(a, b)
	}
	return compareKeys(a, b) < 0
}

// compareKeys orders strings and numbers naturally and anything else by its printed form.
func compareKeys(a, b any) int {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	case int:
		if y, ok := b.(int); ok {
			return cmp.Compare(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func (dv *DictView) mapping() observable.Mapping {
	m, _ := dv.Subject().(observable.Mapping)
	return m
}

// Keys returns the keys of the shown entries in display order.
func (dv *DictView) Keys() []any {
	return slices.Clone(dv.keys)
}

// Items returns the views of the entries in display order.
func (dv *DictView) Items() []Component {
	items := make([]Component, 0, len(dv.keys))
	for _, k := range dv.keys {
		items = append(items, dv.views[k])
	}
	return items
}

func (dv *DictView) Node() g.Node {
	var nodes []g.Node
	for _, item := range dv.Items() {
		nodes = append(nodes, RenderChild(item))
	}
	return g.Group(nodes)
}

func (dv *DictView) viewShown() {
	dv.recreate()
}

func (dv *DictView) viewHidden() {
	views := dv.views
	dv.keys, dv.views = nil, nil
	for _, view := range views {
		view.Base().delete(false)
	}
}

func (dv *DictView) childRemoved(c Component) {
	for i, k := range dv.keys {
		if dv.views[k] == c {
			dv.keys = slices.Delete(dv.keys, i, i+1)
			delete(dv.views, k)
			return
		}
	}
}

func (dv *DictView) recreate() {
	dv.viewHidden()
	m := dv.mapping()
	if m == nil {
		return
	}
	dv.views = make(map[any]Component)
	for _, p := range m.Pairs() {
		if view := dv.newView(p.Key, p.Item); view != nil {
			dv.keys = append(dv.keys, p.Key)
			dv.views[p.Key] = view
		}
	}
	slices.SortStableFunc(dv.keys, func(a, b any) int {
		if dv.keyLess(a, b) {
			return -1
		} else if dv.keyLess(b, a) {
			return 1
		}
		return 0
	})
}

func (dv *DictView) newView(key, item any) Component {
	view, err := dv.factory(key, item, dv.self.(Parent))
	if err != nil {
		glog.Errorf("webgui: %s: creating view of %v failed: %s", dv, key, err)
		dv.session.debug(err.Error())
		return nil
	}
	return view
}

func (dv *DictView) reset() {
	dv.recreate()
	dv.update()
}

// OnSubjectUpdated applies a change of the mapping.
func (dv *DictView) OnSubjectUpdated(ev observable.Event) {
	dv.session.updateMu.Lock()
	defer dv.session.updateMu.Unlock()
	if !dv.visible.Load() {
		return
	}

	switch ev.Action {
	case observable.SetItem:
		dv.removeKey(ev.Key)
		dv.insertKey(ev.Key, ev.Item)
	case observable.DelItem, observable.Pop, observable.PopItem:
		dv.removeKey(ev.Key)
	case observable.Update:
		for _, p := range ev.Pairs {
			dv.removeKey(p.Key)
			dv.insertKey(p.Key, p.Item)
		}
	default:
		dv.reset()
	}
}

func (dv *DictView) insertKey(key, item any) {
	view := dv.newView(key, item)
	if view == nil {
		return
	}
	index := sort.Search(len(dv.keys), func(j int) bool {
		return dv.keyLess(key, dv.keys[j])
	})
	if !dv.insertElement(index, view) {
		view.Base().delete(false)
		return
	}
	if dv.views == nil {
		dv.views = make(map[any]Component)
	}
	dv.keys = slices.Insert(dv.keys, index, key)
	dv.views[key] = view
}

func (dv *DictView) removeKey(key any) {
	view, ok := dv.views[key]
	if !ok {
		return
	}
	if i := slices.Index(dv.keys, key); i >= 0 {
		dv.keys = slices.Delete(dv.keys, i, i+1)
	}
	delete(dv.views, key)
	view.Base().delete(true)
}
