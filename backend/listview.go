package webgui

import (
	"slices"
	"sort"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	g "maragu.dev/gomponents"

	"github.com/CrimsonAS/webgui/backend/observable"
)

// ItemFactory creates the view of one item of a container view. The view must be
// initialized with parent as its parent.
type ItemFactory func(item any, parent Parent) (Component, error)

// ListView is embedded in components showing an observable.Sequence with one child view per
// item. Once visible it applies the changes of the list incrementally: inserted items are
// rendered and inserted at their position, removed items have their element removed. Sort,
// reverse and clear carry no positions and re-render the whole list.
//
// Without a template of its own, a list view renders its items in order.
type ListView struct {
	View

	factory ItemFactory
	filter  func(item any) bool
	less    func(a, b any) bool

	// guarded by the session update lock
	entries []*listEntry
	// version of the list when entries were enumerated
	seen uint64
}

type listEntry struct {
	item any
	view Component
}

type listComponent interface {
	Component
	listBase() *ListView
}

// InitList initializes a component embedding ListView to show list, which must be an
// observable.Sequence like *observable.List.
func InitList[T any](c Component, list *T, parent Parent, factory ItemFactory, opts ...Option) error {
	lc, ok := c.(listComponent)
	if !ok {
		return errors.Errorf("%T does not embed ListView", c)
	} else if _, ok := any(list).(observable.Sequence); !ok {
		return errors.Wrapf(ErrNotObservable, "%T is not a sequence", list)
	} else if factory == nil {
		return errors.New("list view without item factory")
	}
	lc.listBase().factory = factory
	return Init(c, list, parent, opts...)
}

func (lv *ListView) listBase() *ListView {
	return lv
}

// SetFilter hides the items for which keep returns false. Hidden items keep their view but
// it is not rendered.
func (lv *ListView) SetFilter(keep func(item any) bool) {
	lv.session.updateMu.Lock()
	defer lv.session.updateMu.Unlock()
	lv.filter = keep
	if lv.visible.Load() {
		lv.update()
	}
}

// SetSort renders the items ordered by less instead of in list order. Items that are equal
// keep their list order.
func (lv *ListView) SetSort(less func(a, b any) bool) {
	lv.session.updateMu.Lock()
	defer lv.session.updateMu.Unlock()
	lv.less = less
	if lv.visible.Load() {
		lv.update()
	}
}

func (lv *ListView) sequence() observable.Sequence {
	seq, _ := lv.Subject().(observable.Sequence)
	return seq
}

// Items returns the views of the items to render, in display order.
func (lv *ListView) Items() []Component {
	order := lv.displayOrder(-1)
	items := make([]Component, len(order))
	for i, index := range order {
		items[i] = lv.entries[index].view
	}
	return items
}

func (lv *ListView) Node() g.Node {
	var nodes []g.Node
	for _, item := range lv.Items() {
		nodes = append(nodes, RenderChild(item))
	}
	return g.Group(nodes)
}

func (lv *ListView) shown(e *listEntry) bool {
	return e.view != nil && (lv.filter == nil || lv.filter(e.item))
}

// displayOrder returns the indexes of the shown entries, except skip, in the order they are
// rendered.
func (lv *ListView) displayOrder(skip int) []int {
	order := make([]int, 0, len(lv.entries))
	for i, e := range lv.entries {
		if i != skip && lv.shown(e) {
			order = append(order, i)
		}
	}
	if lv.less != nil {
		sort.SliceStable(order, func(a, b int) bool {
			return lv.less(lv.entries[order[a]].item, lv.entries[order[b]].item)
		})
	}
	return order
}

// domIndex returns the position among the rendered elements of the entry at index.
func (lv *ListView) domIndex(index int) int {
	order := lv.displayOrder(index)
	if lv.less == nil {
		return sort.SearchInts(order, index)
	}

	// Sorted lists stay sorted: find the first element that goes after the new one,
	// comparing list positions between equal items.
	item := lv.entries[index].item
	return sort.Search(len(order), func(j int) bool {
		other := lv.entries[order[j]].item
		if lv.less(item, other) {
			return true
		} else if lv.less(other, item) {
			return false
		}
		return order[j] > index
	})
}

func (lv *ListView) indexOf(v *View) int {
	for i, e := range lv.entries {
		if e.view != nil && e.view.Base() == v {
			return i
		}
	}
	return -1
}

func (lv *ListView) newEntry(item any) *listEntry {
	e := &listEntry{item: item}
	view, err := lv.factory(item, lv.self.(Parent))
	if err != nil {
		glog.Errorf("webgui: %s: creating view of %v failed: %s", lv, item, err)
		lv.session.debug(err.Error())
		return e
	}
	e.view = view
	return e
}

// viewShown creates the views of all items
func (lv *ListView) viewShown() {
	lv.recreate()
}

// viewHidden drops all item views, they are recreated once visible again
func (lv *ListView) viewHidden() {
	entries := lv.entries
	lv.entries = nil
	for _, e := range entries {
		if e.view != nil {
			e.view.Base().delete(false)
		}
	}
}

func (lv *ListView) childRemoved(c Component) {
	for i, e := range lv.entries {
		if e.view == c {
			lv.entries = slices.Delete(lv.entries, i, i+1)
			lv.refreshIndexes(i)
			return
		}
	}
}

func (lv *ListView) recreate() {
	lv.viewHidden()
	seq := lv.sequence()
	if seq == nil {
		return
	}
	values, version := seq.Snapshot()
	lv.seen = version
	lv.entries = make([]*listEntry, 0, len(values))
	for _, item := range values {
		lv.entries = append(lv.entries, lv.newEntry(item))
	}
}

// OnSubjectUpdated applies a change of the list.
func (lv *ListView) OnSubjectUpdated(ev observable.Event) {
	lv.session.updateMu.Lock()
	defer lv.session.updateMu.Unlock()
	if !lv.visible.Load() {
		return
	}
	if ev.Version != 0 && ev.Version <= lv.seen {
		// the change happened before the entries were enumerated
		return
	}

	switch ev.Action {
	case observable.Append, observable.Insert:
		lv.insertItems(ev.Index, []any{ev.Item})
	case observable.Extend:
		lv.insertItems(ev.Index, ev.Items)
	case observable.SetItem:
		if lv.removeItem(ev.Index) {
			lv.insertItems(ev.Index, []any{ev.NewItem})
		}
	case observable.DelItem, observable.Pop, observable.Remove:
		if lv.removeItem(ev.Index) {
			lv.refreshIndexes(ev.Index)
		}
	default:
		lv.reset()
	}
}

// reset re-creates all item views and renders the list again
func (lv *ListView) reset() {
	lv.recreate()
	lv.update()
}

func (lv *ListView) insertItems(index int, items []any) {
	if index < 0 || index > len(lv.entries) {
		// out of step with the list, e.g. events of concurrent changes crossing
		lv.reset()
		return
	}

	pos := index
	for _, item := range items {
		e := lv.newEntry(item)
		lv.entries = slices.Insert(lv.entries, pos, e)
		if lv.shown(e) && !lv.insertElement(lv.domIndex(pos), e.view) {
			lv.entries = slices.Delete(lv.entries, pos, pos+1)
			e.view.Base().delete(false)
			continue
		}
		pos++
	}
	lv.refreshIndexes(pos)
}

func (lv *ListView) removeItem(index int) bool {
	if index < 0 || index >= len(lv.entries) {
		lv.reset()
		return false
	}
	e := lv.entries[index]
	lv.entries = slices.Delete(lv.entries, index, index+1)
	if e.view != nil {
		e.view.Base().delete(true)
	}
	return true
}

// refreshIndexes re-renders views from start on which show their index
func (lv *ListView) refreshIndexes(start int) {
	for i := start; i < len(lv.entries); i++ {
		if e := lv.entries[i]; e.view != nil {
			if v := e.view.Base(); v.indexUsed && v.visible.Load() {
				v.update()
			}
		}
	}
}
