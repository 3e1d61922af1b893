// Package observable provides subjects that broadcast change events to weakly held observers,
// and list and dict containers that describe every mutation as a structured event.
package observable

import (
	"fmt"
	"runtime/debug"

	"github.com/golang/glog"

	"github.com/CrimsonAS/webgui/backend/weakfn"
)

// Action names the kind of mutation an Event describes.
type Action string

const (
	// Changed is the action of a plain notification with no structured delta.
	Changed Action = ""

	Append  Action = "append"
	Insert  Action = "insert"
	SetItem Action = "setitem"
	DelItem Action = "delitem"
	Extend  Action = "extend"
	Pop     Action = "pop"
	Remove  Action = "remove"
	Sort    Action = "sort"
	Reverse Action = "reverse"
	Clear   Action = "clear"
	Update  Action = "update"
	PopItem Action = "popitem"
)

// Pair is a key and item of a mapping.
type Pair struct {
	Key  any
	Item any
}

// Event describes a change of a subject. Which fields are set depends on Action:
//
//	append, insert, delitem, pop, remove   Index, Item
//	setitem (list)                         Index, OldItem, NewItem
//	extend                                 Index (of the first new item), Items
//	setitem, delitem, pop, popitem (dict)  Key, Item
//	update                                 Pairs
//	sort, reverse, clear, changed          nothing
//
// sort, reverse and clear intentionally carry no per-item delta. Observers that patch
// incrementally must treat them as a signal to recompute membership and order from the subject.
//
// Version numbers the changes of a List, starting at 1, so an observer that enumerated the list
// can skip the events of changes its snapshot already contains. It is zero for other subjects.
type Event struct {
	Source  any
	Version uint64
	Action  Action
	Index   int
	Key     any
	Item    any
	OldItem any
	NewItem any
	Items   []any
	Pairs   []Pair
}

// Reset reports whether the event has no incremental delta to apply.
func (e Event) Reset() bool {
	switch e.Action {
	case Changed, Sort, Reverse, Clear:
		return true
	}
	return false
}

func (e Event) String() string {
	if e.Action == Changed {
		return "changed"
	}
	return fmt.Sprintf("%s(index=%d key=%v item=%v)", e.Action, e.Index, e.Key, e.Item)
}

// Subscriber is an observer function bound to the object that owns it.
type Subscriber = weakfn.Func[Event, struct{}]

// Observer binds fn to owner as a Subscriber. The subject only holds owner weakly; fn must not
// capture owner. Binding the same owner and name again gives an equal subscriber, which is how
// Detach finds it.
func Observer[T any](owner *T, name string, fn func(*T, Event)) Subscriber {
	return weakfn.Bind(owner, name, func(o *T, ev Event) struct{} {
		fn(o, ev)
		return struct{}{}
	})
}

// Subject is anything embedding Observable.
type Subject interface {
	Observers() *Observable
}

// Observable is embedded in types that want to notify observers of changes. The zero value
// is ready to use.
type Observable struct {
	observers weakfn.Registry[Event, struct{}]
}

// Observers returns o itself; it makes every type embedding Observable a Subject.
func (o *Observable) Observers() *Observable {
	return o
}

// Attach adds s. Attaching an equal subscriber again has no effect.
func (o *Observable) Attach(s Subscriber) {
	o.observers.Register(s)
}

// Detach removes the subscriber equal to s, if attached.
func (o *Observable) Detach(s Subscriber) {
	o.observers.Remove(s.Key())
}

// ObserverCount returns the number of attached observers whose owners are still alive.
func (o *Observable) ObserverCount() int {
	return len(o.observers.Funcs())
}

// Notify delivers ev synchronously, in attachment order, to the observers attached when Notify
// was called. A panicking observer is logged and does not stop delivery to the others.
func (o *Observable) Notify(ev Event) {
	if ev.Source == nil {
		ev.Source = o
	}
	for _, s := range o.observers.Funcs() {
		deliver(s, ev)
	}
}

// NotifyChanged notifies observers of an unspecified change.
func (o *Observable) NotifyChanged() {
	o.Notify(Event{})
}

func deliver(s Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("webgui: observer %s panicked on %s: %v\n%s", s.Key().Name(), ev, r, debug.Stack())
		}
	}()
	s.Call(ev)
}
