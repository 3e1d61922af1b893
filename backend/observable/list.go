package observable

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrValueNotFound   = errors.New("value not in list")
	ErrKeyNotFound     = errors.New("key not found")
	ErrEmpty           = errors.New("container is empty")
)

// Sequence is an observable ordered collection, as consumed by list views.
type Sequence interface {
	Subject
	Len() int
	Values() []any
	// Snapshot returns the contents with the version of the last change included in them.
	Snapshot() (values []any, version uint64)
}

// List is an ordered sequence which notifies observers of every mutation with one Event.
// Negative indexes count from the end. Events always carry the normalized index.
//
// Observers run on the mutating goroutine after the list has been changed, so they see the
// new state. Mutations from several goroutines at once are safe, but their events may be
// delivered in a different order than the mutations were applied.
type List[T comparable] struct {
	Observable

	mu      sync.RWMutex
	items   []T
	version uint64
}

func NewList[T comparable](items ...T) *List[T] {
	return &List[T]{items: slices.Clone(items)}
}

func (l *List[T]) notify(ev Event) {
	ev.Source = l
	l.Notify(ev)
}

func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Get returns the item at index i.
func (l *List[T]) Get(i int) (T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, err := l.index(i)
	if err != nil {
		var zero T
		return zero, err
	}
	return l.items[idx], nil
}

// Items returns a copy of the list contents.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.items)
}

// Values returns a copy of the list contents as a slice of any.
func (l *List[T]) Values() []any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	values := make([]any, len(l.items))
	for i, v := range l.items {
		values[i] = v
	}
	return values
}

func (l *List[T]) Snapshot() ([]any, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	values := make([]any, len(l.items))
	for i, v := range l.items {
		values[i] = v
	}
	return values, l.version
}

// changed counts a mutation; callers hold mu.
func (l *List[T]) changed() uint64 {
	l.version++
	return l.version
}

// Index returns the index of the first item equal to v, or -1.
func (l *List[T]) Index(v T) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Index(l.items, v)
}

// index normalizes i; callers hold mu.
func (l *List[T]) index(i int) (int, error) {
	if i < 0 {
		i += len(l.items)
	}
	if i < 0 || i >= len(l.items) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(l.items))
	}
	return i, nil
}

func (l *List[T]) Append(v T) {
	l.mu.Lock()
	index := len(l.items)
	l.items = append(l.items, v)
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: Append, Index: index, Item: v})
}

// Insert inserts v before index i. Indexes beyond either end are clamped, so Insert never fails.
func (l *List[T]) Insert(i int, v T) {
	l.mu.Lock()
	if i < 0 {
		i += len(l.items)
		if i < 0 {
			i = 0
		}
	}
	if i > len(l.items) {
		i = len(l.items)
	}
	l.items = slices.Insert(l.items, i, v)
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: Insert, Index: i, Item: v})
}

// Set replaces the item at index i.
func (l *List[T]) Set(i int, v T) error {
	l.mu.Lock()
	idx, err := l.index(i)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	old := l.items[idx]
	l.items[idx] = v
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: SetItem, Index: idx, OldItem: old, NewItem: v})
	return nil
}

// Delete removes the item at index i.
func (l *List[T]) Delete(i int) error {
	l.mu.Lock()
	idx, err := l.index(i)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	item := l.items[idx]
	l.items = slices.Delete(l.items, idx, idx+1)
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: DelItem, Index: idx, Item: item})
	return nil
}

// Extend appends all of vs with a single event.
func (l *List[T]) Extend(vs ...T) {
	l.mu.Lock()
	index := len(l.items)
	l.items = append(l.items, vs...)
	version := l.changed()
	l.mu.Unlock()

	items := make([]any, len(vs))
	for i, v := range vs {
		items[i] = v
	}
	l.notify(Event{Version: version, Action: Extend, Index: index, Items: items})
}

// Pop removes and returns the item at index i; Pop(-1) pops the last item.
func (l *List[T]) Pop(i int) (T, error) {
	l.mu.Lock()
	idx, err := l.index(i)
	if err != nil {
		l.mu.Unlock()
		var zero T
		return zero, err
	}
	item := l.items[idx]
	l.items = slices.Delete(l.items, idx, idx+1)
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: Pop, Index: idx, Item: item})
	return item, nil
}

// Remove removes the first item equal to v.
func (l *List[T]) Remove(v T) error {
	l.mu.Lock()
	idx := slices.Index(l.items, v)
	if idx < 0 {
		l.mu.Unlock()
		return errors.Wrapf(ErrValueNotFound, "remove %v", v)
	}
	l.items = slices.Delete(l.items, idx, idx+1)
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: Remove, Index: idx, Item: v})
	return nil
}

// Sort sorts the list stably with cmp. The event carries no positions.
func (l *List[T]) Sort(cmp func(a, b T) int) {
	l.mu.Lock()
	slices.SortStableFunc(l.items, cmp)
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: Sort})
}

func (l *List[T]) Reverse() {
	l.mu.Lock()
	slices.Reverse(l.items)
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: Reverse})
}

func (l *List[T]) Clear() {
	l.mu.Lock()
	l.items = nil
	version := l.changed()
	l.mu.Unlock()

	l.notify(Event{Version: version, Action: Clear})
}
