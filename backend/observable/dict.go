package observable

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// Mapping is an observable keyed collection, as consumed by dict views.
type Mapping interface {
	Subject
	Len() int
	Pairs() []Pair
}

// Entry is a typed key and value, used with Dict.Update.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Dict is a mapping which remembers insertion order and notifies observers of every mutation
// with one Event. Replacing the value of an existing key keeps its position.
type Dict[K comparable, V any] struct {
	Observable

	mu     sync.RWMutex
	keys   []K
	values map[K]V
}

func NewDict[K comparable, V any](entries ...Entry[K, V]) *Dict[K, V] {
	d := &Dict[K, V]{values: make(map[K]V)}
	for _, e := range entries {
		d.setLocked(e.Key, e.Value)
	}
	return d
}

func (d *Dict[K, V]) notify(ev Event) {
	ev.Source = d
	d.Notify(ev)
}

func (d *Dict[K, V]) setLocked(k K, v V) {
	if d.values == nil {
		d.values = make(map[K]V)
	}
	if _, exists := d.values[k]; !exists {
		d.keys = append(d.keys, k)
	}
	d.values[k] = v
}

func (d *Dict[K, V]) deleteLocked(k K) {
	delete(d.values, k)
	if i := slices.Index(d.keys, k); i >= 0 {
		d.keys = slices.Delete(d.keys, i, i+1)
	}
}

func (d *Dict[K, V]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.keys)
}

func (d *Dict[K, V]) Get(k K) (V, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Dict[K, V]) Keys() []K {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.keys)
}

// Entries returns the contents in insertion order.
func (d *Dict[K, V]) Entries() []Entry[K, V] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]Entry[K, V], len(d.keys))
	for i, k := range d.keys {
		entries[i] = Entry[K, V]{k, d.values[k]}
	}
	return entries
}

// Pairs returns the contents in insertion order as untyped pairs.
func (d *Dict[K, V]) Pairs() []Pair {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pairs := make([]Pair, len(d.keys))
	for i, k := range d.keys {
		pairs[i] = Pair{k, d.values[k]}
	}
	return pairs
}

func (d *Dict[K, V]) Set(k K, v V) {
	d.mu.Lock()
	d.setLocked(k, v)
	d.mu.Unlock()

	d.notify(Event{Action: SetItem, Key: k, Item: v})
}

// Delete removes k, failing if it is not present.
func (d *Dict[K, V]) Delete(k K) error {
	d.mu.Lock()
	v, exists := d.values[k]
	if !exists {
		d.mu.Unlock()
		return errors.Wrapf(ErrKeyNotFound, "delete %v", k)
	}
	d.deleteLocked(k)
	d.mu.Unlock()

	d.notify(Event{Action: DelItem, Key: k, Item: v})
	return nil
}

// Pop removes and returns the value of k. Nothing is notified if k is not present.
func (d *Dict[K, V]) Pop(k K) (V, bool) {
	d.mu.Lock()
	v, exists := d.values[k]
	if !exists {
		d.mu.Unlock()
		return v, false
	}
	d.deleteLocked(k)
	d.mu.Unlock()

	d.notify(Event{Action: Pop, Key: k, Item: v})
	return v, true
}

// PopItem removes and returns the most recently inserted entry.
func (d *Dict[K, V]) PopItem() (K, V, error) {
	d.mu.Lock()
	if len(d.keys) == 0 {
		d.mu.Unlock()
		var k K
		var v V
		return k, v, errors.Wrap(ErrEmpty, "popitem")
	}
	k := d.keys[len(d.keys)-1]
	v := d.values[k]
	d.deleteLocked(k)
	d.mu.Unlock()

	d.notify(Event{Action: PopItem, Key: k, Item: v})
	return k, v, nil
}

// Update sets all entries with a single event.
func (d *Dict[K, V]) Update(entries ...Entry[K, V]) {
	pairs := make([]Pair, len(entries))
	d.mu.Lock()
	for i, e := range entries {
		d.setLocked(e.Key, e.Value)
		pairs[i] = Pair{e.Key, e.Value}
	}
	d.mu.Unlock()

	d.notify(Event{Action: Update, Pairs: pairs})
}

func (d *Dict[K, V]) Clear() {
	d.mu.Lock()
	d.keys = nil
	d.values = make(map[K]V)
	d.mu.Unlock()

	d.notify(Event{Action: Clear})
}
