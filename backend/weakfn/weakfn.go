// Package weakfn binds functions to an owner object without keeping that owner alive.
//
// A bound function is identified by its owner and a name, so binding the same method of the same
// object twice yields equal keys and the same id. Registries hand out small integer ids for bound
// functions, which is how functions are referenced across the wire, and forget them automatically
// once the owner has been collected.
package weakfn

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"weak"

	"github.com/pkg/errors"
)

// Ids are limited to 48 bits so they survive a round trip through a JavaScript number.
const idMask = 0xffffffffffff

// ErrNotFound is returned for ids that were never registered, were unregistered, or belong to
// an owner that has been collected.
var ErrNotFound = errors.New("callback not found")

// Key identifies a bound function by the identity of its owner and the function name. Keys are
// comparable and stay valid (but never resolve again) after the owner is collected.
type Key struct {
	owner any
	name  string
}

func (k Key) Name() string {
	return k.name
}

// Func is a function bound to an owner that is only weakly referenced. The function given to
// Bind receives the owner on every call; it must not capture the owner itself, or the owner
// would be kept alive by whoever holds the Func.
type Func[A, R any] struct {
	key   Key
	id    int64
	call  func(A) (R, bool)
	alive func() bool
	watch func(func()) (runtime.Cleanup, bool)
}

// Bind binds fn under name to owner.
func Bind[T, A, R any](owner *T, name string, fn func(*T, A) R) Func[A, R] {
	if owner == nil {
		panic("weakfn: bind to nil owner")
	}
	wp := weak.Make(owner)
	return Func[A, R]{
		key: Key{owner: wp, name: name},
		id:  idFor(owner, name),
		call: func(a A) (r R, ok bool) {
			o := wp.Value()
			if o == nil {
				return r, false
			}
			return fn(o, a), true
		},
		alive: func() bool {
			return wp.Value() != nil
		},
		watch: func(f func()) (runtime.Cleanup, bool) {
			o := wp.Value()
			if o == nil {
				return runtime.Cleanup{}, false
			}
			return runtime.AddCleanup(o, func(f func()) { f() }, f), true
		},
	}
}

func idFor(owner any, name string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%p%s", owner, name)
	return int64(h.Sum64() & idMask)
}

func (f Func[A, R]) Key() Key {
	return f.key
}

// ID returns the id derived from the owner identity and name. A registry may hand out a
// different id if this one collides with another live function.
func (f Func[A, R]) ID() int64 {
	return f.id
}

func (f Func[A, R]) IsZero() bool {
	return f.call == nil
}

// Alive reports whether the owner still exists.
func (f Func[A, R]) Alive() bool {
	return f.alive != nil && f.alive()
}

// Call invokes the function. ok is false, and fn is not called, when the owner is gone.
func (f Func[A, R]) Call(a A) (r R, ok bool) {
	if f.call == nil {
		return r, false
	}
	return f.call(a)
}

// OnCollect arranges for cb to run once the owner has been collected; the returned Cleanup
// cancels that. ok is false (and cb never runs) if the owner is already gone. cb runs on a
// runtime goroutine.
func (f Func[A, R]) OnCollect(cb func()) (c runtime.Cleanup, ok bool) {
	if f.watch == nil {
		return c, false
	}
	return f.watch(cb)
}

// Registry maps integer ids to bound functions. It is safe for concurrent use.
type Registry[A, R any] struct {
	mu       sync.Mutex
	funcs    map[int64]Func[A, R]
	ids      map[Key]int64
	cleanups map[int64]runtime.Cleanup
	order    []int64
}

func NewRegistry[A, R any]() *Registry[A, R] {
	r := &Registry[A, R]{}
	r.init()
	return r
}

func (r *Registry[A, R]) init() {
	if r.funcs == nil {
		r.funcs = make(map[int64]Func[A, R])
		r.ids = make(map[Key]int64)
		r.cleanups = make(map[int64]runtime.Cleanup)
	}
}

// Register adds f and returns its id. Registering a function with a key that is already
// registered returns the existing id and changes nothing.
func (r *Registry[A, R]) Register(f Func[A, R]) int64 {
	if f.IsZero() {
		panic("weakfn: register of unbound function")
	}

	r.mu.Lock()
	r.init()
	if id, exists := r.ids[f.key]; exists {
		r.mu.Unlock()
		return id
	}
	id := f.id
	for {
		if _, taken := r.funcs[id]; !taken {
			break
		}
		id = (id + 1) & idMask
	}
	f.id = id
	r.funcs[id] = f
	r.ids[f.key] = id
	r.order = append(r.order, id)
	r.mu.Unlock()

	// The purge hook lives as long as the owner does and must not keep the registry (which
	// is usually embedded in some other object) alive.
	key, wr := f.key, weak.Make(r)
	cleanup, ok := f.OnCollect(func() {
		if r := wr.Value(); r != nil {
			r.purge(key, id)
		}
	})
	if !ok {
		r.purge(key, id)
		return id
	}

	r.mu.Lock()
	if cur, exists := r.funcs[id]; exists && cur.key == key {
		r.cleanups[id] = cleanup
	} else {
		cleanup.Stop()
	}
	r.mu.Unlock()
	return id
}

// Resolve returns the function registered under id.
func (r *Registry[A, R]) Resolve(id int64) (Func[A, R], error) {
	r.mu.Lock()
	f, exists := r.funcs[id]
	r.mu.Unlock()

	if !exists {
		return Func[A, R]{}, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	if !f.Alive() {
		r.purge(f.key, id)
		return Func[A, R]{}, errors.Wrapf(ErrNotFound, "id %d (owner collected)", id)
	}
	return f, nil
}

// Lookup returns the id registered for key.
func (r *Registry[A, R]) Lookup(key Key) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, exists := r.ids[key]
	return id, exists
}

func (r *Registry[A, R]) Unregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, exists := r.funcs[id]; exists {
		r.removeLocked(f.key, id)
	}
}

// Remove unregisters the function registered for key, if any.
func (r *Registry[A, R]) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, exists := r.ids[key]
	if exists {
		r.removeLocked(key, id)
	}
	return exists
}

// Funcs returns the live functions in registration order. Functions whose owner is gone are
// dropped on the way.
func (r *Registry[A, R]) Funcs() []Func[A, R] {
	r.mu.Lock()
	funcs := make([]Func[A, R], 0, len(r.order))
	for _, id := range r.order {
		funcs = append(funcs, r.funcs[id])
	}
	r.mu.Unlock()

	live := funcs[:0]
	for _, f := range funcs {
		if f.Alive() {
			live = append(live, f)
		} else {
			r.purge(f.key, f.id)
		}
	}
	return live
}

func (r *Registry[A, R]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.funcs)
}

// purge removes id only if it is still registered for key; the id may have been reused by a
// new owner allocated at the same address.
func (r *Registry[A, R]) purge(key Key, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, exists := r.funcs[id]; exists && f.key == key {
		r.removeLocked(key, id)
	}
}

func (r *Registry[A, R]) removeLocked(key Key, id int64) {
	if c, ok := r.cleanups[id]; ok {
		c.Stop()
		delete(r.cleanups, id)
	}
	delete(r.funcs, id)
	delete(r.ids, key)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
