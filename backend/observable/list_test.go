package observable

import (
	"cmp"
	"testing"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ignoreSource = cmpopts.IgnoreFields(Event{}, "Source")

func TestListEvents(t *testing.T) {
	tests := []struct {
		name  string
		start []string
		op    func(l *List[string]) error
		want  Event
		after []string
	}{
		{"append", []string{"a"}, func(l *List[string]) error { l.Append("b"); return nil },
			Event{Action: Append, Index: 1, Item: "b"}, []string{"a", "b"}},
		{"insert", []string{"a", "b"}, func(l *List[string]) error { l.Insert(1, "c"); return nil },
			Event{Action: Insert, Index: 1, Item: "c"}, []string{"a", "c", "b"}},
		{"insert clamped", []string{"a"}, func(l *List[string]) error { l.Insert(10, "z"); return nil },
			Event{Action: Insert, Index: 1, Item: "z"}, []string{"a", "z"}},
		{"insert negative", []string{"a", "b"}, func(l *List[string]) error { l.Insert(-1, "z"); return nil },
			Event{Action: Insert, Index: 1, Item: "z"}, []string{"a", "z", "b"}},
		{"insert far negative", []string{"a"}, func(l *List[string]) error { l.Insert(-9, "z"); return nil },
			Event{Action: Insert, Index: 0, Item: "z"}, []string{"z", "a"}},
		{"set", []string{"a", "b"}, func(l *List[string]) error { return l.Set(1, "x") },
			Event{Action: SetItem, Index: 1, OldItem: "b", NewItem: "x"}, []string{"a", "x"}},
		{"set negative", []string{"a", "b"}, func(l *List[string]) error { return l.Set(-2, "x") },
			Event{Action: SetItem, Index: 0, OldItem: "a", NewItem: "x"}, []string{"x", "b"}},
		{"delete", []string{"a", "b", "c"}, func(l *List[string]) error { return l.Delete(1) },
			Event{Action: DelItem, Index: 1, Item: "b"}, []string{"a", "c"}},
		{"extend", []string{"a"}, func(l *List[string]) error { l.Extend("b", "c"); return nil },
			Event{Action: Extend, Index: 1, Items: []any{"b", "c"}}, []string{"a", "b", "c"}},
		{"pop last", []string{"a", "b"}, func(l *List[string]) error { _, err := l.Pop(-1); return err },
			Event{Action: Pop, Index: 1, Item: "b"}, []string{"a"}},
		{"pop first", []string{"a", "b"}, func(l *List[string]) error { _, err := l.Pop(0); return err },
			Event{Action: Pop, Index: 0, Item: "a"}, []string{"b"}},
		{"remove", []string{"a", "b", "a"}, func(l *List[string]) error { return l.Remove("a") },
			Event{Action: Remove, Index: 0, Item: "a"}, []string{"b", "a"}},
		{"sort", []string{"c", "a", "b"}, func(l *List[string]) error { l.Sort(cmp.Compare[string]); return nil },
			Event{Action: Sort}, []string{"a", "b", "c"}},
		{"reverse", []string{"a", "b", "c"}, func(l *List[string]) error { l.Reverse(); return nil },
			Event{Action: Reverse}, []string{"c", "b", "a"}},
		{"clear", []string{"a", "b"}, func(l *List[string]) error { l.Clear(); return nil },
			Event{Action: Clear}, []string{}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := NewList(test.start...)
			r := &recorder{}
			l.Attach(observe(r))

			require.NoError(t, test.op(l))
			require.Len(t, r.events, 1)
			if diff := gocmp.Diff(test.want, r.events[0], ignoreSource); diff != "" {
				t.Errorf("event (-want +got):\n%s", diff)
			}
			assert.Equal(t, l, r.events[0].Source)
			assert.Equal(t, test.after, append([]string{}, l.Items()...))
		})
	}
}

func TestListErrorsDoNotNotify(t *testing.T) {
	l := NewList("a")
	r := &recorder{}
	l.Attach(observe(r))

	assert.Equal(t, ErrIndexOutOfRange, errors.Cause(l.Set(3, "x")))
	assert.Equal(t, ErrIndexOutOfRange, errors.Cause(l.Delete(-2)))
	_, err := l.Pop(1)
	assert.Equal(t, ErrIndexOutOfRange, errors.Cause(err))
	assert.Equal(t, ErrValueNotFound, errors.Cause(l.Remove("z")))
	_, err = NewList[string]().Pop(-1)
	assert.Equal(t, ErrIndexOutOfRange, errors.Cause(err))

	assert.Empty(t, r.events)
	assert.Equal(t, []string{"a"}, l.Items())
}

func TestListReplayReconstructsState(t *testing.T) {
	l := NewList(1, 2, 3)
	mirror := l.Values()
	r := &recorder{}
	l.Attach(observe(r))

	l.Append(4)
	l.Insert(0, 0)
	l.Set(2, 20)
	l.Delete(1)
	l.Extend(5, 6)
	l.Pop(-1)
	l.Remove(3)

	for _, ev := range r.events {
		switch ev.Action {
		case Append, Insert:
			mirror = append(mirror[:ev.Index], append([]any{ev.Item}, mirror[ev.Index:]...)...)
		case SetItem:
			mirror[ev.Index] = ev.NewItem
		case DelItem, Pop, Remove:
			mirror = append(mirror[:ev.Index], mirror[ev.Index+1:]...)
		case Extend:
			mirror = append(mirror[:ev.Index], ev.Items...)
		}
	}
	assert.Equal(t, l.Values(), mirror)
}

func TestListVersions(t *testing.T) {
	l := NewList("a")
	r := &recorder{}
	l.Attach(observe(r))

	_, version := l.Snapshot()
	assert.Zero(t, version)
	l.Append("b")
	l.Set(0, "c")
	assert.Error(t, l.Delete(5))
	l.Clear()

	var versions []uint64
	for _, ev := range r.events {
		versions = append(versions, ev.Version)
	}
	assert.Equal(t, []uint64{1, 2, 3}, versions)
	values, version := l.Snapshot()
	assert.Empty(t, values)
	assert.Equal(t, uint64(3), version)
}
