package synchub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID    string
	Value string
}

func (i item) RecordID() string { return i.ID }

func items(ids ...string) FlatList[item] {
	out := make(FlatList[item], 0, len(ids))
	for _, id := range ids {
		out = append(out, item{ID: id, Value: id})
	}
	return out
}

// ============================================================================
// FlatList
// ============================================================================

func TestFlatList_PrependIfAbsent(t *testing.T) {
	t.Run("inserts at head", func(t *testing.T) {
		l := items("b", "c")
		got := l.PrependIfAbsent(item{ID: "a"})
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
		assert.Equal(t, []string{"b", "c"}, ids(l), "input must not change")
	})

	t.Run("idempotent", func(t *testing.T) {
		l := items("b", "c")
		once := l.PrependIfAbsent(item{ID: "a"})
		twice := once.PrependIfAbsent(item{ID: "a"})
		assert.Equal(t, once, twice)
	})

	t.Run("present anywhere is a no-op", func(t *testing.T) {
		l := items("a", "b", "c")
		got := l.PrependIfAbsent(item{ID: "c", Value: "new"})
		assert.Equal(t, l, got)
		assert.Equal(t, "c", got[2].Value)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		var l FlatList[item]
		assert.Nil(t, l.PrependIfAbsent(item{ID: "a"}))
		assert.Nil(t, l.AppendIfAbsent(item{ID: "a"}))
	})

	t.Run("empty but materialized", func(t *testing.T) {
		got := FlatList[item]{}.PrependIfAbsent(item{ID: "a"})
		assert.Equal(t, []string{"a"}, ids(got))
	})
}

func TestFlatList_AppendIfAbsent(t *testing.T) {
	got := items("a").AppendIfAbsent(item{ID: "b"}).AppendIfAbsent(item{ID: "a"})
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestFlatList_UpdateByID(t *testing.T) {
	l := items("a", "b", "c")

	got := l.UpdateByID(item{ID: "b", Value: "B"})
	assert.Equal(t, "B", got[1].Value)
	assert.Equal(t, "b", l[1].Value, "input must not change")

	absent := l.UpdateByID(item{ID: "z", Value: "Z"})
	assert.Equal(t, l, absent)
	assert.Len(t, absent, 3, "never synthesizes a record")
}

func TestFlatList_DeleteByID(t *testing.T) {
	l := items("a", "b", "c")

	got := l.DeleteByID("b")
	assert.Equal(t, []string{"a", "c"}, ids(got))
	assert.Equal(t, []string{"a", "b", "c"}, ids(l))

	assert.Equal(t, l, l.DeleteByID("z"))

	last := items("a").DeleteByID("a")
	assert.NotNil(t, last, "deleting the last record keeps the list materialized")
	assert.Empty(t, last)
}

func TestFlatList_FindByID(t *testing.T) {
	l := FlatList[item]{{ID: "a", Value: "1"}, {ID: "a", Value: "2"}}
	got, ok := l.FindByID("a")
	require.True(t, ok)
	assert.Equal(t, "1", got.Value, "first match wins")

	_, ok = l.FindByID("z")
	assert.False(t, ok)
}

// ============================================================================
// InfiniteList
// ============================================================================

func pages(l *InfiniteList[item]) [][]string {
	out := make([][]string, 0, len(l.Pages))
	for _, p := range l.Pages {
		out = append(out, ids(FlatList[item](p)))
	}
	return out
}

func TestInfiniteList_PrependIfAbsent(t *testing.T) {
	l := NewInfiniteList([]item{{ID: "b"}, {ID: "c"}}, []item{{ID: "d"}})

	got := l.PrependIfAbsent(item{ID: "a"})
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d"}}, pages(got))
	assert.Equal(t, [][]string{{"b", "c"}, {"d"}}, pages(l), "input must not change")

	assert.Same(t, got, got.PrependIfAbsent(item{ID: "a"}))
	assert.Same(t, l, l.PrependIfAbsent(item{ID: "d"}), "present on an older page")
}

func TestInfiniteList_PrependIntoEmpty(t *testing.T) {
	got := NewInfiniteList[item]().PrependIfAbsent(item{ID: "a"})
	require.NotNil(t, got)
	assert.Equal(t, [][]string{{"a"}}, pages(got))
	assert.Len(t, got.PageParams, 1)
}

func TestInfiniteList_UpdateAndDelete(t *testing.T) {
	l := NewInfiniteList([]item{{ID: "a"}, {ID: "b"}}, []item{{ID: "c"}})

	updated := l.UpdateByID(item{ID: "c", Value: "C"})
	found, ok := updated.FindByID("c")
	require.True(t, ok)
	assert.Equal(t, "C", found.Value)
	assert.Same(t, &l.Pages[0][0], &updated.Pages[0][0], "untouched pages are shared")

	assert.Same(t, l, l.UpdateByID(item{ID: "z"}))

	deleted := l.DeleteByID("a")
	assert.Equal(t, [][]string{{"b"}, {"c"}}, pages(deleted))
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 2, deleted.Len())

	assert.Same(t, l, l.DeleteByID("z"))
}

func TestInfiniteList_Nil(t *testing.T) {
	var l *InfiniteList[item]
	assert.Nil(t, l.PrependIfAbsent(item{ID: "a"}))
	assert.Nil(t, l.UpdateByID(item{ID: "a"}))
	assert.Nil(t, l.DeleteByID("a"))
	_, ok := l.FindByID("a")
	assert.False(t, ok)
	assert.Zero(t, l.Len())
}

func ids(l FlatList[item]) []string {
	out := make([]string, 0, len(l))
	for _, rec := range l {
		out = append(out, rec.ID)
	}
	return out
}
