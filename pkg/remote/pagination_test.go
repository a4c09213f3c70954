package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenEmptyPages(t *testing.T) {
	flat := flatten([]page[int]{})
	assert.Empty(t, flat.Entries)
	assert.False(t, flat.HasMore)
}

func TestFlattenConcatenatesAndKeepsLastCursor(t *testing.T) {
	pages := []page[int]{
		{Entries: []int{1, 2}, Cursor: "c1", HasMore: true},
		{Entries: []int{3}, Cursor: "c2", HasMore: false},
	}
	flat := flatten(pages)
	assert.Equal(t, []int{1, 2, 3}, flat.Entries)
	assert.Equal(t, "c2", flat.Cursor)
	assert.False(t, flat.HasMore)
}

func TestListAllSinglePage(t *testing.T) {
	calls := 0
	first := func() (page[string], error) {
		calls++
		return page[string]{Entries: []string{"a", "b"}, HasMore: false}, nil
	}
	next := func(cursor string) (page[string], error) {
		t.Fatal("continuer should not be called when HasMore is false")
		return page[string]{}, nil
	}

	result, err := listAll(first, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.Entries)
	assert.Equal(t, 1, calls)
}

func TestListAllDrainsMultiplePages(t *testing.T) {
	first := func() (page[string], error) {
		return page[string]{Entries: []string{"a"}, Cursor: "c1", HasMore: true}, nil
	}
	callCount := 0
	next := func(cursor string) (page[string], error) {
		callCount++
		switch cursor {
		case "c1":
			return page[string]{Entries: []string{"b"}, Cursor: "c2", HasMore: true}, nil
		case "c2":
			return page[string]{Entries: []string{"c"}, Cursor: "c3", HasMore: false}, nil
		default:
			t.Fatalf("unexpected cursor %q", cursor)
			return page[string]{}, nil
		}
	}

	result, err := listAll(first, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, result.Entries)
	assert.Equal(t, "c3", result.Cursor)
	assert.Equal(t, 2, callCount)
}

func TestListAllPropagatesFirstPageError(t *testing.T) {
	first := func() (page[int], error) {
		return page[int]{}, New(KindNetworkError, "t", "m")
	}
	next := func(cursor string) (page[int], error) {
		t.Fatal("continuer should not be called when the first page fails")
		return page[int]{}, nil
	}

	_, err := listAll(first, next)
	require.Error(t, err)
}

func TestListAllRetriesContinuationOnRetryableError(t *testing.T) {
	first := func() (page[int], error) {
		return page[int]{Entries: []int{1}, Cursor: "c1", HasMore: true}, nil
	}
	attempts := 0
	next := func(cursor string) (page[int], error) {
		attempts++
		if attempts < 2 {
			return page[int]{}, New(KindNetworkError, "t", "m")
		}
		return page[int]{Entries: []int{2}, HasMore: false}, nil
	}

	result, err := listAll(first, next)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, result.Entries)
	assert.Equal(t, 2, attempts)
}

func TestIteratorPagesYieldsEachPage(t *testing.T) {
	first := func() (page[int], error) {
		return page[int]{Entries: []int{1}, Cursor: "c1", HasMore: true}, nil
	}
	next := func(cursor string) (page[int], error) {
		return page[int]{Entries: []int{2}, HasMore: false}, nil
	}

	it := newIterator(next)
	var seen [][]int
	for p := range it.Pages(first) {
		seen = append(seen, p.Entries)
	}

	require.NoError(t, it.Err())
	assert.Equal(t, [][]int{{1}, {2}}, seen)
}

func TestIteratorPagesStopsEarlyWhenYieldReturnsFalse(t *testing.T) {
	first := func() (page[int], error) {
		return page[int]{Entries: []int{1}, Cursor: "c1", HasMore: true}, nil
	}
	nextCalled := false
	next := func(cursor string) (page[int], error) {
		nextCalled = true
		return page[int]{Entries: []int{2}, HasMore: false}, nil
	}

	it := newIterator(next)
	for range it.Pages(first) {
		break
	}

	assert.False(t, nextCalled, "iteration stopped before requesting the next page")
	require.NoError(t, it.Err())
}

func TestIteratorPagesRecordsError(t *testing.T) {
	first := func() (page[int], error) {
		return page[int]{}, New(KindBadInput, "t", "m")
	}
	next := func(cursor string) (page[int], error) {
		return page[int]{}, nil
	}

	it := newIterator(next)
	for range it.Pages(first) {
		t.Fatal("no pages should be yielded when the first page fails")
	}

	require.Error(t, it.Err())
}
