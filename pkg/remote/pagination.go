package remote

import "time"

// page is the shape every paginated listing endpoint shares: a batch of
// entries, a cursor marking how far the batch reached, and whether more
// pages remain.
type page[T any] struct {
	Entries []T
	Cursor  string
	HasMore bool
}

// flatten concatenates entries across pages into one synthetic page
// carrying the last page's cursor and HasMore=false. Mirrors the source's
// flatten_results: only the tail cursor survives, since every earlier
// cursor is superseded by it.
func flatten[T any](pages []page[T]) page[T] {
	if len(pages) == 0 {
		return page[T]{}
	}
	var all []T
	for _, p := range pages {
		all = append(all, p.Entries...)
	}
	return page[T]{
		Entries: all,
		Cursor:  pages[len(pages)-1].Cursor,
		HasMore: false,
	}
}

// pageFetcher fetches the first page of a listing.
type pageFetcher[T any] func() (page[T], error)

// pageContinuer fetches the next page given the previous page's cursor.
// It is retried up to 3 times with a fixed 3s backoff on a retryable
// error, matching the source's @retry_on_error(ReadTimeout, 3, backoff=3)
// decorator on _list_folder_continue_helper.
type pageContinuer[T any] func(cursor string) (page[T], error)

var continuePolicy = NewRetryPolicy(3, KindNetworkError, KindConnectionError, KindServerError).WithBackoff(3 * time.Second)

// listAll drains a paginated listing to completion and returns the
// flattened result, the shape list_folder/list_remote_changes/
// list_shared_links each return to the caller.
func listAll[T any](first pageFetcher[T], next pageContinuer[T]) (page[T], error) {
	firstPage, err := first()
	if err != nil {
		return page[T]{}, err
	}

	pages := []page[T]{firstPage}
	cursor := firstPage.Cursor
	hasMore := firstPage.HasMore

	for hasMore {
		p, err := continuePage(next, cursor)
		if err != nil {
			return page[T]{}, err
		}
		pages = append(pages, p)
		cursor = p.Cursor
		hasMore = p.HasMore
	}

	return flatten(pages), nil
}

func continuePage[T any](next pageContinuer[T], cursor string) (page[T], error) {
	return Do(continuePolicy, func(attempt int) (page[T], error) {
		return next(cursor)
	})
}

// iterator yields pages lazily: the first page immediately, then
// continuation pages for as long as HasMore holds. It is finite,
// single-pass, and not restartable.
type iterator[T any] struct {
	next pageContinuer[T]
	err  error
}

// newIterator builds an iterator that continues via next.
func newIterator[T any](next pageContinuer[T]) *iterator[T] {
	return &iterator[T]{next: next}
}

// Pages returns a range-over-func iterator yielding each page in turn.
// Iteration stops early if yield returns false, or once the pages are
// exhausted, or on the first error (retrievable via Err after the range
// loop ends).
func (it *iterator[T]) Pages(first pageFetcher[T]) func(yield func(page[T]) bool) {
	return func(yield func(page[T]) bool) {
		p, err := first()
		if err != nil {
			it.err = err
			return
		}
		if !yield(p) {
			return
		}
		cursor, hasMore := p.Cursor, p.HasMore

		for hasMore {
			p, err := continuePage(it.next, cursor)
			if err != nil {
				it.err = err
				return
			}
			if !yield(p) {
				return
			}
			cursor, hasMore = p.Cursor, p.HasMore
		}
	}
}

// Err returns the error that stopped iteration, if any.
func (it *iterator[T]) Err() error { return it.err }
