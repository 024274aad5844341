package pagination

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeFetcher serves pages of ints keyed by cursor.
type fakeFetcher struct {
	pages   map[int64][]int
	next    map[int64]int64
	failAt  int64
	err     error
	cursors []int64
}

func (f *fakeFetcher) FetchPage(ctx context.Context, cursor int64) ([]int, int64, error) {
	f.cursors = append(f.cursors, cursor)
	if f.err != nil && cursor == f.failAt {
		return nil, 0, f.err
	}
	return f.pages[cursor], f.next[cursor], nil
}

func threePages() *fakeFetcher {
	return &fakeFetcher{
		pages: map[int64][]int{
			0:  {30, 29, 28},
			27: {27, 26, 25},
			24: {24, 23},
		},
		next: map[int64]int64{0: 27, 27: 24, 24: 0},
	}
}

func collect(t *testing.T, seq func(func(int, error) bool)) ([]int, error) {
	t.Helper()
	var got []int
	for v, err := range seq {
		if err != nil {
			return got, err
		}
		got = append(got, v)
	}
	return got, nil
}

func TestWalk_AllPages(t *testing.T) {
	f := threePages()

	got, err := collect(t, Walk[int](context.Background(), f, 0, DefaultConfig()))
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []int{30, 29, 28, 27, 26, 25, 24, 23}
	if len(got) != len(want) {
		t.Fatalf("Walk() yielded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}
	if len(f.cursors) != 3 {
		t.Errorf("Fetched %d pages, want 3 (cursors %v)", len(f.cursors), f.cursors)
	}
}

func TestWalk_StartCursor(t *testing.T) {
	f := threePages()

	got, err := collect(t, Walk[int](context.Background(), f, 27, DefaultConfig()))
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(got) != 5 || got[0] != 27 {
		t.Errorf("Walk() from cursor 27 = %v", got)
	}
}

func TestWalk_StopsLazily(t *testing.T) {
	f := threePages()

	for v, err := range Walk[int](context.Background(), f, 0, DefaultConfig()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v == 28 {
			break
		}
	}

	if len(f.cursors) != 1 {
		t.Errorf("Fetched %d pages after early break, want 1", len(f.cursors))
	}
}

func TestWalk_ErrorEndsSequence(t *testing.T) {
	boom := errors.New("boom")
	f := threePages()
	f.failAt, f.err = 27, boom

	got, err := collect(t, Walk[int](context.Background(), f, 0, DefaultConfig()))
	if !errors.Is(err, boom) {
		t.Fatalf("Walk() error = %v, want %v", err, boom)
	}
	if len(got) != 3 {
		t.Errorf("Items before error = %v, want first page only", got)
	}
}

func TestWalk_DefaultConfigNoDeadline(t *testing.T) {
	hasDeadline := false
	fetch := FetcherFunc[int](func(ctx context.Context, cursor int64) ([]int, int64, error) {
		_, hasDeadline = ctx.Deadline()
		return []int{1}, 0, nil
	})

	if _, err := collect(t, Walk[int](context.Background(), fetch, 0, DefaultConfig())); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if hasDeadline {
		t.Error("Default page context should carry no deadline")
	}
}

func TestWalk_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := threePages()
	_, err := collect(t, Walk[int](ctx, f, 0, DefaultConfig()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Walk() error = %v, want context.Canceled", err)
	}
	if len(f.cursors) != 0 {
		t.Errorf("Fetched %d pages with cancelled context", len(f.cursors))
	}
}

func TestWalk_PageTimeout(t *testing.T) {
	var deadline time.Time
	fetch := FetcherFunc[int](func(ctx context.Context, cursor int64) ([]int, int64, error) {
		deadline, _ = ctx.Deadline()
		return []int{1}, 0, nil
	})

	if _, err := collect(t, Walk[int](context.Background(), fetch, 0, Config{Timeout: time.Minute})); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if deadline.IsZero() {
		t.Error("Page context should carry a deadline")
	}
}

func TestWalk_EmptyPageStops(t *testing.T) {
	calls := 0
	fetch := FetcherFunc[int](func(ctx context.Context, cursor int64) ([]int, int64, error) {
		calls++
		return nil, 99, nil
	})

	got, err := collect(t, Walk[int](context.Background(), fetch, 0, DefaultConfig()))
	if err != nil || len(got) != 0 {
		t.Fatalf("Walk() = %v, %v", got, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
