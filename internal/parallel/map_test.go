package parallel_test

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/ElianF/AutoCommand/internal/parallel"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	f := func(_ context.Context, d time.Duration) (int, error) {
		time.Sleep(d)
		return int(d), nil
	}

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	expected := []int{
		int(1 * time.Second),
		int(2 * time.Second),
		int(5 * time.Second),
		int(10 * time.Second),
	}

	type given struct {
		limit int
		ctx   func(t *testing.T) context.Context
	}
	tCtx := func(t *testing.T) context.Context {
		t.Helper()
		return t.Context()
	}

	var testCases = []struct {
		scenario string
		given    given
		then     time.Duration
	}{
		{"limit 1", given{1, tCtx}, 18 * time.Second},
		{"limit 0 means 1", given{0, tCtx}, 18 * time.Second},
		{"limit 2", given{2, tCtx}, 12 * time.Second},
		{"limit 10", given{10, tCtx}, 10 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				start := time.Now()
				m1 := parallel.NewMap(tt.given.ctx(t), tt.given.limit, f).Iter(all(input))
				require.ElementsMatch(t, expected, values(m1))
				require.Equal(t, tt.then, time.Since(start))
			})
		})
	}
}

func TestMap_Cancel(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 1500*time.Millisecond)
		defer cancel()

		f := func(ctx context.Context, d time.Duration) (time.Duration, error) {
			select {
			case <-time.After(d):
				return d, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		start := time.Now()
		got := values(parallel.NewMap(ctx, 1, f).Iter(all([]time.Duration{time.Second, time.Second, time.Second})))
		require.Equal(t, []time.Duration{time.Second}, got)
		require.Equal(t, 1500*time.Millisecond, time.Since(start))
	})
}

func TestMap_Errors(t *testing.T) {
	t.Parallel()
	errSource := errors.New("source")
	errOdd := errors.New("odd")

	seq := func(yield func(int, error) bool) {
		for i := range 5 {
			if !yield(i, nil) {
				return
			}
		}
		yield(0, errSource)
	}
	f := func(_ context.Context, i int) (int, error) {
		if i%2 == 1 {
			return i, errOdd
		}
		return i * 10, nil
	}

	var got []int
	var odd, source int
	for d, err := range parallel.NewMap(t.Context(), 3, f).Iter(seq) {
		switch {
		case errors.Is(err, errOdd):
			odd++
		case errors.Is(err, errSource):
			source++
		default:
			require.NoError(t, err)
			got = append(got, d)
		}
	}
	require.ElementsMatch(t, []int{0, 20, 40}, got)
	require.Equal(t, 2, odd)
	require.Equal(t, 1, source)
}

func TestMap_Break(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	f := func(ctx context.Context, i int) (int, error) {
		started.Add(1)
		return i, nil
	}
	input := make([]int, 100)
	for i := range input {
		input[i] = i
	}
	for range parallel.NewMap(t.Context(), 2, f).Iter(all(input)) {
		break
	}
	require.Less(t, started.Load(), int32(100))
}

func all[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}

func values[T any](i iter.Seq2[T, error]) []T {
	var ret []T
	for k, err := range i {
		if err != nil {
			continue
		}
		ret = append(ret, k)
	}
	return ret
}
