package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map is a parallel mapping function, which runs at most limit mapFuncs at a time
// and streams their results. The input and output are represented as iterators, so
// the typical usage is
//
//	for result, err := range parallel.NewMap(ctx, limit, fn).Iter(input) {}
//
// Errors of the input sequence are passed through to the output without calling
// mapFunc. Results come in completion order. Map is context aware: a canceled
// context or an early break ends the processing and cancels the context passed
// to the running mapFuncs.
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	if limit < 1 {
		limit = 1
	}
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	// +1 for the goroutine feeding the workers
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		mapped:       make(chan result[D], limit),
		mapFunc:      mapFunc,
	}
}

func (s *Map[E, D]) send(r result[D]) error {
	select {
	case <-s.gctx.Done():
		return s.gctx.Err()
	case s.mapped <- r:
		return nil
	}
}

func (s *Map[E, D]) goWorkers(seq iter.Seq2[E, error]) {
	s.g.Go(func() error {
		for entry, nerr := range seq {
			if s.gctx.Err() != nil {
				return s.gctx.Err()
			}
			if nerr != nil {
				var zero D
				if err := s.send(result[D]{d: zero, e: nerr}); err != nil {
					return err
				}
				continue
			}
			s.g.Go(func() error {
				d, err := s.mapFunc(s.gctx, entry)
				return s.send(result[D]{d: d, e: err})
			})
		}
		return nil
	})
}

func (s *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer s.cancelParent()
		s.goWorkers(seq)

		go func() {
			_ = s.g.Wait()
			close(s.mapped)
		}()

		for r := range s.mapped {
			if s.parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
