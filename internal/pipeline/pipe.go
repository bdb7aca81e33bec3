package pipeline

import (
	"context"

	"github.com/mowtools/emsync/internal/emapi"
)

// pipeDepth bounds the fetched-ahead pages in pipelined mode
const pipeDepth = 3

type fetched struct {
	page emapi.Page
	err  error
}

// drainPipelined overlaps page fetches with transform+write: a single
// producer feeds a bounded channel, a single consumer handles pages in
// arrival order so the cursor still advances in order. The producer stops
// at the first error or when the pager is exhausted.
func (e *FillEngine) drainPipelined(ctx context.Context, resource string, pager emapi.Pager, handler pageHandler) error {
	ch := make(chan fetched, pipeDepth)
	prodCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(ch)
		for {
			page, ok, err := pager.Next(prodCtx)
			if err != nil {
				select {
				case ch <- fetched{err: err}:
				case <-prodCtx.Done():
				}
				return
			}
			if !ok {
				return
			}
			select {
			case ch <- fetched{page: page}:
			case <-prodCtx.Done():
				return
			}
		}
	}()

	for item := range ch {
		if item.err != nil {
			return item.err
		}
		done, err := e.processPage(ctx, resource, handler, item.page)
		if err != nil {
			return err
		}
		if done {
			// stop the producer and swallow whatever it fetched ahead
			cancel()
			for range ch {
			}
			return nil
		}
	}
	return ctx.Err()
}
