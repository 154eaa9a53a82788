package processor

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/refmerge/internal/document"
	"github.com/fyrsmithlabs/refmerge/internal/resolver"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Pool processes the documents of a batch concurrently. Each document is
// still resolved sequentially; only separate top-level documents overlap.
//
// ProcessAll keeps batch order where it matters: a lookup for a key that an
// earlier document of the same batch carries in its foreign id field waits
// until that document has been processed and handed to the sinks. With an
// IndexSink this means a document always sees the earlier batch members it
// references, directly or through documents already in the store.
type Pool struct {
	proc    *Processor
	workers int
}

// NewPool creates a pool running at most workers documents at once.
func NewPool(proc *Processor, workers int) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Pool{proc: proc, workers: workers}
}

// ProcessAll runs Processor.Process on every document. Results keep the
// input order. A failing document does not stop the batch: its Result
// carries the error text. The returned error is non-nil only when ctx ends
// before the batch completes.
func (p *Pool) ProcessAll(ctx context.Context, docs []*document.Document) ([]*Result, error) {
	return p.run(ctx, docs, p.proc.Process, newBatchOrder(docs, p.proc.Settings().ForeignIDField))
}

// ResolveAll is ProcessAll without sinks; input documents are not modified.
// Nothing is written, so batch members never see each other and run
// without ordering.
func (p *Pool) ResolveAll(ctx context.Context, docs []*document.Document) ([]*Result, error) {
	return p.run(ctx, docs, p.proc.Resolve, nil)
}

// batchOrder tracks which batch members provide which lookup keys.
type batchOrder struct {
	// providers maps a foreign id to the indices carrying it, ascending.
	providers map[string][]int
	done      []chan struct{}
}

func newBatchOrder(docs []*document.Document, foreignIDField string) *batchOrder {
	o := &batchOrder{
		providers: make(map[string][]int),
		done:      make([]chan struct{}, len(docs)),
	}
	for i, doc := range docs {
		o.done[i] = make(chan struct{})
		for _, key := range resolver.LookupKeys(doc, foreignIDField) {
			o.providers[key] = append(o.providers[key], i)
		}
	}
	return o
}

// barrier makes lookups of document i wait for the earlier members that
// provide the key. Waits only point backwards, so they cannot deadlock.
func (o *batchOrder) barrier(i int) resolver.Barrier {
	return func(ctx context.Context, key string) error {
		for _, j := range o.providers[key] {
			if j >= i {
				break
			}
			select {
			case <-o.done[j]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

func (p *Pool) run(ctx context.Context, docs []*document.Document,
	fn func(context.Context, *document.Document) (*Result, error), order *batchOrder) ([]*Result, error) {

	results := make([]*Result, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, doc := range docs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			PoolInFlight.Inc()
			defer PoolInFlight.Dec()

			docCtx := gctx
			if order != nil {
				defer close(order.done[i])
				docCtx = resolver.WithBarrier(gctx, order.barrier(i))
			}
			res, err := fn(docCtx, doc)
			if res == nil {
				res = &Result{Document: doc}
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
