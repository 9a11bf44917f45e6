// Package worker runs the fan-out workers that turn store changes into
// subscriber deliveries.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/putmeon/internal/adapters/mq/queue"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

const (
	defaultInboxSize      = 256
	workerShutdownTimeout = 5 * time.Second
)

// Change abstracts what workers read off the queue.
type Change = queue.Change

// Handler processes one change.
type Handler interface {
	Handle(ctx context.Context, c model.Change) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c model.Change) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, c model.Change) error { return f(ctx, c) }

// Source is the queue side the pool consumes.
type Source interface {
	Dequeue() <-chan Change
	Done() <-chan struct{}
}

// InMemoryWorker handles the changes routed to its partition, one at a time.
type InMemoryWorker struct {
	name    string
	inbox   chan Change
	handler Handler
	logger  logger.Logger
	done    chan struct{}
}

// NewInMemoryWorker creates a worker with an inbox of the given size.
func NewInMemoryWorker(handler Handler, inboxSize int, opts ...Option) *InMemoryWorker {
	if inboxSize < 1 {
		inboxSize = defaultInboxSize
	}
	w := &InMemoryWorker{
		name:    "worker",
		inbox:   make(chan Change, inboxSize),
		handler: handler,
		logger:  logger.Nop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run handles changes until the inbox is closed or ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-w.inbox:
			if !ok {
				return
			}
			w.process(ctx, c)
		}
	}
}

func (w *InMemoryWorker) process(ctx context.Context, c Change) {
	if err := w.handler.Handle(ctx, c); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handler_error")
		w.logger.Error(ctx, "change handling failed", logger.String("path", c.Path), logger.Error(err))
	}
}

// Pool routes changes to workers by the root segment of their path, so every
// change of one subtree is handled by the same worker in commit order.
type Pool struct {
	workers []*InMemoryWorker
	source  Source
	logger  logger.Logger

	wg        sync.WaitGroup
	stopOnce  sync.Once
	stop      chan struct{}
	inboxSize int
}

// NewPool creates a pool of workerCount workers. workerCount < 1 uses the
// number of CPUs.
func NewPool(workerCount int, source Source, handler Handler, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers:   make([]*InMemoryWorker, workerCount),
		source:    source,
		logger:    logger.Nop(),
		stop:      make(chan struct{}),
		inboxSize: defaultInboxSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(handler, p.inboxSize,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
		)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Partition returns the worker index for a path.
func (p *Pool) Partition(path string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(model.RootOf(path)))
	return int(h.Sum32() % uint32(len(p.workers)))
}

// Start launches the workers and the dispatcher.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.wg.Add(1)
	go p.dispatch(ctx)
}

func (p *Pool) dispatch(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		for _, w := range p.workers {
			close(w.inbox)
		}
	}()

	in := p.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			p.drain(ctx, in)
			return
		case <-p.source.Done():
			p.drain(ctx, in)
			return
		case c := <-in:
			p.route(ctx, c)
		}
	}
}

// drain forwards whatever is still buffered.
func (p *Pool) drain(ctx context.Context, in <-chan Change) {
	for {
		select {
		case c := <-in:
			p.route(ctx, c)
		default:
			return
		}
	}
}

func (p *Pool) route(ctx context.Context, c Change) {
	w := p.workers[p.Partition(c.Path)]
	select {
	case w.inbox <- c:
	case <-ctx.Done():
	}
}

// Shutdown stops dispatching, lets workers finish their inboxes and waits
// for them or for ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })

	dispatched := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(dispatched)
	}()
	select {
	case <-dispatched:
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}

	timeout := time.NewTimer(workerShutdownTimeout)
	defer timeout.Stop()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker shutdown: %w", ctx.Err())
		case <-timeout.C:
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker %d did not stop", i)
		}
	}
	return nil
}
