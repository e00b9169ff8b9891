// Package dispatch executes task graphs against remote workers.
//
// Every task becomes one request/reply call over the broker. A task waits for
// the futures of its predecessors, publishes its request to the task queue
// with a fresh correlation id and a private reply queue, and settles its own
// future when the correlated reply arrives. A failed predecessor fails the
// task without any remote call.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/metrics"
	"github.com/ariyn/relalg/internal/relalg/plan"
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

// DefaultTaskQueue is the queue workers consume from.
const DefaultTaskQueue = "task_queue"

type Config struct {
	TaskQueue string
	// PurgeOnOpen drops requests left in the task queue by a previous run.
	PurgeOnOpen bool
}

// Dispatcher owns the pending-call registry for one broker handle. The
// broker is shared by all calls and is not closed by the dispatcher.
type Dispatcher struct {
	b       broker.Broker
	cfg     Config
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending map[string]*pendingCall
}

type pendingCall struct {
	task plan.TaskID
	sink *plan.Future
	sent time.Time
}

// Open declares the task queue and returns a ready dispatcher. m may be nil.
func Open(ctx context.Context, b broker.Broker, cfg Config, m *metrics.Metrics) (*Dispatcher, error) {
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = DefaultTaskQueue
	}
	if m == nil {
		m = metrics.New()
	}
	if err := b.DeclareQueue(ctx, cfg.TaskQueue); err != nil {
		return nil, relerr.Transport(err, "cannot declare task queue %s", cfg.TaskQueue)
	}
	if cfg.PurgeOnOpen {
		n, err := b.PurgeQueue(ctx, cfg.TaskQueue)
		if err != nil {
			return nil, relerr.Transport(err, "cannot purge task queue %s", cfg.TaskQueue)
		}
		if n > 0 {
			log.Infof(ctx, "purged %d stale tasks from %s", n, cfg.TaskQueue)
		}
	}
	dctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		b:       b,
		cfg:     cfg,
		metrics: m,
		ctx:     dctx,
		cancel:  cancel,
		pending: make(map[string]*pendingCall),
	}, nil
}

// Submit starts every task of g and returns immediately. Outcomes arrive
// through the graph's futures. When ctx is done the graph is cancelled.
func (d *Dispatcher) Submit(ctx context.Context, g *plan.Graph) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		err := relerr.Transport(broker.ErrClosed, "dispatcher is closed")
		for _, t := range g.Tasks() {
			g.Future(t.ID).Fail(err)
		}
		return err
	}
	d.wg.Add(g.Len() + 1)
	d.mu.Unlock()

	for _, t := range g.Tasks() {
		go d.run(ctx, g, t)
	}
	go func() {
		defer d.wg.Done()
		select {
		case <-ctx.Done():
			if n := g.Cancel(); n > 0 {
				log.Infof(ctx, "cancelled %d pending tasks", n)
			}
		case <-g.RootFuture().Done():
		case <-d.ctx.Done():
		}
	}()
	return nil
}

// Pending returns the number of outstanding remote calls.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails every outstanding call with a TransportError and waits for
// all task goroutines to exit. It is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	calls := make([]*pendingCall, 0, len(d.pending))
	for _, c := range d.pending {
		calls = append(calls, c)
	}
	d.mu.Unlock()

	for _, c := range calls {
		c.sink.Fail(relerr.Transport(broker.ErrClosed, "dispatcher closed while task %s was outstanding", c.task))
	}
	d.cancel()
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, g *plan.Graph, t plan.Task) {
	defer d.wg.Done()
	ctx = log.WithTag(ctx, "task", t.ID)
	sink := g.Future(t.ID)

	if err := d.awaitPredecessors(g, sink, t); err != nil {
		if relerr.Is(err, relerr.KindComputation) {
			d.metrics.TasksShortCircuited.Inc()
			log.Verbosef(ctx, "not dispatched: %v", err)
		}
		d.fail(ctx, sink, err)
		return
	}
	if sink.Settled() {
		return
	}
	left, right := d.resolve(g, t.Left), d.resolve(g, t.Right)
	d.call(ctx, t, left, right, sink)
}

// awaitPredecessors waits until every predecessor succeeded. The first
// failure is returned as a ComputationError carrying the original cause.
func (d *Dispatcher) awaitPredecessors(g *plan.Graph, sink *plan.Future, t plan.Task) error {
	preds := t.Predecessors()
	waiting := make([]<-chan struct{}, 2)
	for i, p := range preds {
		waiting[i] = g.Future(p).Done()
	}
	for remaining := len(preds); remaining > 0; remaining-- {
		var i int
		select {
		case <-waiting[0]:
			i = 0
		case <-waiting[1]:
			i = 1
		case <-sink.Done():
			return nil
		case <-d.ctx.Done():
			return relerr.Transport(broker.ErrClosed, "dispatcher closed before task %s was sent", t.ID)
		}
		// a nil channel blocks forever
		waiting[i] = nil
		if _, err := g.Future(preds[i]).Result(); err != nil {
			if relerr.IsCancellation(err) {
				return relerr.Cancelled
			}
			return relerr.Computation(err)
		}
	}
	return nil
}

func (d *Dispatcher) resolve(g *plan.Graph, in plan.Input) *types.Table {
	if !in.IsPending() {
		return in.Table()
	}
	t, _ := g.Future(in.From()).Result()
	return t
}

func (d *Dispatcher) fail(ctx context.Context, sink *plan.Future, err error) {
	if relerr.IsCancellation(err) {
		sink.Cancel()
		return
	}
	if sink.Fail(err) {
		d.metrics.TaskFailures.WithLabelValues(kindLabel(err)).Inc()
		log.Verbosef(ctx, "task failed: %v", err)
	}
}

func kindLabel(err error) string {
	if k := relerr.KindOf(err); k != relerr.KindUnknown {
		return string(k)
	}
	return "unknown"
}

// call performs one remote call and settles sink with its outcome. The
// reply consumer and the pending-call entry live exactly as long as call.
func (d *Dispatcher) call(ctx context.Context, t plan.Task, left, right *types.Table, sink *plan.Future) {
	body, err := wire.Marshal(wire.TaskRequest{
		Operation: t.Operation,
		Arg1:      &wire.Table{Table: left},
		Arg2:      &wire.Table{Table: right},
	})
	if err != nil {
		d.fail(ctx, sink, err)
		return
	}

	callCtx, stop := context.WithCancel(d.ctx)
	defer stop()

	replyTo, err := d.b.DeclareReplyQueue(callCtx)
	if err != nil {
		d.fail(ctx, sink, relerr.Transport(err, "cannot declare reply queue for task %s", t.ID))
		return
	}
	replies, err := d.b.Consume(callCtx, replyTo, broker.ConsumeOptions{AutoAck: true})
	if err != nil {
		d.fail(ctx, sink, relerr.Transport(err, "cannot consume reply queue for task %s", t.ID))
		return
	}

	id := uuid.NewString()
	if !d.register(id, t.ID, sink) {
		d.fail(ctx, sink, relerr.Transport(broker.ErrClosed, "dispatcher is closed"))
		return
	}
	defer d.forget(id)

	err = d.b.Publish(callCtx, d.cfg.TaskQueue, broker.Message{Body: body, CorrelationID: id, ReplyTo: replyTo})
	if err != nil {
		d.fail(ctx, sink, relerr.Transport(err, "cannot publish task %s", t.ID))
		return
	}
	d.metrics.TasksDispatched.Inc()
	log.Verbosef(ctx, "published %s as %s", t.Operation, id)

	for {
		select {
		case msg, ok := <-replies:
			if !ok {
				d.fail(ctx, sink, relerr.Transport(broker.ErrClosed, "reply consumer for task %s stopped", t.ID))
				return
			}
			if msg.CorrelationID != id {
				d.metrics.RepliesDropped.Inc()
				log.Verbosef(ctx, "dropped reply for %q on the queue of %s", msg.CorrelationID, id)
				continue
			}
			if d.deliver(ctx, msg) {
				return
			}
		case <-sink.Done():
			log.Verbosef(ctx, "abandoned call %s", id)
			return
		case <-d.ctx.Done():
			d.fail(ctx, sink, relerr.Transport(broker.ErrClosed, "dispatcher closed while task %s was outstanding", t.ID))
			return
		}
	}
}

func (d *Dispatcher) register(id string, task plan.TaskID, sink *plan.Future) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.pending[id] = &pendingCall{task: task, sink: sink, sent: time.Now()}
	d.metrics.PendingCalls.Set(float64(len(d.pending)))
	return true
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
	d.metrics.PendingCalls.Set(float64(len(d.pending)))
}

// take removes and returns the pending call for id.
func (d *Dispatcher) take(id string) (*pendingCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
		d.metrics.PendingCalls.Set(float64(len(d.pending)))
	}
	return c, ok
}

// deliver settles the pending call a reply belongs to. Replies without a
// pending call are dropped and deliver returns false.
func (d *Dispatcher) deliver(ctx context.Context, msg broker.Delivery) bool {
	c, ok := d.take(msg.CorrelationID)
	if !ok {
		d.metrics.RepliesDropped.Inc()
		log.Verbosef(ctx, "dropped reply with unknown correlation id %q", msg.CorrelationID)
		return false
	}
	d.metrics.TaskLatency.Observe(time.Since(c.sent).Seconds())

	var res wire.ResultHolder
	if err := wire.Unmarshal(msg.Body, &res); err != nil {
		d.fail(ctx, c.sink, err)
		return true
	}
	t, err := res.Outcome()
	switch {
	case err == nil:
		c.sink.Complete(t)
	case relerr.Is(err, relerr.KindDeserialization) && res.Problem == nil:
		d.fail(ctx, c.sink, err)
	default:
		d.fail(ctx, c.sink, relerr.Computation(err))
	}
	return true
}
