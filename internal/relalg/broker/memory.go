package broker

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Memory is an in-process Broker with AMQP-like queue semantics: each ready
// message goes to one consumer, unacknowledged messages are requeued when
// their consumer stops, and reply queues are deleted with their last
// consumer.
type Memory struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	closed bool
	done   chan struct{}
}

type memQueue struct {
	mu         sync.Mutex
	ready      []Message
	signal     chan struct{} // closed and replaced on every change
	consumers  int
	autoDelete bool
	deleted    bool
}

func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string]*memQueue),
		done:   make(chan struct{}),
	}
}

func newMemQueue(autoDelete bool) *memQueue {
	return &memQueue{signal: make(chan struct{}), autoDelete: autoDelete}
}

// notify wakes every waiter. q.mu must be held.
func (q *memQueue) notify() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func (q *memQueue) push(msgs ...Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleted {
		return
	}
	q.ready = append(q.ready, msgs...)
	q.notify()
}

// pop blocks until a message is ready, the queue is deleted, or either
// stop channel fires.
func (q *memQueue) pop(stop, closed <-chan struct{}) (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return msg, true
		}
		if q.deleted {
			q.mu.Unlock()
			return Message{}, false
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-wait:
		case <-stop:
			return Message{}, false
		case <-closed:
			return Message{}, false
		}
	}
}

// Ready returns the number of messages waiting in queue name.
func (m *Memory) Ready(name string) int {
	m.mu.Lock()
	q, ok := m.queues[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// QueueExists reports whether queue name is declared.
func (m *Memory) QueueExists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queues[name]
	return ok
}

func (m *Memory) declare(name string, autoDelete bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.queues[name]; !ok {
		m.queues[name] = newMemQueue(autoDelete)
	}
	return nil
}

func (m *Memory) DeclareQueue(_ context.Context, name string) error {
	if name == "" {
		return errors.New("queue name is empty")
	}
	return m.declare(name, false)
}

func (m *Memory) DeclareReplyQueue(_ context.Context) (string, error) {
	name := "amq.gen-" + uuid.NewString()
	return name, m.declare(name, true)
}

func (m *Memory) PurgeQueue(_ context.Context, name string) (int, error) {
	q, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.ready)
	q.ready = nil
	return n, nil
}

func (m *Memory) lookup(name string) (*memQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[name]
	if !ok {
		return nil, errors.Newf("queue %s not found", name)
	}
	return q, nil
}

func (m *Memory) Publish(ctx context.Context, queue string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	q, ok := m.queues[queue]
	m.mu.Unlock()
	if ok {
		msg.Body = append([]byte(nil), msg.Body...)
		q.push(msg)
	}
	return nil
}

func (m *Memory) Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error) {
	q, err := m.lookup(queue)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.consumers++
	q.mu.Unlock()

	c := &memConsumer{
		m:       m,
		q:       q,
		name:    queue,
		opts:    opts,
		out:     make(chan Delivery),
		unacked: make(map[uint64]Message),
	}
	if !opts.AutoAck && opts.Prefetch > 0 {
		c.slots = make(chan struct{}, opts.Prefetch)
	}
	go c.run(ctx)
	return c.out, nil
}

type memConsumer struct {
	m    *Memory
	q    *memQueue
	name string
	opts ConsumeOptions
	out  chan Delivery

	slots chan struct{}

	mu      sync.Mutex
	stopped bool
	nextTag uint64
	unacked map[uint64]Message
}

func (c *memConsumer) run(ctx context.Context) {
	defer c.stop()
	for {
		if c.slots != nil {
			select {
			case c.slots <- struct{}{}:
			case <-ctx.Done():
				return
			case <-c.m.done:
				return
			}
		}
		msg, ok := c.q.pop(ctx.Done(), c.m.done)
		if !ok {
			return
		}
		d := c.track(msg)
		select {
		case c.out <- d:
		case <-ctx.Done():
			return
		case <-c.m.done:
			return
		}
	}
}

// track registers msg as in flight and builds its delivery.
func (c *memConsumer) track(msg Message) Delivery {
	d := Delivery{Message: msg}
	if c.opts.AutoAck {
		return d
	}
	c.mu.Lock()
	c.nextTag++
	tag := c.nextTag
	c.unacked[tag] = msg
	c.mu.Unlock()

	d.ack = func() error {
		c.settle(tag, false)
		return nil
	}
	d.nack = func(requeue bool) error {
		c.settle(tag, requeue)
		return nil
	}
	return d
}

func (c *memConsumer) settle(tag uint64, requeue bool) {
	c.mu.Lock()
	msg, ok := c.unacked[tag]
	delete(c.unacked, tag)
	stopped := c.stopped
	c.mu.Unlock()
	if !ok || stopped {
		return
	}
	if c.slots != nil {
		<-c.slots
	}
	if requeue {
		c.q.push(msg)
	}
}

// stop requeues in-flight messages and drops an auto-delete queue once its
// last consumer is gone.
func (c *memConsumer) stop() {
	c.mu.Lock()
	c.stopped = true
	pending := make([]Message, 0, len(c.unacked))
	for _, msg := range c.unacked {
		pending = append(pending, msg)
	}
	c.unacked = nil
	c.mu.Unlock()
	close(c.out)

	if len(pending) > 0 {
		c.q.push(pending...)
	}

	c.q.mu.Lock()
	c.q.consumers--
	drop := c.q.autoDelete && c.q.consumers == 0
	if drop {
		c.q.deleted = true
		c.q.ready = nil
		c.q.notify()
	}
	c.q.mu.Unlock()

	if drop {
		c.m.mu.Lock()
		if c.m.queues[c.name] == c.q {
			delete(c.m.queues, c.name)
		}
		c.m.mu.Unlock()
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
