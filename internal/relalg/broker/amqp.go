package broker

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP is a Broker backed by an AMQP 0-9-1 connection. Declarations and
// publishes share one channel guarded by a mutex; each consumer gets its
// own channel so its prefetch and cancellation are independent.
type AMQP struct {
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

func DialAMQP(url string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}
	return &AMQP{conn: conn, ch: ch}, nil
}

// channel returns the shared channel, reopening it if the server closed it
// after a channel-level error.
func (a *AMQP) channel() (*amqp.Channel, error) {
	if a.conn.IsClosed() {
		return nil, ErrClosed
	}
	if a.ch == nil || a.ch.IsClosed() {
		ch, err := a.conn.Channel()
		if err != nil {
			return nil, errors.Wrap(err, "reopen amqp channel")
		}
		a.ch = ch
	}
	return a.ch, nil
}

func (a *AMQP) DeclareQueue(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %s", name)
	}
	return nil
}

func (a *AMQP) DeclareReplyQueue(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channel()
	if err != nil {
		return "", err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", errors.Wrap(err, "declare reply queue")
	}
	return q.Name, nil
}

func (a *AMQP) PurgeQueue(_ context.Context, name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channel()
	if err != nil {
		return 0, err
	}
	n, err := ch.QueuePurge(name, false)
	if err != nil {
		return 0, errors.Wrapf(err, "purge queue %s", name)
	}
	return n, nil
}

func (a *AMQP) Publish(ctx context.Context, queue string, msg Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Body:          msg.Body,
	})
	return errors.Wrapf(err, "publish to %s", queue)
}

func (a *AMQP) Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error) {
	if a.conn.IsClosed() {
		return nil, ErrClosed
	}
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open consumer channel")
	}
	if opts.Prefetch > 0 {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, errors.Wrap(err, "set prefetch")
		}
	}
	tag := "relalg-" + uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, opts.AutoAck, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "consume %s", queue)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		// Closing the channel requeues anything still unacknowledged.
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				_ = ch.Cancel(tag, false)
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- wrapDelivery(d, opts.AutoAck):
				case <-ctx.Done():
					if !opts.AutoAck {
						_ = d.Nack(false, true)
					}
					_ = ch.Cancel(tag, false)
					return
				}
			}
		}
	}()
	return out, nil
}

func wrapDelivery(d amqp.Delivery, autoAck bool) Delivery {
	out := Delivery{Message: Message{
		Body:          d.Body,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
	}}
	if !autoAck {
		out.ack = func() error { return d.Ack(false) }
		out.nack = func(requeue bool) error { return d.Nack(false, requeue) }
	}
	return out
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn.IsClosed() {
		return nil
	}
	return errors.Wrap(a.conn.Close(), "close amqp connection")
}
