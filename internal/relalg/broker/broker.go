// Package broker is the message-broker surface used by the dispatcher and
// the workers: durable work queues, server-named reply queues, publish with
// correlation properties, and consumers with manual acknowledgement.
//
// Two implementations exist. AMQP talks to a RabbitMQ-compatible broker;
// Memory runs inside the process and backs tests and embedded mode.
package broker

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// MemoryURL selects the in-process broker in Open.
const MemoryURL = "memory://"

// Message is a published message and its routing properties.
type Message struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

// Delivery is a consumed message. Unless the consumer was opened with
// AutoAck, it must be acknowledged with Ack or returned with Nack.
type Delivery struct {
	Message
	ack  func() error
	nack func(requeue bool) error
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// ConsumeOptions configure a consumer. Prefetch bounds the number of
// unacknowledged deliveries; zero means unbounded.
type ConsumeOptions struct {
	AutoAck  bool
	Prefetch int
}

// Broker is safe for concurrent use.
type Broker interface {
	// DeclareQueue declares a durable, shared work queue.
	DeclareQueue(ctx context.Context, name string) error
	// DeclareReplyQueue declares an exclusive queue with a server-chosen
	// name. It is deleted when its last consumer goes away.
	DeclareReplyQueue(ctx context.Context) (string, error)
	// PurgeQueue drops all ready messages and returns how many there were.
	PurgeQueue(ctx context.Context, name string) (int, error)
	// Publish sends msg to queue via the default exchange. Messages to a
	// queue that does not exist are dropped.
	Publish(ctx context.Context, queue string, msg Message) error
	// Consume starts a consumer. The channel is closed when ctx is done or
	// the broker is closed; unacknowledged deliveries are then requeued.
	Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error)
	Close() error
}

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker is closed")

// Open connects to the broker at url. MemoryURL returns a fresh in-process
// broker.
func Open(url string) (Broker, error) {
	if url == "" {
		return nil, errors.New("broker url is empty")
	}
	if strings.HasPrefix(url, MemoryURL) {
		return NewMemory(), nil
	}
	return DialAMQP(url)
}
