// Package worker consumes task requests, runs the relational operator and
// replies on the request's reply queue.
package worker

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/metrics"
	"github.com/ariyn/relalg/internal/relalg/op"
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

// ProcessMessage turns a TaskRequest body into a ResultHolder body. Every
// failure, including an unreadable request, is reported in the result.
func ProcessMessage(body []byte) []byte {
	res := process(body)
	out, err := wire.Marshal(res)
	if err != nil {
		// The result table could not be encoded; report that instead.
		out, _ = wire.Marshal(wire.Failure(err))
	}
	return out
}

func process(body []byte) wire.ResultHolder {
	var req wire.TaskRequest
	if err := wire.Unmarshal(body, &req); err != nil {
		return wire.Failure(err)
	}
	if !req.Operation.Binary() {
		return wire.Failure(relerr.Validationf("unsupported operation %s", req.Operation))
	}
	if req.Arg1 == nil || req.Arg1.Table == nil || req.Arg2 == nil || req.Arg2.Table == nil {
		return wire.Failure(relerr.Validationf("operation %s requires two arguments", req.Operation))
	}
	t, err := op.Apply(req.Operation, req.Arg1.Table, req.Arg2.Table)
	if err != nil {
		return wire.Failure(err)
	}
	return wire.Success(t)
}

type Config struct {
	TaskQueue string
	// ID tags this worker's log lines.
	ID int
}

// Worker serves one request at a time from the task queue.
type Worker struct {
	b       broker.Broker
	cfg     Config
	metrics *metrics.Metrics
}

// New returns a worker. m may be nil.
func New(b broker.Broker, cfg Config, m *metrics.Metrics) *Worker {
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = "task_queue"
	}
	if m == nil {
		m = metrics.New()
	}
	return &Worker{b: b, cfg: cfg, metrics: m}
}

// Run consumes until ctx is done or the broker closes the consumer. A
// request is acknowledged only after its reply has been published, so a
// worker that dies mid-task leaves the request to another worker.
func (w *Worker) Run(ctx context.Context) error {
	ctx = log.WithTag(ctx, "worker", w.cfg.ID)
	if err := w.b.DeclareQueue(ctx, w.cfg.TaskQueue); err != nil {
		return relerr.Transport(err, "cannot declare task queue %s", w.cfg.TaskQueue)
	}
	deliveries, err := w.b.Consume(ctx, w.cfg.TaskQueue, broker.ConsumeOptions{Prefetch: 1})
	if err != nil {
		return relerr.Transport(err, "cannot consume task queue %s", w.cfg.TaskQueue)
	}
	log.Infof(ctx, "waiting for tasks on %s", w.cfg.TaskQueue)

	for d := range deliveries {
		if err := w.handle(ctx, d); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil
	}
	return relerr.Transport(broker.ErrClosed, "task consumer stopped")
}

func (w *Worker) handle(ctx context.Context, d broker.Delivery) error {
	if d.ReplyTo == "" {
		log.Warningf(ctx, "dropping task %q without reply queue", d.CorrelationID)
		w.metrics.WorkerMessages.WithLabelValues("dropped").Inc()
		return errors.Wrap(d.Ack(), "ack dropped task")
	}

	reply := ProcessMessage(d.Body)
	err := w.b.Publish(ctx, d.ReplyTo, broker.Message{Body: reply, CorrelationID: d.CorrelationID})
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the request for another worker.
			_ = d.Nack(true)
			return nil
		}
		_ = d.Nack(true)
		return relerr.Transport(err, "cannot publish reply for %s", d.CorrelationID)
	}
	if err := d.Ack(); err != nil {
		return relerr.Transport(err, "cannot ack task %s", d.CorrelationID)
	}
	w.metrics.WorkerMessages.WithLabelValues("processed").Inc()
	log.Verbosef(ctx, "replied to %s", d.CorrelationID)
	return nil
}
