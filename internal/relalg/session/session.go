// Package session serves client sessions over WebSocket.
//
// A session is one connection carrying one expression. The client sends an
// ExpressionHolder; the server answers with exactly one ResultHolder and
// closes the connection:
//
//	success                     {result}   close 1000
//	failed task                 {problem}  close 1000
//	unreadable expression       {problem}  close 1007
//	any other failure           {problem}  close 1011
//	client closed first         nothing
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/expr"
	"github.com/ariyn/relalg/internal/relalg/journal"
	"github.com/ariyn/relalg/internal/relalg/metrics"
	"github.com/ariyn/relalg/internal/relalg/plan"
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

const (
	maxMessageSize = 64 << 20
	writeWait      = 10 * time.Second
	closeGrace     = time.Second
)

// Submitter starts a compiled graph. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, g *plan.Graph) error
}

// Recorder stores session outcomes. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Coordinator is an http.Handler running one session per connection.
type Coordinator struct {
	submitter Submitter
	recorder  Recorder
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a coordinator. recorder and m may be nil.
func New(s Submitter, recorder Recorder, m *metrics.Metrics) *Coordinator {
	if m == nil {
		m = metrics.New()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		submitter: s,
		recorder:  recorder,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		base:   base,
		cancel: cancel,
	}
}

// Close cancels every running session and waits for them to finish.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

type session struct {
	id      string
	conn    *websocket.Conn
	started time.Time
	entry   journal.Entry
}

func (c *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.base.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	c.wg.Add(1)
	defer c.wg.Done()
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		log.Warningf(r.Context(), "websocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(c.base)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	s := &session{id: uuid.NewString(), conn: conn, started: time.Now()}
	s.entry = journal.Entry{SessionID: s.id, StartedAt: s.started}
	ctx = log.WithTag(ctx, "session", s.id[:8])
	defer conn.Close()

	outcome := c.serve(ctx, s)
	c.metrics.Sessions.WithLabelValues(string(outcome)).Inc()
	c.record(ctx, s, outcome)
}

func (c *Coordinator) serve(ctx context.Context, s *session) journal.Outcome {
	s.conn.SetReadLimit(maxMessageSize)
	// Unblock the first read when the session is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.SetReadDeadline(time.Now()) })
	_, data, err := s.conn.ReadMessage()
	stop()
	if err != nil {
		if ctx.Err() != nil {
			log.Infof(ctx, "session cancelled before an expression was received")
			c.finish(ctx, s, nil, wire.ResultHolder{}, websocket.CloseGoingAway, "server shutting down")
			return journal.OutcomeCancelled
		}
		log.Warningf(ctx, "cannot receive expression: %v", err)
		return journal.OutcomeCancelled
	}
	s.entry.Payload = data
	log.Infof(ctx, "received new expression")

	g, err := compile(data, &s.entry)
	if err != nil {
		log.Errorf(ctx, "cannot resolve client message: %v", err)
		s.entry.Problem = err.Error()
		c.finish(ctx, s, nil, wire.Failure(err), websocket.CloseInvalidFramePayloadData, "cannot deserialize message")
		return journal.OutcomeInvalid
	}
	s.entry.Tasks = g.Len()

	if err := c.submitter.Submit(ctx, g); err != nil {
		err = errors.Wrap(err, "unknown error during computation")
		log.Errorf(ctx, "%v", err)
		s.entry.Problem = err.Error()
		c.finish(ctx, s, nil, wire.Failure(err), websocket.CloseInternalServerErr, "unknown error")
		return journal.OutcomeError
	}

	disconnected := make(chan struct{})
	go watchClose(ctx, s.conn, disconnected)

	root := g.RootFuture()
	select {
	case <-root.Done():
	case <-disconnected:
		if n := g.Cancel(); n > 0 {
			log.Infof(ctx, "client cancelled computation, %d tasks cancelled", n)
		}
	case <-ctx.Done():
		g.Cancel()
		c.finish(ctx, s, disconnected, wire.ResultHolder{}, websocket.CloseGoingAway, "server shutting down")
		return journal.OutcomeCancelled
	}

	res, err := root.Result()
	switch {
	case err == nil:
		s.entry.ResultName, s.entry.ResultRows = res.Name(), res.NumRows()
		c.finish(ctx, s, disconnected, wire.Success(res), websocket.CloseNormalClosure, "finished computation")
		log.Infof(ctx, "finished computation successfully")
		return journal.OutcomeSuccess
	case relerr.IsCancellation(err):
		log.Infof(ctx, "client cancelled computation")
		return journal.OutcomeCancelled
	case relerr.Is(err, relerr.KindComputation):
		s.entry.Problem = err.Error()
		c.finish(ctx, s, disconnected, wire.Failure(err), websocket.CloseNormalClosure, "cannot compute expression, check for errors in it")
		log.Errorf(ctx, "error during computation: %v", err)
		return journal.OutcomeFailure
	default:
		err = errors.Wrap(err, "unknown error during computation")
		s.entry.Problem = err.Error()
		c.finish(ctx, s, disconnected, wire.Failure(err), websocket.CloseInternalServerErr, "unknown error")
		log.Errorf(ctx, "%v", err)
		return journal.OutcomeError
	}
}

func compile(data []byte, e *journal.Entry) (*plan.Graph, error) {
	var h wire.ExpressionHolder
	if err := wire.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	n, err := expr.FromHolder(&h)
	if err != nil {
		return nil, err
	}
	e.Expression = n.String()
	return plan.Compile(n)
}

// finish sends res, unless it is empty, then closes the connection with
// code and waits briefly for the client's close frame. drained, if not nil,
// is closed by the goroutine already reading the connection.
func (c *Coordinator) finish(ctx context.Context, s *session, drained <-chan struct{}, res wire.ResultHolder, code int, reason string) {
	if res.Result != nil || res.Problem != nil {
		body, err := wire.Marshal(res)
		if err != nil {
			body, _ = wire.Marshal(wire.Failure(err))
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, body); err != nil {
			log.Errorf(ctx, "cannot send result, connection already closed: %v", err)
			return
		}
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		return
	}
	if drained != nil {
		select {
		case <-drained:
		case <-time.After(closeGrace):
		}
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(closeGrace))
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// watchClose drains frames until the connection fails or is closed by the
// client. The session expects no frames after the expression.
func watchClose(ctx context.Context, conn *websocket.Conn, disconnected chan<- struct{}) {
	defer close(disconnected)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		log.Warningf(ctx, "unexpected frame was received: %.64s", data)
	}
}

func (c *Coordinator) record(ctx context.Context, s *session, outcome journal.Outcome) {
	if c.recorder == nil {
		return
	}
	s.entry.Outcome = outcome
	s.entry.Duration = time.Since(s.started)
	if err := c.recorder.Record(context.WithoutCancel(ctx), s.entry); err != nil {
		log.Warningf(ctx, "cannot record session: %v", err)
	}
}
