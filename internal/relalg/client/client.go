// Package client submits expressions to a manager and collects their
// results.
package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/expr"
	"github.com/ariyn/relalg/internal/relalg/plan"
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

const (
	DefaultURL = "ws://127.0.0.1:8080/task"

	writeWait = 10 * time.Second
)

type Client struct {
	// URL of the manager's task endpoint. Defaults to DefaultURL.
	URL string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
}

// New returns a client for the manager at url.
func New(url string) *Client {
	return &Client{URL: url}
}

// Computation is an expression sent to the manager. Its result arrives
// asynchronously.
type Computation struct {
	conn   *websocket.Conn
	result *plan.Future

	writeMu sync.Mutex
	closed  bool
}

// Compute sends n to the manager and returns without waiting for the
// result. ctx bounds the connection handshake only.
func (c *Client) Compute(ctx context.Context, n *expr.Node) (*Computation, error) {
	h, err := n.ToHolder()
	if err != nil {
		return nil, err
	}
	body, err := wire.Marshal(h)
	if err != nil {
		return nil, err
	}

	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, c.Header)
	if err != nil {
		return nil, relerr.Transport(err, "cannot connect to manager at %s", url)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		_ = conn.Close()
		return nil, relerr.Transport(err, "cannot send expression")
	}
	log.Verbosef(ctx, "sent expression %s to manager", n)

	comp := &Computation{conn: conn, result: plan.NewFuture()}
	go comp.receive()
	return comp, nil
}

func (c *Computation) receive() {
	defer c.conn.Close()
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			c.result.Fail(relerr.Transport(err, "connection closed before a result was received"))
		} else {
			c.result.Fail(relerr.Transport(err, "cannot receive result"))
		}
		return
	}

	var res wire.ResultHolder
	if err := wire.Unmarshal(data, &res); err != nil {
		c.result.Fail(err)
		return
	}
	t, err := res.Outcome()
	if err != nil {
		c.result.Fail(err)
	} else {
		c.result.Complete(t)
	}

	// The manager closes after sending the result; answer it.
	c.close(websocket.CloseNormalClosure, "received result")
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Get waits for the result. The error is the remote problem rebuilt from
// its wire form, a cancellation, or a transport failure.
func (c *Computation) Get(ctx context.Context) (*types.Table, error) {
	return c.result.Await(ctx)
}

// Done is closed once the outcome is known.
func (c *Computation) Done() <-chan struct{} { return c.result.Done() }

// Cancel abandons the computation. The manager cancels every task still
// pending; Get returns a cancellation error unless the result had already
// arrived.
func (c *Computation) Cancel() {
	if c.result.Cancel() {
		c.close(websocket.CloseGoingAway, "computation was cancelled")
	}
}

func (c *Computation) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
