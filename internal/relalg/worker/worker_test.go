package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/metrics"
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

func mailTable(name string, from, to int) *types.Table {
	b := types.NewBuilder(name).Column("id", types.DomainInt).Column("email", types.DomainString)
	for i := from; i <= to; i++ {
		b.Insert(i, fmt.Sprintf("%d@mail", i))
	}
	return b.MustBuild()
}

func request(t *testing.T, o types.Operation, a, b *types.Table) []byte {
	t.Helper()
	req := wire.TaskRequest{Operation: o}
	if a != nil {
		req.Arg1 = &wire.Table{Table: a}
	}
	if b != nil {
		req.Arg2 = &wire.Table{Table: b}
	}
	body, err := wire.Marshal(req)
	require.NoError(t, err)
	return body
}

func outcome(t *testing.T, body []byte) (*types.Table, error) {
	t.Helper()
	var res wire.ResultHolder
	require.NoError(t, wire.Unmarshal(body, &res))
	return res.Outcome()
}

func TestProcessMessage_Success(t *testing.T) {
	got, err := outcome(t, ProcessMessage(request(t, types.OpIntersect, mailTable("A", 1, 100), mailTable("B", 30, 150))))
	require.NoError(t, err)
	assert.Equal(t, "(A & B)", got.Name())
	assert.Equal(t, 71, got.NumRows())
}

func TestProcessMessage_Failures(t *testing.T) {
	a := mailTable("A", 1, 2)
	narrow := types.NewBuilder("N").Column("id", types.DomainInt).MustBuild()

	cases := []struct {
		name string
		body []byte
		kind relerr.Kind
		msg  string
	}{
		{"garbage", []byte("{not json"), relerr.KindDeserialization, "cannot parse message"},
		{"unknown op", []byte(`{"operation":"JOIN","arg1":null,"arg2":null}`), relerr.KindDeserialization, "cannot parse message"},
		{"none op", request(t, types.OpNone, a, a), relerr.KindValidation, "unsupported operation NONE"},
		{"missing arg", request(t, types.OpUnion, a, nil), relerr.KindValidation, "operation UNION requires two arguments"},
		{"schema", request(t, types.OpUnion, a, narrow), relerr.KindValidation, "Tables 'A' and 'N' must have the same number of columns"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := outcome(t, ProcessMessage(tc.body))
			require.Error(t, err)
			assert.True(t, relerr.Is(err, tc.kind), "%v", err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestWorker_RepliesAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := broker.NewMemory()
	defer b.Close()
	m := metrics.New()

	w := New(b, Config{TaskQueue: "tasks", ID: 1}, m)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, b.DeclareQueue(ctx, "tasks"))
	replyTo, err := b.DeclareReplyQueue(ctx)
	require.NoError(t, err)
	replies, err := b.Consume(ctx, replyTo, broker.ConsumeOptions{AutoAck: true})
	require.NoError(t, err)

	body := request(t, types.OpProduct, mailTable("A", 1, 10), mailTable("B", 1, 13))
	require.NoError(t, b.Publish(ctx, "tasks", broker.Message{Body: body, CorrelationID: "c-1", ReplyTo: replyTo}))

	select {
	case d := <-replies:
		assert.Equal(t, "c-1", d.CorrelationID)
		got, err := outcome(t, d.Body)
		require.NoError(t, err)
		assert.Equal(t, 130, got.NumRows())
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.WorkerMessages.WithLabelValues("processed")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.Ready("tasks"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_BrokerClosed(t *testing.T) {
	b := broker.NewMemory()
	w := New(b, Config{}, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool { return b.QueueExists("task_queue") }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())
	select {
	case err := <-done:
		assert.True(t, relerr.Is(err, relerr.KindTransport), "%v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
