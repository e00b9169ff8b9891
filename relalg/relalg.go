// Package relalg 는 분산 관계대수 엔진의 공개 API 이다.
//
// 표현식은 테이블과 부분 표현식을 섞어 조합한다:
//
//	e := relalg.Union(relalg.Intersect(a, b), c)
//
// 계산은 원격 매니저(Client) 또는 프로세스 내부 클러스터(Local)에서 수행한다.
package relalg

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/client"
	"github.com/ariyn/relalg/internal/relalg/dispatch"
	"github.com/ariyn/relalg/internal/relalg/expr"
	"github.com/ariyn/relalg/internal/relalg/plan"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/worker"
)

type (
	Table       = types.Table
	Row         = types.Row
	Column      = types.Column
	Domain      = types.Domain
	Char        = types.Char
	Builder     = types.Builder
	Expr        = expr.Node
	Client      = client.Client
	Computation = client.Computation
)

const (
	Int      = types.DomainInt
	Long     = types.DomainLong
	Double   = types.DomainDouble
	String   = types.DomainString
	DateTime = types.DomainDateTime
	Bool     = types.DomainBool
	CharType = types.DomainChar
)

// NewTable 는 이름이 name 인 테이블 빌더를 반환한다.
func NewTable(name string) *Builder { return types.NewBuilder(name) }

func Intersect[L, R expr.Operand](l L, r R) *Expr  { return expr.Intersect(l, r) }
func Union[L, R expr.Operand](l L, r R) *Expr      { return expr.Union(l, r) }
func Difference[L, R expr.Operand](l L, r R) *Expr { return expr.Difference(l, r) }
func Product[L, R expr.Operand](l L, r R) *Expr    { return expr.Product(l, r) }

// FormatValue 는 테이블 값을 출력용 문자열로 바꾼다.
func FormatValue(v any) string { return types.FormatValue(v) }

// Connect 는 url 의 매니저에 표현식을 보내는 클라이언트를 반환한다.
func Connect(url string) *Client { return client.New(url) }

// Local 은 메모리 브로커, 디스패처, 워커를 한 프로세스에서 실행한다.
type Local struct {
	broker     *broker.Memory
	dispatcher *dispatch.Dispatcher
	cancel     context.CancelFunc
	workers    *errgroup.Group
}

// StartLocal 은 workers 개의 워커로 프로세스 내부 클러스터를 시작한다.
func StartLocal(workers int) (*Local, error) {
	if workers <= 0 {
		workers = 1
	}
	b := broker.NewMemory()
	d, err := dispatch.Open(context.Background(), b, dispatch.Config{}, nil)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		w := worker.New(b, worker.Config{ID: i}, nil)
		g.Go(func() error { return w.Run(gctx) })
	}
	return &Local{broker: b, dispatcher: d, cancel: cancel, workers: g}, nil
}

// Compute 는 e 를 계산하고 결과를 기다린다. ctx 가 끝나면 계산을 취소한다.
func (l *Local) Compute(ctx context.Context, e *Expr) (*Table, error) {
	g, err := plan.Compile(e)
	if err != nil {
		return nil, err
	}
	if err := l.dispatcher.Submit(ctx, g); err != nil {
		return nil, err
	}
	return g.RootFuture().Await(ctx)
}

// Close 는 디스패처와 워커를 멈춘다.
func (l *Local) Close() error {
	err := l.dispatcher.Close()
	l.cancel()
	_ = l.workers.Wait()
	if cerr := l.broker.Close(); err == nil {
		err = cerr
	}
	return err
}
