package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

func allDomains(t *testing.T) *types.Table {
	t.Helper()
	return types.NewBuilder("all").
		Column("i", types.DomainInt).
		Column("l", types.DomainLong).
		Column("d", types.DomainDouble).
		Column("s", types.DomainString).
		Column("dt", types.DomainDateTime).
		Column("b", types.DomainBool).
		Column("c", types.DomainChar).
		Insert(7, int64(1)<<40, 2.25, "héllo", time.Date(1999, 12, 31, 23, 59, 58, 0, time.UTC), false, "ж").
		MustBuild()
}

func TestTable_JSONShape(t *testing.T) {
	b, err := Marshal(Table{Table: allDomains(t)})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "all",
		"columns": [
			{"name": "i", "domain": "Int"},
			{"name": "l", "domain": "Long"},
			{"name": "d", "domain": "Double"},
			{"name": "s", "domain": "String"},
			{"name": "dt", "domain": "DateTime"},
			{"name": "b", "domain": "Bool"},
			{"name": "c", "domain": "Char"}
		],
		"rows": [[7, 1099511627776, 2.25, "héllo", "1999-12-31 23:59:58", false, "ж"]]
	}`, string(b))
}

func TestTable_RoundTrip(t *testing.T) {
	want := allDomains(t)
	b, err := Marshal(Table{Table: want})
	require.NoError(t, err)

	var got Table
	require.NoError(t, Unmarshal(b, &got))
	assert.True(t, want.Equal(got.Table), "got %v", got.Rows())
}

func TestTable_EmptyRows(t *testing.T) {
	empty := types.NewBuilder("e").Column("id", types.DomainInt).MustBuild()
	b, err := Marshal(Table{Table: empty})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"e","columns":[{"name":"id","domain":"Int"}],"rows":[]}`, string(b))
}

func TestTable_DecodeErrors(t *testing.T) {
	cases := map[string]string{
		"arity":      `{"name":"t","columns":[{"name":"a","domain":"Int"}],"rows":[[1,2]]}`,
		"int type":   `{"name":"t","columns":[{"name":"a","domain":"Int"}],"rows":[["x"]]}`,
		"int range":  `{"name":"t","columns":[{"name":"a","domain":"Int"}],"rows":[[3000000000]]}`,
		"datetime":   `{"name":"t","columns":[{"name":"a","domain":"DateTime"}],"rows":[["2020-01-01T00:00:00Z"]]}`,
		"char":       `{"name":"t","columns":[{"name":"a","domain":"Char"}],"rows":[["ab"]]}`,
		"domain":     `{"name":"t","columns":[{"name":"a","domain":"Decimal"}],"rows":[]}`,
		"row object": `{"name":"t","columns":[{"name":"a","domain":"Int"}],"rows":[{"a":1}]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var got Table
			err := Unmarshal([]byte(in), &got)
			require.Error(t, err)
			assert.True(t, relerr.Is(err, relerr.KindDeserialization), "%v", err)
		})
	}
}

func TestTaskRequest_NullArguments(t *testing.T) {
	var req TaskRequest
	require.NoError(t, Unmarshal([]byte(`{"operation":"UNION","arg1":null,"arg2":null}`), &req))
	assert.Equal(t, types.OpUnion, req.Operation)
	assert.Nil(t, req.Arg1)
	assert.Nil(t, req.Arg2)
}

func TestExpressionHolder_OmitsEmptySides(t *testing.T) {
	zero, one := 0, 1
	h := ExpressionHolder{
		ArgsList: []Table{{Table: allDomains(t)}},
		RootExpr: &ExpressionNode{Operation: types.OpUnion, LeftTableIndex: &zero, RightTableIndex: &one},
	}
	b, err := Marshal(h)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.JSONEq(t, `{"operation":"UNION","leftTableIndex":0,"rightTableIndex":1}`, string(raw["rootExpr"]))
}

func TestError_ChainRoundTrip(t *testing.T) {
	root := relerr.Validationf("Tables 'A' and 'B' must have the same number of columns")
	err := relerr.Computation(root)

	se := EncodeError(err)
	require.NotNil(t, se)
	assert.Equal(t, string(relerr.KindComputation), se.Class)
	require.NotNil(t, se.Cause)
	assert.Equal(t, string(relerr.KindValidation), se.Cause.Class)

	b, err2 := Marshal(se)
	require.NoError(t, err2)
	var back SerializedError
	require.NoError(t, Unmarshal(b, &back))

	got := DecodeError(&back)
	assert.True(t, relerr.Is(got, relerr.KindComputation))
	assert.Equal(t, err.Error(), got.Error())
	var inner *relerr.Error
	require.True(t, errors.As(errors.Unwrap(got), &inner))
	assert.Equal(t, relerr.KindValidation, inner.Kind())
}

func TestError_ForeignCause(t *testing.T) {
	err := relerr.Transport(fmt.Errorf("dial tcp: refused"), "cannot publish task")
	se := EncodeError(err)
	require.NotNil(t, se.Cause)
	assert.NotEmpty(t, se.Cause.Class)

	got := DecodeError(se)
	assert.True(t, relerr.Is(got, relerr.KindTransport))
	assert.Equal(t, "cannot publish task: dial tcp: refused", got.Error())
}

func TestError_WrappedKeepsCauseChain(t *testing.T) {
	err := errors.Wrap(relerr.Transport(errors.New("broker is closed"), "dispatcher is closed"), "unknown error during computation")
	se := EncodeError(err)
	require.NotNil(t, se)
	assert.Equal(t, string(relerr.KindTransport), se.Class)
	require.NotNil(t, se.Message)
	assert.Equal(t, "unknown error during computation", *se.Message)
	require.NotNil(t, se.Cause)
	assert.Equal(t, "dispatcher is closed", *se.Cause.Message)
	require.NotNil(t, se.Cause.Cause)

	got := DecodeError(se)
	assert.True(t, relerr.Is(got, relerr.KindTransport))
	assert.Equal(t, err.Error(), got.Error())
	var inner *relerr.Error
	require.True(t, errors.As(errors.Unwrap(got), &inner))
	assert.Equal(t, "dispatcher is closed", inner.Message())
}

func TestError_UnknownClassBecomesRemote(t *testing.T) {
	msg := "boom"
	got := DecodeError(&SerializedError{Class: "java.lang.IllegalStateException", Message: &msg})
	require.Error(t, got)
	assert.True(t, relerr.Is(got, relerr.KindRemote))
	var e *relerr.Error
	require.True(t, errors.As(got, &e))
	assert.Equal(t, "java.lang.IllegalStateException", e.Class())
	assert.Equal(t, "boom", got.Error())
}

func TestError_Cancellation(t *testing.T) {
	assert.True(t, relerr.IsCancellation(context.Canceled))
	se := EncodeError(relerr.Cancelled)
	assert.True(t, relerr.IsCancellation(DecodeError(se)))
}

func TestResultHolder_Outcome(t *testing.T) {
	tbl := allDomains(t)
	got, err := Success(tbl).Outcome()
	require.NoError(t, err)
	assert.Same(t, tbl, got)

	_, err = Failure(relerr.Validationf("bad")).Outcome()
	require.Error(t, err)
	assert.True(t, relerr.Is(err, relerr.KindValidation))

	_, err = ResultHolder{}.Outcome()
	assert.True(t, relerr.Is(err, relerr.KindDeserialization))
}
