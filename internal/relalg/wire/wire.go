// Package wire holds the JSON messages exchanged between client, manager
// and workers.
package wire

import (
	"encoding/json"

	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

// ExpressionHolder is what a client sends to the manager: the deduplicated
// argument list and the root node referring into it by index.
type ExpressionHolder struct {
	ArgsList []Table        `json:"argsList"`
	RootExpr *ExpressionNode `json:"rootExpr"`
}

// ExpressionNode is one operator application. Each side carries exactly one
// of a nested expression or an argument-list index.
type ExpressionNode struct {
	Operation       types.Operation `json:"operation"`
	LeftExpr        *ExpressionNode `json:"leftExpr,omitempty"`
	RightExpr       *ExpressionNode `json:"rightExpr,omitempty"`
	LeftTableIndex  *int            `json:"leftTableIndex,omitempty"`
	RightTableIndex *int            `json:"rightTableIndex,omitempty"`
}

// TaskRequest is the body of a message on the task queue.
type TaskRequest struct {
	Operation types.Operation `json:"operation"`
	Arg1      *Table          `json:"arg1"`
	Arg2      *Table          `json:"arg2"`
}

// ResultHolder is a terminal outcome: exactly one of Result and Problem is set.
type ResultHolder struct {
	Result  *Table           `json:"result,omitempty"`
	Problem *SerializedError `json:"problem,omitempty"`
}

// Success wraps a result table.
func Success(t *types.Table) ResultHolder {
	return ResultHolder{Result: &Table{Table: t}}
}

// Failure wraps an error.
func Failure(err error) ResultHolder {
	return ResultHolder{Problem: EncodeError(err)}
}

// Outcome returns the table or the rebuilt error carried by h.
func (h ResultHolder) Outcome() (*types.Table, error) {
	switch {
	case h.Problem != nil:
		return nil, DecodeError(h.Problem)
	case h.Result != nil && h.Result.Table != nil:
		return h.Result.Table, nil
	}
	return nil, relerr.Deserialization(nil, "result holder carries neither result nor problem")
}

// Marshal encodes v as JSON. Failures are reported as DeserializationError.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		if relerr.Is(err, relerr.KindDeserialization) {
			return nil, err
		}
		return nil, relerr.Deserialization(err, "cannot serialize message")
	}
	return b, nil
}

// Unmarshal decodes JSON into v. Failures are reported as
// DeserializationError.
func Unmarshal(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		if relerr.Is(err, relerr.KindDeserialization) {
			return err
		}
		return relerr.Deserialization(err, "cannot parse message")
	}
	return nil
}
