package wire

import "github.com/ariyn/relalg/internal/relalg/relerr"

// maxCauseDepth bounds the cause chains accepted from and sent to peers.
const maxCauseDepth = 32

// SerializedError is the wire form of an error and its cause chain.
type SerializedError struct {
	Class   string           `json:"class"`
	Message *string          `json:"message,omitempty"`
	Cause   *SerializedError `json:"cause,omitempty"`
}

// EncodeError flattens err into its wire form. Returns nil for a nil error.
func EncodeError(err error) *SerializedError {
	return encodeError(err, 0)
}

func encodeError(err error, depth int) *SerializedError {
	if err == nil || depth >= maxCauseDepth {
		return nil
	}
	class, msg, cause := relerr.Parts(err)
	se := &SerializedError{Class: class}
	if msg != "" {
		se.Message = &msg
	}
	se.Cause = encodeError(cause, depth+1)
	return se
}

// DecodeError rebuilds an error from its wire form. Registered classes map
// back to their kind; other classes become RemoteError.
func DecodeError(se *SerializedError) error {
	return decodeError(se, 0)
}

func decodeError(se *SerializedError, depth int) error {
	if se == nil || depth >= maxCauseDepth {
		return nil
	}
	var msg string
	if se.Message != nil {
		msg = *se.Message
	}
	return relerr.Rebuild(se.Class, msg, decodeError(se.Cause, depth+1))
}
