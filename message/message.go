// Package message defines the values exchanged between the call facade,
// the middleware chain and the transport.
//
// A Request is the ephemeral "call this function with these arguments" record,
// created the moment a function is invoked on a runner and consumed by one
// transport round trip. A Response is its settled outcome: exactly one of
// Result or Err is meaningful.
package message

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Kind selects the wire convention used for a request.
type Kind uint8

const (
	KindInvoke Kind = iota // ?function=...&parameters=...
	KindBinary             // ?img=...
)

func (k Kind) String() string {
	if k == KindBinary {
		return "binary"
	}
	return "invoke"
}

// Request carries one remote call.
//
//   - KindInvoke: Function is the remote function name, Args its positional arguments.
//   - KindBinary: Function holds the resource identifier, Args is unused.
type Request struct {
	ID       string
	Kind     Kind
	Function string
	Args     []any
}

// NewRequest builds an invoke request with a fresh ID. Nil args become an empty list.
func NewRequest(function string, args []any) *Request {
	if args == nil {
		args = []any{}
	}
	return &Request{
		ID:       uuid.NewString(),
		Kind:     KindInvoke,
		Function: function,
		Args:     args,
	}
}

// NewBinaryRequest builds a binary fetch request for resourceID.
func NewBinaryRequest(resourceID string) *Request {
	return &Request{
		ID:       uuid.NewString(),
		Kind:     KindBinary,
		Function: resourceID,
	}
}

// Response is the settled outcome of a Request.
type Response struct {
	Result json.RawMessage
	Err    error
}

// Failed wraps err in a Response.
func Failed(err error) *Response {
	return &Response{Err: err}
}
