// Package transport sends merged sync documents to the remote GraphQL
// endpoint and classifies the raw outcome.
package transport

import (
	"context"
	"fmt"
)

// Call is one outbound request: the merged document, its variables, the
// fragment sources it references and an optional opaque credential.
type Call struct {
	Query      string
	Variables  map[string]any
	Fragments  []string
	Credential string
}

// Response is the closed set of transport outcomes: *ConnectionFailure,
// *ApplicationError or *Success.
type Response interface {
	response()
}

// ConnectionFailure means the request never produced an HTTP response
// (DNS, dial, TLS, timeout, cancelled context).
type ConnectionFailure struct {
	Reason error
}

// ApplicationError is a non-2xx HTTP response.
type ApplicationError struct {
	StatusCode int
	Reason     string
}

// Success carries the body of a 2xx response, not yet decoded.
type Success struct {
	Body []byte
}

func (*ConnectionFailure) response() {}
func (*ApplicationError) response()  {}
func (*Success) response()           {}

// Transport delivers a Call. Implementations never return a nil Response.
type Transport interface {
	Send(ctx context.Context, call Call) Response
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, call Call) Response

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, call Call) Response {
	return f(ctx, call)
}

// ConnectionError is returned by Batch.Execute for a ConnectionFailure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failure: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StatusError is returned by Batch.Execute for an ApplicationError.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("application error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("application error: HTTP %d: %s", e.StatusCode, e.Reason)
}
