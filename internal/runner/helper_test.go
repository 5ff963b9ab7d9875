package runner

import (
	"context"

	"seabench/benchmark-engine/internal/cluster"
)

// fakeTransport records every request and answers from a scripted handler
// or a queue of canned responses.
type fakeTransport struct {
	requests []*cluster.Request
	handler  func(r *cluster.Request) (*cluster.Response, error)

	responses []*cluster.Response
	errs      []error
}

func (f *fakeTransport) Do(_ context.Context, r *cluster.Request) (*cluster.Response, error) {
	f.requests = append(f.requests, r)
	if f.handler != nil {
		return f.handler(r)
	}

	call := len(f.requests) - 1
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if call < len(f.responses) {
		return f.responses[call], nil
	}
	return okResponse(`{}`), nil
}

func okResponse(body string) *cluster.Response {
	return &cluster.Response{StatusCode: 200, Body: []byte(body)}
}

func errorResponse(status int, body string) *cluster.Response {
	return &cluster.Response{StatusCode: status, Body: []byte(body)}
}
