// Package timing captures the timing boundaries of a single request. The
// worker marks the outer client-level span around a runner invocation; the
// transport marks the inner request-level span around the actual HTTP
// exchange. Both sides find the same RequestContext through the
// context.Context of the invocation, associated by a correlation id rather
// than call-stack position, so a runner that issues several HTTP requests
// (bulk with retries, scroll pagination) still produces one well-formed
// sample.
package timing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestContext collects the timing marks of one request. Safe for
// concurrent use; transport callbacks may run on a different goroutine than
// the worker.
type RequestContext struct {
	mu sync.Mutex

	id string

	clientRequestStart time.Time
	clientRequestEnd   time.Time
	requestStart       time.Time
	requestEnds        []time.Time
}

// NewRequestContext creates a request context with a fresh correlation id.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		id: uuid.New().String(),
	}
}

// ID returns the correlation id.
func (rc *RequestContext) ID() string { return rc.id }

// OnClientRequestStart marks the outer span's start. First mark wins.
func (rc *RequestContext) OnClientRequestStart(now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.clientRequestStart.IsZero() {
		rc.clientRequestStart = now
	}
}

// OnClientRequestEnd marks the outer span's end. Last mark wins.
func (rc *RequestContext) OnClientRequestEnd(now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.clientRequestEnd = now
}

// OnRequestStart marks the inner span's start. Recorded only once the
// outer span has started, and only the first mark wins, so the first HTTP
// request of a multi-request operation defines the service-time start.
func (rc *RequestContext) OnRequestStart(now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.requestStart.IsZero() && !rc.clientRequestStart.IsZero() {
		rc.requestStart = now
	}
}

// OnRequestEnd records one inner span end. All marks are kept; the
// effective end is resolved by Boundaries.
func (rc *RequestContext) OnRequestEnd(now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.requestEnds = append(rc.requestEnds, now)
}

// Boundaries are the effective timing boundaries of one request.
type Boundaries struct {
	// ClientRequestStart and ClientRequestEnd span the whole runner
	// invocation as the worker observed it.
	ClientRequestStart time.Time
	ClientRequestEnd   time.Time
	// RequestStart and RequestEnd span the wire exchange. The effective
	// end is the greatest recorded end that does not exceed the outer end.
	RequestStart time.Time
	RequestEnd   time.Time
}

// ServiceTime returns the wire-level span.
func (b Boundaries) ServiceTime() time.Duration {
	return b.RequestEnd.Sub(b.RequestStart)
}

// ClientSpan returns the client-observed span including local processing.
func (b Boundaries) ClientSpan() time.Duration {
	return b.ClientRequestEnd.Sub(b.ClientRequestStart)
}

// Boundaries resolves the effective boundaries, synthesizing any missing
// mark from the nearest outer one. The second return is true when a mark
// had to be synthesized and the sample should be flagged approximate.
func (rc *RequestContext) Boundaries() (Boundaries, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	approximate := false
	b := Boundaries{
		ClientRequestStart: rc.clientRequestStart,
		ClientRequestEnd:   rc.clientRequestEnd,
		RequestStart:       rc.requestStart,
	}

	if b.ClientRequestStart.IsZero() {
		b.ClientRequestStart = rc.requestStart
		approximate = true
	}
	if b.ClientRequestEnd.IsZero() {
		b.ClientRequestEnd = latest(rc.requestEnds)
		approximate = true
	}
	if b.RequestStart.IsZero() {
		b.RequestStart = b.ClientRequestStart
		approximate = true
	}

	b.RequestEnd = effectiveEnd(rc.requestEnds, rc.clientRequestEnd)
	if b.RequestEnd.IsZero() {
		b.RequestEnd = b.ClientRequestEnd
		approximate = true
	}

	return b, approximate
}

// effectiveEnd returns the greatest recorded end not after the outer end.
// Ends marked after the outer end belong to trailing transport work (e.g.
// a drained keep-alive response) and do not extend the measured span. With
// no outer end every recorded end qualifies.
func effectiveEnd(ends []time.Time, clientEnd time.Time) time.Time {
	var best time.Time
	for _, end := range ends {
		if !clientEnd.IsZero() && end.After(clientEnd) {
			continue
		}
		if end.After(best) {
			best = end
		}
	}
	if best.IsZero() {
		// All ends were past the outer end; take the greatest anyway
		// rather than dropping the span.
		return latest(ends)
	}
	return best
}

func latest(ts []time.Time) time.Time {
	var best time.Time
	for _, t := range ts {
		if t.After(best) {
			best = t
		}
	}
	return best
}

type contextKey struct{}

// WithContext returns a context carrying the request context.
func WithContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the request context carried by ctx, or nil.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}

// MarkRequestStart marks the inner start on the request context in ctx, if
// one is present. Transports call this unconditionally.
func MarkRequestStart(ctx context.Context, now time.Time) {
	if rc := FromContext(ctx); rc != nil {
		rc.OnRequestStart(now)
	}
}

// MarkRequestEnd marks one inner end on the request context in ctx, if one
// is present.
func MarkRequestEnd(ctx context.Context, now time.Time) {
	if rc := FromContext(ctx); rc != nil {
		rc.OnRequestEnd(now)
	}
}
