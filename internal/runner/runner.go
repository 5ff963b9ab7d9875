// Package runner implements the operations a task can execute against the
// target cluster. Each operation type maps to one Runner; workers look the
// runner up by type and invoke it once per scheduled iteration with the
// parameters produced by the task's parameter source.
package runner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/types"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Transport is the slice of the cluster client the runners need. It is
// satisfied by *cluster.Client.
type Transport interface {
	Do(ctx context.Context, r *cluster.Request) (*cluster.Response, error)
}

// Runner executes one operation type.
type Runner interface {
	// Name identifies the runner in logs and error messages.
	Name() string
	// Invoke runs the operation once. A nil result with a nil error counts
	// as one successful operation.
	Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error)
}

// Result describes one completed operation. Weight is the operation's
// contribution to throughput, e.g. the number of documents of a bulk
// request; the unit should be the plural form ("ops", "docs", "pages").
type Result struct {
	Weight  float64
	Unit    string
	Success bool

	// ErrorType and ErrorDescription classify an unsuccessful operation
	// that still produced a result, e.g. a bulk request with item errors.
	ErrorType        string
	ErrorDescription string

	// Meta is carried into the sample's metadata.
	Meta map[string]any
}

// SuccessResult returns the default result for operations that report
// nothing beyond their completion.
func SuccessResult() *Result {
	return &Result{Weight: 1, Unit: "ops", Success: true}
}

// CompletionAware runners track their own progress independently of the
// schedule, e.g. operations polled until the cluster reports completion.
// The registry preserves this capability through its wrappers.
type CompletionAware interface {
	Completed() bool
	PercentCompleted() float64
}

// HTTPError is returned when the cluster answers an operation with an
// error status. The worker converts it into a failed sample or a task
// abort depending on the task's error policy.
type HTTPError struct {
	StatusCode  int
	Description string
}

func (e *HTTPError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("HTTP status: %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP status: %d, message: %s", e.StatusCode, e.Description)
}

const maxErrorBodyLength = 512

// newHTTPError extracts a readable description from an error response,
// preferring the error.reason field of the usual error body.
func newHTTPError(rsp *cluster.Response) *HTTPError {
	description := ""
	if doc, err := oj.Parse(rsp.Body); err == nil {
		if reason := firstString(doc, "error.reason"); reason != "" {
			description = reason
		} else if reason := firstString(doc, "error"); reason != "" {
			description = reason
		}
	}
	if description == "" && len(rsp.Body) > 0 {
		description = string(rsp.Body)
		if len(description) > maxErrorBodyLength {
			description = description[:maxErrorBodyLength]
		}
	}
	return &HTTPError{StatusCode: rsp.StatusCode, Description: description}
}

func firstString(doc any, path string) string {
	parsed, err := jp.ParseString(path)
	if err != nil {
		return ""
	}
	if s, ok := parsed.First(doc).(string); ok {
		return s
	}
	return ""
}

// Mandatory returns the named parameter or a data error telling the user
// which parameter their source failed to provide.
func Mandatory(params map[string]any, key string, op string) (any, error) {
	value, ok := params[key]
	if !ok {
		return nil, types.NewDataError(
			"Parameter source for operation '%s' did not provide the mandatory parameter '%s'. "+
				"Add it to your parameter source and try again.", op, key)
	}
	return value, nil
}

// MandatoryString is Mandatory plus a string coercion.
func MandatoryString(params map[string]any, key string, op string) (string, error) {
	value, err := Mandatory(params, key, op)
	if err != nil {
		return "", err
	}
	s, ok := asString(value)
	if !ok {
		return "", types.NewDataError("parameter '%s' of operation '%s' must be a string, got %T", key, op, value)
	}
	return s, nil
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func stringParam(params map[string]any, key, fallback string) string {
	if s, ok := asString(params[key]); ok && s != "" {
		return s
	}
	return fallback
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return fallback
}

// escapeParamValue renders a parameter value for the query string the way
// users expect: booleans lowercase, numbers without an exponent.
func escapeParamValue(v any) (string, bool) {
	switch value := v.(type) {
	case nil:
		return "", false
	case string:
		return value, true
	case bool:
		return strconv.FormatBool(value), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), true
	default:
		if n, ok := asInt(v); ok {
			return strconv.FormatInt(n, 10), true
		}
		return fmt.Sprintf("%v", v), true
	}
}

// requestParams extracts the request-params map as query parameters.
func requestParams(params map[string]any) map[string]string {
	return stringMap(params["request-params"])
}

// headerParams extracts the headers map.
func headerParams(params map[string]any) map[string]string {
	return stringMap(params["headers"])
}

func stringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, value := range raw {
		if s, keep := escapeParamValue(value); keep {
			out[k] = s
		}
	}
	return out
}

// durationParam reads a duration given either in seconds or as a duration
// string like "500ms".
func durationParam(params map[string]any, key string, fallback time.Duration) (time.Duration, error) {
	value, ok := params[key]
	if !ok || value == nil {
		return fallback, nil
	}
	if secs, isNum := asFloat(value); isNum {
		if secs < 0 {
			return 0, types.NewDataError("parameter '%s' must not be negative, got %v", key, value)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	if s, isStr := asString(value); isStr {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, types.NewDataError("parameter '%s' is not a valid duration: %v", key, err)
		}
		return parsed, nil
	}
	return 0, types.NewDataError("parameter '%s' must be a number of seconds or a duration string, got %T", key, value)
}

// applyRequestTimeout derives a per-operation deadline from the
// request-timeout parameter. The returned cancel func must always be
// called.
func applyRequestTimeout(ctx context.Context, params map[string]any) (context.Context, context.CancelFunc, error) {
	timeout, err := durationParam(params, "request-timeout", 0)
	if err != nil {
		return ctx, nil, err
	}
	if timeout <= 0 {
		return ctx, func() {}, nil
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx, cancel, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// marshalBody renders a request body parameter. Strings and byte slices
// pass through; anything else is encoded as JSON.
func marshalBody(v any) ([]byte, error) {
	switch body := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(body), nil
	case []byte:
		return body, nil
	default:
		data, err := oj.Marshal(v)
		if err != nil {
			return nil, types.NewDataError("failed to encode request body: %v", err)
		}
		return data, nil
	}
}
