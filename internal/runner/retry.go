package runner

import (
	"context"
	"errors"
	"math"
	"time"

	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

const defaultRetryWait = 500 * time.Millisecond

// retryingRunner retries its delegate on transient failures. Behavior is
// driven by the operation's parameters:
//
//   - retries (default 0): additional attempts after the first
//   - retry-until-success (default false): retry until the delegate
//     reports success, implies retry-on-error
//   - retry-wait-period (default 0.5s): pause between attempts
//   - retry-on-timeout (default true): retry connection failures and
//     request timeouts
//   - retry-on-error (default false): retry results with success == false
type retryingRunner struct {
	delegate          Runner
	retryUntilSuccess bool
}

// Retry wraps a runner with retry support.
func Retry(delegate Runner) Runner {
	return &retryingRunner{delegate: delegate}
}

// RetryUntilSuccess wraps a runner that must eventually succeed, e.g. a
// poll for an administrative operation to finish.
func RetryUntilSuccess(delegate Runner) Runner {
	return &retryingRunner{delegate: delegate, retryUntilSuccess: true}
}

func (r *retryingRunner) Name() string { return r.delegate.Name() }

func (r *retryingRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	untilSuccess := boolParam(params, "retry-until-success", r.retryUntilSuccess)

	maxAttempts := 1
	retryOnError := boolParam(params, "retry-on-error", false)
	if untilSuccess {
		maxAttempts = math.MaxInt
		retryOnError = true
	} else if retries, ok := asInt(params["retries"]); ok && retries > 0 {
		maxAttempts = int(retries) + 1
	}

	wait, err := durationParam(params, "retry-wait-period", defaultRetryWait)
	if err != nil {
		return nil, err
	}
	retryOnTimeout := boolParam(params, "retry-on-timeout", true)

	log := logger.L().Sugar()
	for attempt := 1; ; attempt++ {
		lastAttempt := attempt == maxAttempts

		result, err := r.delegate.Invoke(ctx, client, params)
		if err != nil {
			if lastAttempt || !retryOnTimeout || !retryable(err) {
				return nil, err
			}
			log.Infof("%s failed (%s), retrying in %s", r.delegate.Name(), err, wait)
		} else {
			if lastAttempt || !retryOnError {
				return result, nil
			}
			if result == nil || result.Success {
				return result, nil
			}
			log.Infof("%s returned an unsuccessful result, retrying in %s", r.delegate.Name(), wait)
		}

		if err := sleepContext(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// retryable reports whether the error is worth another attempt: a
// connection-level failure or a request timeout. Other HTTP errors are
// deterministic and retrying them would just repeat the failure.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 408
	}
	return types.IsTransportError(err)
}
