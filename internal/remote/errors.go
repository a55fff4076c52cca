package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
)

// Kind classifies a remote-calendar failure for the reconciler's retry
// policy.
type Kind string

const (
	// KindAuthExpired means the access token was rejected even after one
	// refresh. The tenant member needs to re-authenticate.
	KindAuthExpired Kind = "auth_expired"

	// KindRateLimited means the remote asked us to slow down. RetryAfter
	// carries the suggested delay.
	KindRateLimited Kind = "rate_limited"

	// KindRemoteUnavailable covers network failures, timeouts and remote
	// server errors. Retried by the reconciler with bounded backoff.
	KindRemoteUnavailable Kind = "remote_unavailable"
)

// ErrExpiredCursor is returned by List when the continuation token is no
// longer valid on the remote side and a full sync is required.
var ErrExpiredCursor = errors.New("list cursor expired")

// Error is a classified remote-calendar failure.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or the empty Kind when err is
// not a remote error.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}

// classify maps transport-level failures onto the taxonomy. nil stays nil;
// anything unrecognized is treated as remote unavailability so the caller
// retries rather than drops the write.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401:
			return &Error{Kind: KindAuthExpired, Op: op, Err: err}
		case gerr.Code == 403 && hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded"):
			return &Error{Kind: KindRateLimited, Op: op, RetryAfter: retryAfter(gerr), Err: err}
		case gerr.Code == 410:
			return fmt.Errorf("remote %s: %w", op, ErrExpiredCursor)
		case gerr.Code == 429:
			return &Error{Kind: KindRateLimited, Op: op, RetryAfter: retryAfter(gerr), Err: err}
		case gerr.Code >= 500:
			return &Error{Kind: KindRemoteUnavailable, Op: op, Err: err}
		default:
			return &Error{Kind: KindRemoteUnavailable, Op: op, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindRemoteUnavailable, Op: op, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &Error{Kind: KindRemoteUnavailable, Op: op, Err: err}
	}

	return &Error{Kind: KindRemoteUnavailable, Op: op, Err: err}
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

// retryAfter extracts the Retry-After header from a rate-limit response,
// defaulting to an arbitrary but non-zero delay when absent.
func retryAfter(gerr *googleapi.Error) time.Duration {
	const fallback = 5 * time.Second
	if gerr.Header == nil {
		return fallback
	}
	v := gerr.Header.Get("Retry-After")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
