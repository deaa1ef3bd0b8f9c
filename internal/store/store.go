// Package store defines the atomic state store contract and its backends.
//
// Every rate-limit state transition runs as a single named script executed
// indivisibly by the store, so concurrent checks for the same subject observe
// a consistent serialization regardless of which process issued them. The
// script reads the store's own clock, never a client-side timestamp.
package store

import (
	"context"
	"errors"
	"time"
)

// Script identifies a named atomic state transition.
type Script string

const (
	ScriptFixedWindow   Script = "fixed_window"
	ScriptSlidingWindow Script = "sliding_window"
	ScriptTokenBucket   Script = "token_bucket"
)

// Script reply layout: [allowed, remaining, resetAtMs, retryAfterSec, usage].
const (
	ReplyAllowed = iota
	ReplyRemaining
	ReplyResetAtMs
	ReplyRetryAfterSec
	ReplyUsage
	replyLen
)

// ErrUnavailable marks connectivity or timeout failures talking to the store.
// Callers compare with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// Store is the atomic state store consumed by the limiter engine and the
// rule catalog. Scripts take (limit, windowMs) and return the fixed-layout
// reply above; Get/Set/Delete cover plain records such as persisted rules
// and webhook failure records.
type Store interface {
	// Eval executes the named script atomically against keys[0].
	Eval(ctx context.Context, script Script, keys []string, args ...int64) ([]int64, error)

	// Get returns the value for key, reporting whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists all keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping reports store liveness.
	Ping(ctx context.Context) error

	Close() error
}

// Pruner is implemented by backends without native key expiry; the janitor
// calls it periodically to drop records past their expiry stamp.
type Pruner interface {
	PruneExpired(ctx context.Context) (int, error)
}
