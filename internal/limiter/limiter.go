// Package limiter implements the three admission strategies. All mutable
// state lives in the atomic store; strategy values are stateless and safe
// for unlimited concurrent use.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
)

// Algorithm names an admission strategy.
type Algorithm string

const (
	TokenBucket   Algorithm = "token_bucket"
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
)

// ParseAlgorithm normalizes a user-supplied algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case TokenBucket:
		return TokenBucket, nil
	case FixedWindow:
		return FixedWindow, nil
	case SlidingWindow:
		return SlidingWindow, nil
	default:
		return "", fmt.Errorf("unknown algorithm %q", s)
	}
}

// Result is the outcome of a single admission check. It is a value object,
// never persisted.
type Result struct {
	Allowed      bool
	Limit        int64
	Remaining    int64
	ResetAt      time.Time
	RetryAfter   time.Duration // zero unless denied
	CurrentUsage int64
}

// Strategy decides whether one more request is admitted for a subject.
type Strategy interface {
	Algorithm() Algorithm
	Check(ctx context.Context, subject string, limit int64, window time.Duration) (*Result, error)
}

// storeStrategy delegates the whole state transition to one named store
// script, so there is no observable read-then-write race between concurrent
// callers on the same subject.
type storeStrategy struct {
	algo   Algorithm
	script store.Script
	st     store.Store
}

// New returns the strategy for algo backed by st.
func New(algo Algorithm, st store.Store) (Strategy, error) {
	var script store.Script
	switch algo {
	case TokenBucket:
		script = store.ScriptTokenBucket
	case FixedWindow:
		script = store.ScriptFixedWindow
	case SlidingWindow:
		script = store.ScriptSlidingWindow
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algo)
	}
	return &storeStrategy{algo: algo, script: script, st: st}, nil
}

func (s *storeStrategy) Algorithm() Algorithm { return s.algo }

func (s *storeStrategy) Check(ctx context.Context, subject string, limit int64, window time.Duration) (*Result, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject key must not be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}

	key := "rl:" + string(s.algo) + ":" + subject
	reply, err := s.st.Eval(ctx, s.script, []string{key}, limit, window.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("check %s %s: %w", s.algo, subject, err)
	}

	res := &Result{
		Allowed:      reply[store.ReplyAllowed] == 1,
		Limit:        limit,
		Remaining:    reply[store.ReplyRemaining],
		ResetAt:      time.UnixMilli(reply[store.ReplyResetAtMs]),
		CurrentUsage: reply[store.ReplyUsage],
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(reply[store.ReplyRetryAfterSec]) * time.Second
	}
	return res, nil
}
