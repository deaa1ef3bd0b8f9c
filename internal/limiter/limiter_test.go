package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/testutil"
)

// windowAligned is a timestamp divisible by every window used in these tests,
// so checks start exactly at a window boundary.
var windowAligned = time.UnixMilli(1_700_000_040_000)

func newStrategy(t *testing.T, algo Algorithm, clock *testutil.Clock) Strategy {
	t.Helper()
	st := store.NewMemoryWithClock(clock.Now)
	strat, err := New(algo, st)
	if err != nil {
		t.Fatalf("New(%s): %v", algo, err)
	}
	return strat
}

func mustCheck(t *testing.T, s Strategy, subject string, limit int64, window time.Duration) *Result {
	t.Helper()
	res, err := s.Check(context.Background(), subject, limit, window)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return res
}

func TestFixedWindowExactLimit(t *testing.T) {
	clock := testutil.NewClock(windowAligned.Add(time.Second))
	s := newStrategy(t, FixedWindow, clock)

	const limit = 5
	window := 10 * time.Second

	for i := 0; i < limit; i++ {
		res := mustCheck(t, s, "user:1", limit, window)
		if !res.Allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
		if want := int64(limit - i - 1); res.Remaining != want {
			t.Errorf("check %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	res := mustCheck(t, s, "user:1", limit, window)
	if res.Allowed {
		t.Error("check beyond limit should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("denied check should have retryAfter > 0, got %s", res.RetryAfter)
	}
	if res.Remaining != 0 {
		t.Errorf("denied check remaining = %d, want 0", res.Remaining)
	}
	wantReset := windowAligned.Add(window)
	if !res.ResetAt.Equal(wantReset) {
		t.Errorf("resetAt = %s, want %s", res.ResetAt, wantReset)
	}

	// Just after resetAt the counter starts over.
	clock.Set(wantReset.Add(time.Millisecond))
	res = mustCheck(t, s, "user:1", limit, window)
	if !res.Allowed {
		t.Error("check just after resetAt should be allowed")
	}
}

func TestFixedWindowBoundaryWeakness(t *testing.T) {
	// Up to 2x limit can pass within a rolling window that straddles a
	// boundary. This is the documented trade-off, so pin it.
	clock := testutil.NewClock(windowAligned.Add(9 * time.Second))
	s := newStrategy(t, FixedWindow, clock)

	const limit = 3
	window := 10 * time.Second

	for i := 0; i < limit; i++ {
		if !mustCheck(t, s, "ip:10.0.0.1", limit, window).Allowed {
			t.Fatalf("pre-boundary check %d should be allowed", i+1)
		}
	}

	clock.Advance(2 * time.Second) // cross the boundary
	for i := 0; i < limit; i++ {
		if !mustCheck(t, s, "ip:10.0.0.1", limit, window).Allowed {
			t.Fatalf("post-boundary check %d should be allowed", i+1)
		}
	}
}

func TestFixedWindowSubjectsIndependent(t *testing.T) {
	clock := testutil.NewClock(windowAligned)
	s := newStrategy(t, FixedWindow, clock)

	if !mustCheck(t, s, "a", 1, time.Minute).Allowed {
		t.Fatal("first check for a should pass")
	}
	if mustCheck(t, s, "a", 1, time.Minute).Allowed {
		t.Fatal("second check for a should be denied")
	}
	if !mustCheck(t, s, "b", 1, time.Minute).Allowed {
		t.Error("b must not share a's counter")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	clock := testutil.NewClock(windowAligned)
	s := newStrategy(t, TokenBucket, clock)

	const limit = 10
	window := 10 * time.Second // rate: 1 token/sec

	for i := 0; i < limit; i++ {
		res := mustCheck(t, s, "user:7", limit, window)
		if !res.Allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
	}

	res := mustCheck(t, s, "user:7", limit, window)
	if res.Allowed {
		t.Fatal("11th immediate check should be denied")
	}
	if res.RetryAfter != time.Second {
		t.Errorf("retryAfter = %s, want 1s at rate 1 token/sec", res.RetryAfter)
	}

	// After one second exactly one token has refilled.
	clock.Advance(time.Second)
	if !mustCheck(t, s, "user:7", limit, window).Allowed {
		t.Error("check after 1s refill should be allowed")
	}
	if mustCheck(t, s, "user:7", limit, window).Allowed {
		t.Error("second check after 1s refill should be denied")
	}
}

func TestTokenBucketDenialKeepsRefillClock(t *testing.T) {
	clock := testutil.NewClock(windowAligned)
	s := newStrategy(t, TokenBucket, clock)

	window := time.Second // rate: 1 token/sec
	mustCheck(t, s, "k", 1, window) // drain the single token

	// Two denials half a second apart must not reset accrued fractional
	// tokens: after a full second from the drain, one token is back.
	clock.Advance(500 * time.Millisecond)
	if mustCheck(t, s, "k", 1, window).Allowed {
		t.Fatal("check at 0.5s should be denied")
	}
	clock.Advance(500 * time.Millisecond)
	if !mustCheck(t, s, "k", 1, window).Allowed {
		t.Error("fractional refill lost across denials")
	}
}

func TestSlidingWindowInterpolation(t *testing.T) {
	clock := testutil.NewClock(windowAligned)
	s := newStrategy(t, SlidingWindow, clock)

	const limit = 10
	window := time.Minute

	// Fill the first window at its very start.
	for i := 0; i < limit; i++ {
		if !mustCheck(t, s, "user:9", limit, window).Allowed {
			t.Fatalf("first-window check %d should be allowed", i+1)
		}
	}
	if mustCheck(t, s, "user:9", limit, window).Allowed {
		t.Fatal("11th first-window check should be denied")
	}

	// Halfway into the next window the previous one still carries half
	// its weight, so only about half the limit is free.
	clock.Advance(90 * time.Second)
	allowed := 0
	for i := 0; i < limit; i++ {
		if mustCheck(t, s, "user:9", limit, window).Allowed {
			allowed++
		}
	}
	if allowed != limit/2 {
		t.Errorf("second-batch admissions = %d, want %d (weighted carryover)", allowed, limit/2)
	}

	// Over the two-window span strictly fewer than 2x limit were
	// admitted: interpolation, not raw summation.
	if total := limit + allowed; total >= 2*limit {
		t.Errorf("total admissions %d should be < %d", total, 2*limit)
	}
}

func TestSlidingWindowDenialDoesNotMutate(t *testing.T) {
	clock := testutil.NewClock(windowAligned)
	s := newStrategy(t, SlidingWindow, clock)

	window := time.Minute
	mustCheck(t, s, "x", 1, window)

	// Repeated denials must not inflate the counter.
	for i := 0; i < 5; i++ {
		res := mustCheck(t, s, "x", 1, window)
		if res.Allowed {
			t.Fatal("over-limit check should be denied")
		}
		if res.CurrentUsage != 1 {
			t.Fatalf("usage = %d after denial, want 1", res.CurrentUsage)
		}
	}
}

func TestCheckRejectsInvalidParams(t *testing.T) {
	clock := testutil.NewClock(windowAligned)
	s := newStrategy(t, FixedWindow, clock)

	if _, err := s.Check(context.Background(), "k", 0, time.Minute); err == nil {
		t.Error("zero limit should error")
	}
	if _, err := s.Check(context.Background(), "k", 5, 0); err == nil {
		t.Error("zero window should error")
	}
	if _, err := s.Check(context.Background(), "", 5, time.Minute); err == nil {
		t.Error("empty subject should error")
	}
}

func TestParseAlgorithm(t *testing.T) {
	cases := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"token_bucket", TokenBucket, false},
		{"FIXED_WINDOW", FixedWindow, false},
		{" sliding_window ", SlidingWindow, false},
		{"leaky_bucket", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseAlgorithm(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseAlgorithm(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAlgorithm(%q): %v", c.in, err)
		} else if got != c.want {
			t.Errorf("ParseAlgorithm(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
