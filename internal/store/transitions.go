package store

import (
	"fmt"
	"math"
)

// counterRecord is the per-subject state persisted by the embedded backends.
// Fixed window uses Start/Count, sliding window adds Prev, token bucket uses
// Tokens/LastMs. ExpiresAtMs mirrors the TTL a remote store would apply so
// abandoned subjects read as absent and can be pruned.
type counterRecord struct {
	Start       int64   `msgpack:"start"`
	Count       int64   `msgpack:"count"`
	Prev        int64   `msgpack:"prev"`
	Tokens      float64 `msgpack:"tokens"`
	LastMs      int64   `msgpack:"last"`
	ExpiresAtMs int64   `msgpack:"exp"`
}

func (r *counterRecord) expired(nowMs int64) bool {
	return r.ExpiresAtMs > 0 && nowMs >= r.ExpiresAtMs
}

// applyScript runs one atomic state transition against rec. found reports
// whether rec held a live (non-expired) record. It returns the fixed-layout
// reply and whether rec must be persisted. The caller supplies the store
// clock and is responsible for executing this under its atomicity primitive.
//
// These transitions are the reference semantics for the redis Lua scripts;
// the two must stay in lockstep.
func applyScript(script Script, rec *counterRecord, found bool, limit, windowMs, nowMs int64) ([]int64, bool, error) {
	if limit <= 0 || windowMs <= 0 {
		return nil, false, fmt.Errorf("script %s: limit and window must be positive", script)
	}
	switch script {
	case ScriptFixedWindow:
		reply := fixedWindowTransition(rec, found, limit, windowMs, nowMs)
		return reply, reply[ReplyAllowed] == 1, nil
	case ScriptSlidingWindow:
		reply := slidingWindowTransition(rec, found, limit, windowMs, nowMs)
		return reply, reply[ReplyAllowed] == 1, nil
	case ScriptTokenBucket:
		// Persisted unconditionally so the refill clock stays accurate.
		return tokenBucketTransition(rec, found, limit, windowMs, nowMs), true, nil
	default:
		return nil, false, fmt.Errorf("unknown script %q", script)
	}
}

func fixedWindowTransition(rec *counterRecord, found bool, limit, windowMs, nowMs int64) []int64 {
	start := nowMs - nowMs%windowMs
	reset := start + windowMs

	var count int64
	if found && rec.Start == start {
		count = rec.Count
	}

	var allowed, retry int64
	if count < limit {
		allowed = 1
		count++
		rec.Start = start
		rec.Count = count
		rec.ExpiresAtMs = nowMs + windowMs
	} else {
		// Denied checks leave the counter and its expiry untouched.
		retry = ceilDiv(reset-nowMs, 1000)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return []int64{allowed, remaining, reset, retry, count}
}

func slidingWindowTransition(rec *counterRecord, found bool, limit, windowMs, nowMs int64) []int64 {
	start := nowMs - nowMs%windowMs
	prevStart := start - windowMs
	reset := start + windowMs

	var cur, prev int64
	if found {
		switch rec.Start {
		case start:
			cur, prev = rec.Count, rec.Prev
		case prevStart:
			// The stored current window has rolled over to previous.
			prev = rec.Count
		}
	}

	elapsed := float64(nowMs-start) / float64(windowMs)
	estimated := float64(prev)*(1-elapsed) + float64(cur)

	var allowed, retry int64
	if estimated < float64(limit) {
		allowed = 1
		cur++
		estimated++
		rec.Start = start
		rec.Count = cur
		rec.Prev = prev
		// 2x window so the previous-window read stays valid for the
		// full overlap period.
		rec.ExpiresAtMs = nowMs + 2*windowMs
	} else {
		retry = ceilDiv(reset-nowMs, 1000)
	}

	usage := int64(math.Floor(estimated))
	remaining := limit - usage
	if remaining < 0 {
		remaining = 0
	}
	return []int64{allowed, remaining, reset, retry, usage}
}

func tokenBucketTransition(rec *counterRecord, found bool, limit, windowMs, nowMs int64) []int64 {
	rate := float64(limit) / (float64(windowMs) / 1000) // tokens per second

	tokens := float64(limit)
	if found {
		tokens = rec.Tokens
		if elapsed := float64(nowMs-rec.LastMs) / 1000; elapsed > 0 {
			tokens = math.Min(float64(limit), tokens+elapsed*rate)
		}
	}

	var allowed, retry int64
	if tokens >= 1 {
		allowed = 1
		tokens--
	} else {
		retry = int64(math.Ceil((1 - tokens) / rate))
	}

	rec.Tokens = tokens
	rec.LastMs = nowMs
	rec.ExpiresAtMs = nowMs + 2*windowMs

	remaining := int64(math.Floor(tokens))
	reset := nowMs + int64(math.Ceil((float64(limit)-tokens)/rate*1000))
	usage := int64(math.Floor(float64(limit) - tokens))
	return []int64{allowed, remaining, reset, retry, usage}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
