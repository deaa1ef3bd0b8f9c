// Package limiter: algorithm notes.
//
// Fixed window counts requests per aligned window of `window` seconds. It is
// the cheapest strategy but has an inherent boundary weakness: up to 2×limit
// requests can pass within a rolling window that straddles a boundary (limit
// at the end of one window, limit at the start of the next). That is the
// documented trade-off versus sliding window, not a bug.
//
// Sliding window keeps two adjacent fixed windows and weights the previous
// one by the fraction of it still inside the rolling window:
//
//	estimated = previous × (1 − elapsed/window) + current
//
// This interpolation assumes requests in the previous window were evenly
// distributed. It is an approximation, not an exact sliding log: it trades
// exactness for O(1) state per subject instead of O(limit) stored
// timestamps.
//
// Token bucket refills at limit/window tokens per second up to a capacity of
// limit and spends one token per admitted request. Fractional token state is
// persisted even on denial so the refill clock stays accurate; the exposed
// remaining count is floored.
package limiter
