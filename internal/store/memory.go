package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process backend used by tests and STORE_BACKEND=memory.
// A single mutex around every operation stands in for the remote store's
// atomic script execution. The clock is injectable so time-sensitive
// algorithm behavior can be tested without sleeping.
type Memory struct {
	mu       sync.Mutex
	counters map[string]counterRecord
	kv       map[string]kvRecord
	now      func() time.Time
}

// NewMemory constructs a Memory store on the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock constructs a Memory store on the given clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		counters: make(map[string]counterRecord),
		kv:       make(map[string]kvRecord),
		now:      now,
	}
}

func (s *Memory) Eval(ctx context.Context, script Script, keys []string, args ...int64) ([]int64, error) {
	if len(keys) != 1 || len(args) != 2 {
		return nil, fmt.Errorf("script %s: want 1 key and 2 args", script)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	rec, ok := s.counters[keys[0]]
	found := ok && !rec.expired(nowMs)

	reply, persist, err := applyScript(script, &rec, found, args[0], args[1], nowMs)
	if err != nil {
		return nil, err
	}
	if persist {
		s.counters[keys[0]] = rec
	}
	return reply, nil
}

func (s *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.kv[key]
	if !ok || (rec.ExpiresAtMs > 0 && s.now().UnixMilli() >= rec.ExpiresAtMs) {
		return nil, false, nil
	}
	return append([]byte(nil), rec.Value...), true, nil
}

func (s *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := kvRecord{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		rec.ExpiresAtMs = s.now().Add(ttl).UnixMilli()
	}
	s.kv[key] = rec
	return nil
}

func (s *Memory) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.kv[key]
	delete(s.kv, key)
	return ok, nil
}

func (s *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowMs := s.now().UnixMilli()
	var keys []string
	for k, rec := range s.kv {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if rec.ExpiresAtMs > 0 && nowMs >= rec.ExpiresAtMs {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// PruneExpired removes counter and kv records past their expiry stamp.
func (s *Memory) PruneExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowMs := s.now().UnixMilli()
	pruned := 0
	for k, rec := range s.counters {
		if rec.expired(nowMs) {
			delete(s.counters, k)
			pruned++
		}
	}
	for k, rec := range s.kv {
		if rec.ExpiresAtMs > 0 && nowMs >= rec.ExpiresAtMs {
			delete(s.kv, k)
			pruned++
		}
	}
	return pruned, nil
}

func (s *Memory) Ping(ctx context.Context) error { return nil }

func (s *Memory) Close() error { return nil }
