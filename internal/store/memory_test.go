package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryKVRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Set(ctx, "rule:abc", []byte(`{"id":"abc"}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := s.Get(ctx, "rule:abc")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(val) != `{"id":"abc"}` {
		t.Errorf("Get = %q", val)
	}

	existed, err := s.Delete(ctx, "rule:abc")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	existed, err = s.Delete(ctx, "rule:abc")
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if existed {
		t.Error("second Delete should report not found")
	}
}

func TestMemoryKVExpiry(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("key should be live before ttl")
	}

	now = now.Add(time.Minute + time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key should read as absent after ttl")
	}

	pruned, err := s.PruneExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
}

func TestMemoryKeysPrefix(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for _, k := range []string{"rule:a", "rule:b", "webhook:failed:1"} {
		if err := s.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := s.Keys(ctx, "rule:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys(rule:) = %v, want 2 entries", keys)
	}
}

func TestMemoryEvalValidatesShape(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Eval(ctx, ScriptFixedWindow, nil, 5, 1000); err == nil {
		t.Error("Eval without a key should error")
	}
	if _, err := s.Eval(ctx, ScriptFixedWindow, []string{"k"}, 5); err == nil {
		t.Error("Eval with one arg should error")
	}
	if _, err := s.Eval(ctx, Script("bogus"), []string{"k"}, 5, 1000); err == nil {
		t.Error("unknown script should error")
	}
	if _, err := s.Eval(ctx, ScriptFixedWindow, []string{"k"}, 0, 1000); err == nil {
		t.Error("non-positive limit should error")
	}
}

func TestMemoryCounterExpiryIsFreshStart(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	// Token bucket state expires after 2x window; a subject returning
	// later starts with a full bucket again.
	if _, err := s.Eval(ctx, ScriptTokenBucket, []string{"k"}, 1, 1000); err != nil {
		t.Fatal(err)
	}
	reply, err := s.Eval(ctx, ScriptTokenBucket, []string{"k"}, 1, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if reply[ReplyAllowed] != 0 {
		t.Fatal("bucket should be drained")
	}

	now = now.Add(3 * time.Second)
	reply, err = s.Eval(ctx, ScriptTokenBucket, []string{"k"}, 1, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if reply[ReplyAllowed] != 1 {
		t.Error("expired subject should start fresh")
	}

	if pruned, _ := s.PruneExpired(ctx); pruned != 0 {
		t.Errorf("live counter should not be pruned, got %d", pruned)
	}
}
