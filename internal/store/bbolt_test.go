package store

import (
	"context"
	"testing"
	"time"
)

func newBboltForTest(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBbolt(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestBboltKVSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBbolt(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "rule:abc", []byte(`{"id":"abc"}`), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewBbolt(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	val, ok, err := s.Get(ctx, "rule:abc")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if string(val) != `{"id":"abc"}` {
		t.Errorf("Get = %q", val)
	}
}

func TestBboltEvalCounts(t *testing.T) {
	s, _ := newBboltForTest(t)
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		reply, err := s.Eval(ctx, ScriptFixedWindow, []string{"rl:fixed_window:user:1"}, 2, 60_000)
		if err != nil {
			t.Fatalf("eval %d: %v", i, err)
		}
		if reply[ReplyAllowed] != 1 || reply[ReplyUsage] != i {
			t.Fatalf("eval %d: reply = %v", i, reply)
		}
	}
	reply, err := s.Eval(ctx, ScriptFixedWindow, []string{"rl:fixed_window:user:1"}, 2, 60_000)
	if err != nil {
		t.Fatal(err)
	}
	if reply[ReplyAllowed] != 0 || reply[ReplyRetryAfterSec] < 1 {
		t.Errorf("denial reply = %v", reply)
	}
}

func TestBboltKVExpiryAndPrune(t *testing.T) {
	s, _ := newBboltForTest(t)
	ctx := context.Background()

	b := s.(*bboltStore)
	now := time.UnixMilli(1_700_000_000_000)
	b.now = func() time.Time { return now }

	if err := s.Set(ctx, "webhook:failed:1:k", []byte("x"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "rule:keep", []byte("y"), 0); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	if _, ok, _ := s.Get(ctx, "webhook:failed:1:k"); ok {
		t.Error("record should read as absent after ttl")
	}
	keys, err := s.Keys(ctx, "webhook:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("expired keys still listed: %v", keys)
	}

	pruned, err := s.(Pruner).PruneExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, ok, _ := s.Get(ctx, "rule:keep"); !ok {
		t.Error("ttl-less record must survive pruning")
	}
}

func TestBboltPing(t *testing.T) {
	s, _ := newBboltForTest(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
