package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/metrics"
)

const (
	bucketCounters = "counters"
	bucketKV       = "kv"
)

// kvRecord wraps a plain value with the expiry stamp bbolt cannot provide
// natively. Expired records read as absent and are removed by the janitor.
type kvRecord struct {
	Value       []byte `msgpack:"v"`
	ExpiresAtMs int64  `msgpack:"exp"`
}

// bboltStore is the embedded single-node backend. Scripts run inside one
// bolt Update transaction, which gives the same indivisibility a remote
// script execution would.
type bboltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBbolt opens (or creates) a bbolt database at dataDir/ratelimiter.db.
func NewBbolt(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "ratelimiter.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketCounters, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db, now: time.Now}, nil
}

func (s *bboltStore) Eval(ctx context.Context, script Script, keys []string, args ...int64) ([]int64, error) {
	if len(keys) != 1 || len(args) != 2 {
		return nil, fmt.Errorf("script %s: want 1 key and 2 args", script)
	}
	nowMs := s.now().UnixMilli()

	var reply []int64
	start := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCounters))
		key := []byte(keys[0])

		var rec counterRecord
		found := false
		if raw := b.Get(key); raw != nil {
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("unmarshal counter %s: %w", keys[0], err)
			}
			found = !rec.expired(nowMs)
		}

		r, persist, err := applyScript(script, &rec, found, args[0], args[1], nowMs)
		if err != nil {
			return err
		}
		reply = r
		if !persist {
			return nil
		}
		data, err := msgpack.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal counter %s: %w", keys[0], err)
		}
		return b.Put(key, data)
	})
	metrics.StoreOpDuration.WithLabelValues(string(script)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(string(script)).Inc()
		return nil, err
	}
	return reply, nil
}

func (s *bboltStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	found := false
	nowMs := s.now().UnixMilli()
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketKV)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var rec kvRecord
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal kv %s: %w", key, err)
		}
		if rec.ExpiresAtMs > 0 && nowMs >= rec.ExpiresAtMs {
			return nil
		}
		val = append([]byte(nil), rec.Value...)
		found = true
		return nil
	})
	return val, found, err
}

func (s *bboltStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rec := kvRecord{Value: value}
	if ttl > 0 {
		rec.ExpiresAtMs = s.now().Add(ttl).UnixMilli()
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal kv %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketKV)).Put([]byte(key), data)
	})
}

func (s *bboltStore) Delete(ctx context.Context, key string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketKV))
		existed = b.Get([]byte(key)) != nil
		return b.Delete([]byte(key))
	})
	return existed, err
}

func (s *bboltStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	nowMs := s.now().UnixMilli()
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketKV)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var rec kvRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal kv %s: %w", k, err)
			}
			if rec.ExpiresAtMs > 0 && nowMs >= rec.ExpiresAtMs {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// PruneExpired removes counter and kv records past their expiry stamp.
func (s *bboltStore) PruneExpired(ctx context.Context) (int, error) {
	nowMs := s.now().UnixMilli()
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		counters := tx.Bucket([]byte(bucketCounters))
		var stale [][]byte
		if err := counters.ForEach(func(k, v []byte) error {
			var rec counterRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal counter %s: %w", k, err)
			}
			if rec.expired(nowMs) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := counters.Delete(k); err != nil {
				return err
			}
			pruned++
		}

		kv := tx.Bucket([]byte(bucketKV))
		stale = stale[:0]
		if err := kv.ForEach(func(k, v []byte) error {
			var rec kvRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal kv %s: %w", k, err)
			}
			if rec.ExpiresAtMs > 0 && nowMs >= rec.ExpiresAtMs {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := kv.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

func (s *bboltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(bucketKV)) == nil {
			return fmt.Errorf("%w: kv bucket missing", ErrUnavailable)
		}
		return nil
	})
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
