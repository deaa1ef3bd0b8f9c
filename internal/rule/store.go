package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/limiter"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/metrics"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
)

const keyPrefix = "rule:"

// DefaultThresholds is applied when a rule is created without any.
var DefaultThresholds = []int{80, 90, 100}

// Store is the rule catalog: a read-through in-memory cache over the durable
// store. The cache owns copies of rule values; mutation always goes through
// Update, never through a shared reference, so concurrent readers cannot
// observe partial writes.
type Store struct {
	kv  store.Store
	log zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Rule
	now   func() time.Time
}

// NewStore constructs the catalog and warms the cache from the durable store
// so List reflects rules created before this process started.
func NewStore(ctx context.Context, kv store.Store, log zerolog.Logger) (*Store, error) {
	s := &Store{
		kv:    kv,
		log:   log,
		cache: make(map[string]Rule),
		now:   time.Now,
	}
	if err := s.warm(ctx); err != nil {
		return nil, fmt.Errorf("warm rule cache: %w", err)
	}
	return s, nil
}

func (s *Store) warm(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return err
	}
	loaded := 0
	for _, key := range keys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var r Rule
		if err := json.Unmarshal(raw, &r); err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("skipping undecodable rule record")
			continue
		}
		s.cache[r.ID] = r
		loaded++
	}
	if loaded > 0 {
		s.log.Info().Int("count", loaded).Msg("rule cache warmed")
	}
	return nil
}

// CreateRequest carries the fields of a rule creation. ID is optional; the
// server assigns one when absent.
type CreateRequest struct {
	ID         string      `json:"id,omitempty"`
	Name       string      `json:"name"`
	Algorithm  string      `json:"algorithm"`
	Limit      int64       `json:"limit"`
	Window     int64       `json:"window"`
	Keys       []KeyConfig `json:"keys"`
	WebhookURL string      `json:"webhookUrl,omitempty"`
	Thresholds []int       `json:"thresholds,omitempty"`
	Enabled    *bool       `json:"enabled,omitempty"`
}

// Create validates, assigns identity and defaults, persists, and caches.
func (s *Store) Create(ctx context.Context, req CreateRequest) (Rule, error) {
	id := req.ID
	if id == "" {
		var err error
		if id, err = newID(); err != nil {
			return Rule{}, err
		}
	}

	now := s.now().UTC()
	r := Rule{
		ID:         id,
		Name:       req.Name,
		Algorithm:  limiterAlgorithm(req.Algorithm),
		Limit:      req.Limit,
		Window:     req.Window,
		Keys:       append([]KeyConfig(nil), req.Keys...),
		WebhookURL: req.WebhookURL,
		Thresholds: append([]int(nil), req.Thresholds...),
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(r.Thresholds) == 0 {
		r.Thresholds = append([]int(nil), DefaultThresholds...)
	}
	if req.Enabled != nil {
		r.Enabled = *req.Enabled
	}
	if err := r.Validate(); err != nil {
		metrics.RuleOps.WithLabelValues("create", "invalid").Inc()
		return Rule{}, err
	}

	if err := s.persist(ctx, r); err != nil {
		metrics.RuleOps.WithLabelValues("create", "error").Inc()
		return Rule{}, err
	}

	s.mu.Lock()
	s.cache[r.ID] = r.clone()
	s.mu.Unlock()

	metrics.RuleOps.WithLabelValues("create", "ok").Inc()
	s.log.Info().Str("rule_id", r.ID).Str("name", r.Name).Msg("rule created")
	return r, nil
}

// Get returns the rule by id, falling back to the durable store on a cache
// miss (e.g. after another process created it).
func (s *Store) Get(ctx context.Context, id string) (Rule, bool, error) {
	s.mu.RLock()
	r, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		metrics.RuleCacheLookups.WithLabelValues("hit").Inc()
		return r.clone(), true, nil
	}
	metrics.RuleCacheLookups.WithLabelValues("miss").Inc()

	raw, found, err := s.kv.Get(ctx, keyPrefix+id)
	if err != nil {
		return Rule{}, false, err
	}
	if !found {
		return Rule{}, false, nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return Rule{}, false, fmt.Errorf("decode rule %s: %w", id, err)
	}

	s.mu.Lock()
	s.cache[r.ID] = r.clone()
	s.mu.Unlock()
	return r, true, nil
}

// List returns all cached rules, ordered by creation time then id for a
// stable iteration order.
func (s *Store) List() []Rule {
	s.mu.RLock()
	rules := make([]Rule, 0, len(s.cache))
	for _, r := range s.cache {
		rules = append(rules, r.clone())
	}
	s.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// UpdateRequest carries a partial rule mutation; nil fields are left as-is.
type UpdateRequest struct {
	Name       *string     `json:"name,omitempty"`
	Algorithm  *string     `json:"algorithm,omitempty"`
	Limit      *int64      `json:"limit,omitempty"`
	Window     *int64      `json:"window,omitempty"`
	Keys       []KeyConfig `json:"keys,omitempty"`
	WebhookURL *string     `json:"webhookUrl,omitempty"`
	Thresholds []int       `json:"thresholds,omitempty"`
	Enabled    *bool       `json:"enabled,omitempty"`
}

// Update merges the patch into the stored rule, preserving id and createdAt.
// The second return reports whether the rule existed.
func (s *Store) Update(ctx context.Context, id string, patch UpdateRequest) (Rule, bool, error) {
	r, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return Rule{}, ok, err
	}

	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Algorithm != nil {
		r.Algorithm = limiterAlgorithm(*patch.Algorithm)
	}
	if patch.Limit != nil {
		r.Limit = *patch.Limit
	}
	if patch.Window != nil {
		r.Window = *patch.Window
	}
	if patch.Keys != nil {
		r.Keys = append([]KeyConfig(nil), patch.Keys...)
	}
	if patch.WebhookURL != nil {
		r.WebhookURL = *patch.WebhookURL
	}
	if patch.Thresholds != nil {
		r.Thresholds = append([]int(nil), patch.Thresholds...)
	}
	if patch.Enabled != nil {
		r.Enabled = *patch.Enabled
	}
	r.UpdatedAt = s.now().UTC()

	if err := r.Validate(); err != nil {
		metrics.RuleOps.WithLabelValues("update", "invalid").Inc()
		return Rule{}, true, err
	}
	if err := s.persist(ctx, r); err != nil {
		metrics.RuleOps.WithLabelValues("update", "error").Inc()
		return Rule{}, true, err
	}

	s.mu.Lock()
	s.cache[r.ID] = r.clone()
	s.mu.Unlock()

	metrics.RuleOps.WithLabelValues("update", "ok").Inc()
	return r, true, nil
}

// Delete removes the rule from cache and store, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, cached := s.cache[id]
	delete(s.cache, id)
	s.mu.Unlock()

	existed, err := s.kv.Delete(ctx, keyPrefix+id)
	if err != nil {
		metrics.RuleOps.WithLabelValues("delete", "error").Inc()
		return false, err
	}
	metrics.RuleOps.WithLabelValues("delete", "ok").Inc()
	return cached || existed, nil
}

func (s *Store) persist(ctx context.Context, r Rule) error {
	raw, err := json.Marshal(&r)
	if err != nil {
		return fmt.Errorf("encode rule %s: %w", r.ID, err)
	}
	// Rules never expire on their own; only Delete removes them.
	return s.kv.Set(ctx, keyPrefix+r.ID, raw, 0)
}

// limiterAlgorithm lowercases without validating; Validate catches bad names.
func limiterAlgorithm(s string) (a limiter.Algorithm) {
	if parsed, err := limiter.ParseAlgorithm(s); err == nil {
		return parsed
	}
	return limiter.Algorithm(strings.ToLower(strings.TrimSpace(s)))
}
