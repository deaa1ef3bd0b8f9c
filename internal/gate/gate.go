// Package gate is the orchestrator: it resolves which algorithm and
// parameters govern a request, delegates to the limiter engine, and hands
// threshold crossings to the notification pool without ever blocking on them.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/limiter"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/metrics"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/notify"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/rule"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
)

// CheckRequest asks whether one more request is allowed for Key. Exactly one
// resolution path applies, in order: RuleID, the full inline triple, then
// the rule matcher.
type CheckRequest struct {
	Key      string
	Endpoint string
	RuleID   string

	// Inline override; used only when all three are present.
	Algorithm string
	Limit     int64
	Window    int64 // seconds
}

// Options carries service-level defaults applied when a rule specifies none.
type Options struct {
	DefaultThresholds []int
	DefaultWebhookURL string
}

// Notifier is the enqueue side of the webhook pool. Enqueue must never block.
type Notifier interface {
	Enqueue(job notify.Job) bool
}

// Service implements the boundary exposed to transports: check, rule CRUD,
// and the health probe. One shared strategy instance per algorithm suffices;
// all mutable limiter state lives in the store.
type Service struct {
	rules      *rule.Store
	strategies map[limiter.Algorithm]limiter.Strategy
	st         store.Store
	notifier   Notifier
	opts       Options
	log        zerolog.Logger
}

// New wires the orchestrator. notifier may be nil to disable notifications.
func New(st store.Store, rules *rule.Store, notifier Notifier, opts Options, log zerolog.Logger) (*Service, error) {
	strategies := make(map[limiter.Algorithm]limiter.Strategy, 3)
	for _, algo := range []limiter.Algorithm{limiter.TokenBucket, limiter.FixedWindow, limiter.SlidingWindow} {
		strat, err := limiter.New(algo, st)
		if err != nil {
			return nil, err
		}
		strategies[algo] = strat
	}
	return &Service{
		rules:      rules,
		strategies: strategies,
		st:         st,
		notifier:   notifier,
		opts:       opts,
		log:        log,
	}, nil
}

// resolved is the effective limiting configuration for one check.
type resolved struct {
	algo       limiter.Algorithm
	limit      int64
	window     time.Duration
	thresholds []int
	webhookURL string
}

// Check resolves the effective configuration and runs the admission check.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*limiter.Result, error) {
	if req.Key == "" {
		return nil, NewError(CodeValidation, "key is required")
	}

	cfg, err := s.resolve(ctx, req)
	if err != nil {
		metrics.CheckErrors.WithLabelValues(string(CodeOf(err))).Inc()
		return nil, err
	}

	// The composite subject is what partitions counters: same key with
	// different endpoints are independent subjects.
	subject := req.Key
	if req.Endpoint != "" {
		subject = req.Key + ":" + req.Endpoint
	}

	result, err := s.strategies[cfg.algo].Check(ctx, subject, cfg.limit, cfg.window)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			metrics.CheckErrors.WithLabelValues(string(CodeStoreUnavailable)).Inc()
			return nil, WrapError(CodeStoreUnavailable, "store unavailable", err)
		}
		metrics.CheckErrors.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("check %s: %w", subject, err)
	}

	outcome := "denied"
	if result.Allowed {
		outcome = "allowed"
	}
	metrics.ChecksTotal.WithLabelValues(string(cfg.algo), outcome).Inc()

	s.maybeNotify(req, cfg, result)
	return result, nil
}

// resolve applies the precedence: explicit rule, inline triple, matcher.
func (s *Service) resolve(ctx context.Context, req CheckRequest) (resolved, error) {
	if req.RuleID != "" {
		r, ok, err := s.rules.Get(ctx, req.RuleID)
		if err != nil {
			return resolved{}, s.storeErr(err)
		}
		if !ok {
			return resolved{}, NewError(CodeRuleNotFound, fmt.Sprintf("rule %q not found", req.RuleID))
		}
		if !r.Enabled {
			return resolved{}, NewError(CodeRuleDisabled, fmt.Sprintf("rule %q is disabled", req.RuleID))
		}
		return s.fromRule(r), nil
	}

	if req.Algorithm != "" && req.Limit != 0 && req.Window != 0 {
		algo, err := limiter.ParseAlgorithm(req.Algorithm)
		if err != nil {
			return resolved{}, WrapError(CodeValidation, err.Error(), err)
		}
		if req.Limit < 0 {
			return resolved{}, NewError(CodeValidation, fmt.Sprintf("limit must be positive, got %d", req.Limit))
		}
		if req.Window < 0 {
			return resolved{}, NewError(CodeValidation, fmt.Sprintf("window must be positive, got %d", req.Window))
		}
		return resolved{
			algo:       algo,
			limit:      req.Limit,
			window:     time.Duration(req.Window) * time.Second,
			thresholds: s.opts.DefaultThresholds,
			webhookURL: s.opts.DefaultWebhookURL,
		}, nil
	}

	r, ok := s.rules.FindMatching(req.Key, req.Endpoint)
	if !ok {
		return resolved{}, NewError(CodeNoMatchingRule,
			fmt.Sprintf("no rule matches key %q", req.Key))
	}
	return s.fromRule(r), nil
}

func (s *Service) fromRule(r rule.Rule) resolved {
	cfg := resolved{
		algo:       r.Algorithm,
		limit:      r.Limit,
		window:     r.WindowDuration(),
		thresholds: r.Thresholds,
		webhookURL: r.WebhookURL,
	}
	if cfg.webhookURL == "" {
		cfg.webhookURL = s.opts.DefaultWebhookURL
	}
	if len(cfg.thresholds) == 0 {
		cfg.thresholds = s.opts.DefaultThresholds
	}
	return cfg
}

// maybeNotify is the post-check hook: it fires a delivery job when the usage
// ratio crossed a configured threshold. Sustained breaches fire repeatedly;
// deduplication is intentionally absent.
func (s *Service) maybeNotify(req CheckRequest, cfg resolved, result *limiter.Result) {
	if s.notifier == nil || cfg.webhookURL == "" || len(cfg.thresholds) == 0 {
		return
	}
	threshold, ok := notify.ShouldNotify(result.CurrentUsage, cfg.limit, cfg.thresholds)
	if !ok {
		return
	}
	payload := notify.NewPayload(req.Key, req.Endpoint, cfg.limit, result.CurrentUsage, threshold)
	s.notifier.Enqueue(notify.Job{URL: cfg.webhookURL, Payload: payload})
}

// Health delegates to the store's liveness check.
func (s *Service) Health(ctx context.Context) error {
	if err := s.st.Ping(ctx); err != nil {
		return WrapError(CodeStoreUnavailable, "store unavailable", err)
	}
	return nil
}

// storeErr maps a raw store failure onto the boundary taxonomy.
func (s *Service) storeErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return WrapError(CodeStoreUnavailable, "store unavailable", err)
	}
	return err
}

// Rule CRUD passthroughs: the transport talks only to this boundary.

func (s *Service) CreateRule(ctx context.Context, req rule.CreateRequest) (rule.Rule, error) {
	r, err := s.rules.Create(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return rule.Rule{}, WrapError(CodeStoreUnavailable, "store unavailable", err)
		}
		return rule.Rule{}, WrapError(CodeValidation, err.Error(), err)
	}
	return r, nil
}

func (s *Service) GetRule(ctx context.Context, id string) (rule.Rule, error) {
	r, ok, err := s.rules.Get(ctx, id)
	if err != nil {
		return rule.Rule{}, s.storeErr(err)
	}
	if !ok {
		return rule.Rule{}, NewError(CodeRuleNotFound, fmt.Sprintf("rule %q not found", id))
	}
	return r, nil
}

func (s *Service) ListRules(ctx context.Context) []rule.Rule {
	return s.rules.List()
}

func (s *Service) UpdateRule(ctx context.Context, id string, patch rule.UpdateRequest) (rule.Rule, error) {
	r, ok, err := s.rules.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return rule.Rule{}, WrapError(CodeStoreUnavailable, "store unavailable", err)
		}
		return rule.Rule{}, WrapError(CodeValidation, err.Error(), err)
	}
	if !ok {
		return rule.Rule{}, NewError(CodeRuleNotFound, fmt.Sprintf("rule %q not found", id))
	}
	return r, nil
}

// DeleteRule reports whether the rule existed; deleting a missing rule is
// not an error and behaves identically however often it is retried.
func (s *Service) DeleteRule(ctx context.Context, id string) (bool, error) {
	existed, err := s.rules.Delete(ctx, id)
	if err != nil {
		return false, s.storeErr(err)
	}
	return existed, nil
}
