package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/metrics"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
)

// Job is one webhook delivery unit.
type Job struct {
	URL     string
	Payload Payload
}

// Config holds worker pool configuration.
type Config struct {
	Workers    int
	QueueDepth int
	MaxRetries int
	RetryBase  time.Duration
}

// failureRecordTTL bounds how long exhausted-delivery records stay visible
// to operators in the store.
const failureRecordTTL = 24 * time.Hour

// FailureRecord is the operator-visible trace of an exhausted delivery.
type FailureRecord struct {
	URL      string  `json:"url"`
	Payload  Payload `json:"payload"`
	Error    string  `json:"error"`
	Attempts int     `json:"attempts"`
	FailedAt string  `json:"failedAt"`
}

// Pool drains webhook jobs with bounded inline retry. A failed attempt
// sleeps RetryBase × 2^attempt on the delivering worker before the next try;
// this blocks only that worker, never the check path that enqueued the job.
type Pool struct {
	cfg       Config
	jobs      chan Job
	deliverer *Deliverer
	kv        store.Store
	log       zerolog.Logger
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewPool creates a Pool draining into deliverer. Exhausted deliveries are
// recorded in kv for operator inspection.
func NewPool(cfg Config, deliverer *Deliverer, kv store.Store, log zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 || cfg.Workers > 64 {
		return nil, fmt.Errorf("WEBHOOK_WORKERS must be 1–64, got %d", cfg.Workers)
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 4096
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Second
	}
	return &Pool{
		cfg:       cfg,
		jobs:      make(chan Job, cfg.QueueDepth),
		deliverer: deliverer,
		kv:        kv,
		log:       log,
	}, nil
}

// Start launches the worker goroutines. ctx controls worker lifetime.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue attempts a non-blocking send. Returns false if the buffer is full;
// the caller's check path is never blocked by delivery.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.jobs <- job:
		metrics.WebhookJobsEnqueued.Inc()
		return true
	default:
		metrics.WebhookJobsDropped.WithLabelValues("buffer_full").Inc()
		p.log.Warn().Str("url", job.URL).Str("key", job.Payload.Key).
			Msg("webhook job dropped: queue full")
		return false
	}
}

// Stop closes the job channel and waits for all workers to drain.
// Safe to call only once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

// Depth returns the current number of pending jobs.
func (p *Pool) Depth() int {
	return len(p.jobs)
}

// worker dequeues jobs and processes them with inline retry (no re-enqueue).
// A job already accepted runs to completion or recorded failure; only the
// waits between attempts are cancellable at shutdown.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return // channel closed by Stop()
			}
			metrics.WebhookQueueDepth.Set(float64(len(p.jobs)))
			p.processWithRetry(ctx, job, log)
		}
	}
}

func (p *Pool) processWithRetry(ctx context.Context, job Job, log zerolog.Logger) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.backoff(attempt - 1)
			log.Warn().Str("url", job.URL).Int("attempt", attempt).
				Dur("backoff", backoff).Msg("retrying webhook delivery")
			select {
			case <-ctx.Done():
				metrics.WebhookJobsProcessed.WithLabelValues("abandoned").Inc()
				p.recordFailure(job, fmt.Errorf("shutdown before retry: %w", lastErr), attempt)
				return
			case <-time.After(backoff):
			}
		}

		if err := p.deliverer.Deliver(ctx, job.URL, job.Payload); err != nil {
			lastErr = err
			if attempt < p.cfg.MaxRetries {
				metrics.WebhookJobsProcessed.WithLabelValues("retried").Inc()
				continue
			}
			metrics.WebhookJobsProcessed.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("url", job.URL).Str("key", job.Payload.Key).
				Int("max_retries", p.cfg.MaxRetries).Msg("webhook delivery failed: max retries exceeded")
			p.recordFailure(job, err, attempt+1)
			return
		}

		metrics.WebhookJobsProcessed.WithLabelValues("success").Inc()
		log.Debug().Str("url", job.URL).Str("key", job.Payload.Key).
			Int("threshold", job.Payload.Threshold).Msg("webhook delivered")
		return
	}
}

// recordFailure writes the operator-visible failure record. Errors here are
// logged and swallowed: the notification path never propagates upward.
func (p *Pool) recordFailure(job Job, err error, attempts int) {
	if p.kv == nil {
		return
	}
	rec := FailureRecord{
		URL:      job.URL,
		Payload:  job.Payload,
		Error:    err.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}
	raw, merr := json.Marshal(&rec)
	if merr != nil {
		p.log.Error().Err(merr).Msg("encode webhook failure record")
		return
	}
	key := fmt.Sprintf("webhook:failed:%d:%s", time.Now().UnixNano(), job.Payload.Key)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := p.kv.Set(ctx, key, raw, failureRecordTTL); serr != nil {
		p.log.Error().Err(serr).Str("key", key).Msg("persist webhook failure record")
	}
}

// backoff computes exponential backoff with a max cap.
func (p *Pool) backoff(retries int) time.Duration {
	multiplier := math.Pow(2, float64(retries))
	d := time.Duration(float64(p.cfg.RetryBase) * multiplier)
	if max := 5 * time.Minute; d > max {
		d = max
	}
	return d
}
