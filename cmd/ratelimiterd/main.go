package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/config"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/gate"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/logger"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/notify"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/rule"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
	httptransport "github.com/PrakarshSingh5/Rate-limiter-service/internal/transport/http"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "ratelimiterd",
		Short: "Distributed admission-control (rate limiting) service",
	}

	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
		checkCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the rate limiter daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Str("store", cfg.StoreBackend).Msg("ratelimiterd starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rules, err := rule.NewStore(ctx, st, log)
	if err != nil {
		return fmt.Errorf("init rule catalog: %w", err)
	}

	notify.SetUserAgentVersion(Version)
	deliverer := notify.NewDeliverer(cfg.WebhookTimeout, cfg.WebhookSecret)
	pool, err := notify.NewPool(notify.Config{
		Workers:    cfg.WebhookWorkers,
		QueueDepth: cfg.WebhookQueueDepth,
		MaxRetries: cfg.WebhookMaxRetries,
		RetryBase:  cfg.WebhookRetryBase,
	}, deliverer, st, log)
	if err != nil {
		return fmt.Errorf("create webhook pool: %w", err)
	}
	pool.Start(ctx)
	defer pool.Stop()

	svc, err := gate.New(st, rules, pool, gate.Options{
		DefaultThresholds: cfg.DefaultThresholds,
		DefaultWebhookURL: cfg.WebhookURL,
	}, log)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	janitor := gate.NewJanitor(st, pool, cfg.JanitorInterval, log)
	go func() {
		if err := janitor.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("janitor exited")
		}
	}()

	api := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httptransport.NewServer(svc, cfg.FailOpen, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("API server listening")
		if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("api shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("metrics shutdown")
			}
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("ratelimiterd stopped")
	return err
}

// buildStore selects the store backend from config.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		return store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.StoreTimeout,
		})
	case "bbolt":
		return store.NewBbolt(cfg.DataDir)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// buildLogger constructs the zerolog root logger with secret redaction.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = logger.NewRedactWriter(os.Stderr)
	if cfg.LogFormat == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// healthcheckCmd exits 0 if the local daemon is healthy.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + hostport(cfg.ListenAddr) + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// hostport normalises a listen address like ":8080" for client use.
func hostport(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ratelimiterd %s\n", Version)
		},
	}
}

// checkCmd runs a single admission check against the configured store.
func checkCmd() *cobra.Command {
	var (
		key       string
		endpoint  string
		ruleID    string
		algorithm string
		limit     int64
		window    int64
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a one-shot admission check and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := buildLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout+5*time.Second)
			defer cancel()

			st, err := buildStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			rules, err := rule.NewStore(ctx, st, log)
			if err != nil {
				return fmt.Errorf("init rule catalog: %w", err)
			}
			svc, err := gate.New(st, rules, nil, gate.Options{
				DefaultThresholds: cfg.DefaultThresholds,
			}, log)
			if err != nil {
				return err
			}

			result, err := svc.Check(ctx, gate.CheckRequest{
				Key:       key,
				Endpoint:  endpoint,
				RuleID:    ruleID,
				Algorithm: algorithm,
				Limit:     limit,
				Window:    window,
			})
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
			if !result.Allowed {
				os.Exit(2)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "subject key (required)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "optional endpoint qualifier")
	cmd.Flags().StringVar(&ruleID, "rule", "", "rule id to check against")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "inline algorithm (token_bucket, fixed_window, sliding_window)")
	cmd.Flags().Int64Var(&limit, "limit", 0, "inline limit (requests per window)")
	cmd.Flags().Int64Var(&window, "window", 0, "inline window in seconds")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
