package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fuseid/internal/fused/models"
	"fuseid/internal/fused/store"
	"fuseid/internal/matcher"
	"fuseid/internal/platform/config"
	"fuseid/internal/platform/httpserver"
	"fuseid/internal/platform/logger"
	platformredis "fuseid/internal/platform/redis"
	"fuseid/internal/resolver"
	resolverhandler "fuseid/internal/resolver/handler"
	"fuseid/internal/resolver/metrics"
	"fuseid/internal/review"
	"fuseid/internal/similarity"
	"fuseid/internal/source"
	id "fuseid/pkg/domain"
	strs "fuseid/pkg/platform/strings"
)

// main wires the resolution engine: sources, fused store, matcher policies,
// review plumbing, and the HTTP surface. Business logic lives in the
// internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fusedStore, accounts, identities, cleanup, err := buildStorage(ctx, cfg, log)
	if err != nil {
		log.Error("storage initialization failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		log.Error("notifier initialization failed", "error", err)
		os.Exit(1)
	}
	defer closeNotifier()

	reviewers := review.NewReviewerRegistry()
	for reviewer, secret := range parseReviewers(os.Getenv("FUSEID_REVIEWERS")) {
		if err := reviewers.Register(reviewer, secret); err != nil {
			log.Error("reviewer registration failed", "reviewer", reviewer, "error", err)
			os.Exit(1)
		}
	}

	policies, err := loadPolicies(os.Getenv("FUSEID_POLICY_FILE"))
	if err != nil {
		log.Error("matching policy load failed", "error", err)
		os.Exit(1)
	}

	mergeRules, err := loadMergeRules(os.Getenv("FUSEID_MERGE_RULES_FILE"))
	if err != nil {
		log.Error("merge rule load failed", "error", err)
		os.Exit(1)
	}

	svc, err := resolver.NewService(fusedStore, accounts, identities, policies,
		resolver.WithMergeRules(mergeRules),
		resolver.WithLogger(log),
		resolver.WithNotifier(notifier),
		resolver.WithTokenService(review.NewTokenService(cfg.ReviewTokenKey, cfg.ReviewTokenTTL)),
		resolver.WithReviewerRegistry(reviewers),
		resolver.WithMetrics(metrics.New()),
		resolver.WithParallelism(cfg.PassParallelism),
		resolver.WithAuditHistoryMax(cfg.AuditHistoryMax),
	)
	if err != nil {
		log.Error("resolver initialization failed", "error", err)
		os.Exit(1)
	}

	go sweepOrphans(ctx, svc, cfg, log)

	router := chi.NewRouter()
	resolverhandler.New(svc, log).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting fuseid", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("fuseid stopped")
}

// buildStorage picks PostgreSQL-backed storage when configured, otherwise
// in-memory implementations for local development.
func buildStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, source.AccountSource, source.IdentitySource, func(), error) {
	if cfg.PostgresURL == "" {
		log.Warn("no postgres configured, using in-memory storage")
		mem := source.NewInMemorySource()
		return store.NewInMemoryStore(), mem, mem, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	fusedStore := store.NewPostgres(db)
	if err := fusedStore.Schema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, nil, err
	}
	src := source.NewPostgres(pool)

	var identities source.IdentitySource = src
	var closeRedis func() = func() {}
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		_ = db.Close()
		return nil, nil, nil, nil, err
	}
	if redisClient != nil {
		identities = source.NewCachedIdentitySource(src, redisClient.Client, cfg.Redis.CacheTTL,
			source.WithCacheLogger(log))
		closeRedis = func() { _ = redisClient.Close() }
	}

	cleanup := func() {
		closeRedis()
		pool.Close()
		_ = db.Close()
	}
	return fusedStore, src, identities, cleanup, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, log *slog.Logger) (review.Notifier, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return review.NewLogNotifier(log), func() {}, nil
	}
	kafka, err := review.NewKafkaNotifier(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic,
		review.WithKafkaLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return kafka, kafka.Close, nil
}

// parseReviewers reads "alice:secret,bob:secret" into a credential map.
func parseReviewers(raw string) map[id.ReviewerID]string {
	out := make(map[id.ReviewerID]string)
	for _, pair := range strs.DedupeAndTrim(strings.Split(raw, ",")) {
		reviewer, secret, ok := strings.Cut(pair, ":")
		if !ok || reviewer == "" || secret == "" {
			continue
		}
		out[id.ReviewerID(reviewer)] = secret
	}
	return out
}

// loadPolicies reads matching policies from a JSON file, falling back to the
// default person-matching set.
func loadPolicies(path string) ([]matcher.MatchingPolicy, error) {
	if path == "" {
		return []matcher.MatchingPolicy{
			{Attribute: "name", Algorithm: similarity.AlgorithmLIG3, Threshold: 80, Mandatory: true},
			{Attribute: "email", Algorithm: similarity.AlgorithmExact, Threshold: 100},
		}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var policies []matcher.MatchingPolicy
	if err := json.Unmarshal(raw, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// loadMergeRules reads per-attribute merge strategies from a JSON file, keyed
// by attribute name. Without a file, every attribute keeps first-write-wins.
func loadMergeRules(path string) (map[string]models.AttributeMergeRule, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules map[string]models.AttributeMergeRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func sweepOrphans(ctx context.Context, svc *resolver.Service, cfg config.Config, log *slog.Logger) {
	ticker := time.NewTicker(cfg.OrphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepOrphans(ctx, cfg.OrphanMaxAge); err != nil {
				log.Warn("orphan sweep failed", "error", err)
			}
		}
	}
}
