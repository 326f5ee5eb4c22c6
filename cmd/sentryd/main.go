// Command sentryd is the analytical core's process entrypoint: it wires
// the ledger clients, collector pool, entity/label store, risk engine,
// pattern detector, attribution engine, evidence vault, case store,
// compliance assessor, alert rule engine, webhook dispatcher, and
// scheduler into one running service and exposes them over HTTP.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/alerting"
	"github.com/jackdawsentry/sentry-core/internal/attribution"
	"github.com/jackdawsentry/sentry-core/internal/auth"
	"github.com/jackdawsentry/sentry-core/internal/cases"
	"github.com/jackdawsentry/sentry-core/internal/collector"
	"github.com/jackdawsentry/sentry-core/internal/compliance"
	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/entitystore"
	"github.com/jackdawsentry/sentry-core/internal/evidence"
	"github.com/jackdawsentry/sentry-core/internal/httpapi"
	"github.com/jackdawsentry/sentry-core/internal/ledger"
	"github.com/jackdawsentry/sentry-core/internal/pattern"
	"github.com/jackdawsentry/sentry-core/internal/platform/cache"
	"github.com/jackdawsentry/sentry-core/internal/platform/config"
	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
	"github.com/jackdawsentry/sentry-core/internal/platform/metrics"
	"github.com/jackdawsentry/sentry-core/internal/platform/middleware"
	"github.com/jackdawsentry/sentry-core/internal/platform/security"
	"github.com/jackdawsentry/sentry-core/internal/reports"
	"github.com/jackdawsentry/sentry-core/internal/risk"
	"github.com/jackdawsentry/sentry-core/internal/scheduler"
	"github.com/jackdawsentry/sentry-core/internal/setup"
	"github.com/jackdawsentry/sentry-core/internal/threatfeed"
	"github.com/jackdawsentry/sentry-core/internal/webhook"
)

func main() {
	ctx := context.Background()
	logger := logging.New("sentryd", config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))

	db, err := dbstore.Open(ctx, dbstore.ConfigFromEnv())
	if err != nil {
		log.Fatalf("CRITICAL: failed to connect to database: %v", err)
	}
	defer db.Close()

	migrationsPath := config.GetEnv("MIGRATIONS_PATH", "migrations")
	if err := db.Migrate(migrationsPath); err != nil {
		log.Fatalf("CRITICAL: failed to apply migrations: %v", err)
	}

	privateKey, publicKey := loadOrGenerateJWTKeys(logger)

	metricsCollector := metrics.New("sentryd")

	var redisCache *cache.RedisCache
	if addr := config.GetEnv("REDIS_ADDR", ""); addr != "" {
		redisCache = cache.NewRedisCache(cache.RedisConfig{
			Addr: addr, Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB: config.GetEnvInt("REDIS_DB", 0), Prefix: "sentry:",
		})
	}

	entities := entitystore.New(db, redisCache)
	riskEngine := risk.New(risk.DefaultConfig())

	labelChecker := func(ctx context.Context, chain domain.Chain, address string, kind string) (bool, error) {
		return entities.HasLabelKind(ctx, domain.LabelTarget{Kind: "address", ID: string(chain) + ":" + address}, kind)
	}
	mixerEntities := func(ctx context.Context, chain domain.Chain, address string) (bool, error) {
		return entities.HasLabelKind(ctx, domain.LabelTarget{Kind: "address", ID: string(chain) + ":" + address}, "mixer")
	}
	matchStore := pattern.NewMemMatchStore()
	patterns := pattern.New(pattern.DefaultThresholds(), labelChecker, mixerEntities, matchStore)

	linkLog := attribution.NewMemLinkLog()
	attributionEngine := attribution.New(linkLog)

	evidenceRoot := config.GetEnv("EVIDENCE_ROOT", "./data/evidence")
	vault := evidence.New(evidenceRoot, db)
	caseStore := cases.New(db)
	complianceRegistry := compliance.DefaultRegistry()
	assessor := compliance.New(complianceRegistry)
	reportStore := reports.New(db)

	ruleStore := alerting.NewDBRuleStore(db)
	alertEngine := alerting.New(ruleStore)

	sinkStore := webhook.NewDBSinkStore(db)
	dispatcher := webhook.New(sinkStore, webhook.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, RequestTimeout: 10 * time.Second})

	feeds := threatfeed.NewRegistry()
	feedSyncer := threatfeed.NewSyncer(feeds, entities, nil)

	ledgerRegistry := ledger.NewRegistry()
	registerLedgerClients(ledgerRegistry, logger)

	cursorStore := collector.NewMemCursorStore()
	analysisCh := make(chan domain.Transaction, 256)
	orphanCh := make(chan collector.OrphanEvent, 32)
	collectorPool := collector.NewPool(ledgerRegistry, cursorStore, analysisCh, orphanCh)

	jobScheduler := scheduler.New(metricsCollector)
	bootstrapper := setup.New(db)
	authenticator := auth.New(db, privateKey)

	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		PublicKey: publicKey,
		Logger:    logger,
		SkipPaths: httpapi.SkipAuthPaths,
	})

	deps := httpapi.Dependencies{
		Entities: entities, Risk: riskEngine, Patterns: patterns, Attribution: attributionEngine,
		Evidence: vault, Cases: caseStore, Compliance: assessor, Reports: reportStore,
		Alerts: alertEngine, Rules: ruleStore, Webhooks: dispatcher, Sinks: sinkStore,
		Scheduler: jobScheduler, Setup: bootstrapper, Feeds: feeds, FeedSync: feedSyncer,
		Ledgers: ledgerRegistry, Collectors: collectorPool,
		Authenticator: authenticator, Auth: authMiddleware,
		Logger: logger, Metrics: metricsCollector, Version: config.GetEnv("VERSION", "dev"),
		GatewaySharedSecret: config.GetEnv("GATEWAY_SHARED_SECRET", ""),
		EvidenceReplay:      security.NewReplayProtection(10*time.Minute, logger),
		AllowedOrigins:      config.SplitAndTrimCSV(config.GetEnv("CORS_ALLOWED_ORIGINS", "")),
	}

	go runAnalysisPipeline(ctx, analysisCh, patterns, alertEngine, dispatcher, logger)
	go drainOrphans(ctx, orphanCh, logger)

	chainConfigs := chainConfigsFromEnv()
	if len(chainConfigs) > 0 {
		if err := collectorPool.StartAll(ctx, chainConfigs); err != nil {
			logger.WithError(err).Error("failed to start collector pool")
		}
	}
	jobScheduler.Start(ctx)

	router := httpapi.New(deps)
	server := &http.Server{
		Addr:         ":" + config.GetEnv("PORT", "8080"),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.OnShutdown(func() { collectorPool.StopAll(10 * time.Second) })
	shutdown.OnShutdown(func() { jobScheduler.Stop(10 * time.Second) })
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("sentryd listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("CRITICAL: http server failed: %v", err)
	}
	shutdown.Wait()
}

// runAnalysisPipeline is the only consumer of the collector pool's
// analysis channel: every normalised transaction runs through pattern
// detection, and any match is evaluated against alert rules and
// dispatched to registered webhooks (spec §4 component ownership: C2
// feeds C5, C5/C10 feed C11).
func runAnalysisPipeline(ctx context.Context, in <-chan domain.Transaction, patterns *pattern.Detector, alerts *alerting.Engine, dispatcher *webhook.Dispatcher, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-in:
			if !ok {
				return
			}
			matches, err := patterns.Ingest(ctx, tx)
			if err != nil {
				logger.WithError(err).Error("pattern ingest failed")
				continue
			}
			for _, m := range matches {
				event := map[string]interface{}{
					"chain": string(tx.Chain), "tx_hash": tx.TxHash, "pattern": string(m.Kind),
					"confidence": m.Confidence, "addresses": m.Addresses,
				}
				notifications, err := alerts.Evaluate(ctx, string(m.Kind), event)
				if err != nil {
					logger.WithError(err).Error("alert evaluation failed")
					continue
				}
				for _, n := range notifications {
					if err := dispatcher.Dispatch(ctx, n); err != nil {
						logger.WithError(err).Error("webhook dispatch failed")
					}
				}
			}
		}
	}
}

func drainOrphans(ctx context.Context, in <-chan collector.OrphanEvent, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-in:
			if !ok {
				return
			}
			logger.WithFields(map[string]interface{}{"chain": string(o.Chain), "height": o.Height, "tx_hash": o.TxHash}).
				Warn("collector observed an orphaned block")
		}
	}
}

// chainConfigsFromEnv reads CHAINS as a CSV of chain identifiers
// (e.g. "bitcoin,ethereum"); every chain gets the same tuning from
// COLLECTOR_BATCH_SIZE, COLLECTOR_BACKOFF_BASE and COLLECTOR_BACKOFF_CAP,
// defaulting otherwise.
func chainConfigsFromEnv() []collector.ChainConfig {
	chains := config.SplitAndTrimCSV(config.GetEnv("CHAINS", ""))
	configs := make([]collector.ChainConfig, 0, len(chains))
	for _, c := range chains {
		configs = append(configs, collector.ChainConfig{
			Chain:       domain.Chain(c),
			BatchSize:   uint64(config.GetEnvInt("COLLECTOR_BATCH_SIZE", 50)),
			BackoffBase: config.ParseDurationOrDefault(config.GetEnv("COLLECTOR_BACKOFF_BASE", ""), time.Second),
			BackoffCap:  config.ParseDurationOrDefault(config.GetEnv("COLLECTOR_BACKOFF_CAP", ""), time.Minute),
		})
	}
	return configs
}

// registerLedgerClients wires an account-model or UTXO client for each
// chain named in LEDGER_CHAINS, each pointed at its own explorer base URL
// (spec §4.1: C1 adapts both chain families to one Client contract).
func registerLedgerClients(registry *ledger.Registry, logger *logging.Logger) {
	for _, c := range config.SplitAndTrimCSV(config.GetEnv("LEDGER_CHAINS", "")) {
		chain := domain.Chain(c)
		baseURL := config.GetEnv("LEDGER_"+strings.ToUpper(c)+"_URL", "")
		if baseURL == "" {
			logger.WithFields(map[string]interface{}{"chain": c}).Warn("no ledger URL configured, skipping chain")
			continue
		}
		timeout := config.ParseDurationOrDefault(config.GetEnv("LEDGER_"+strings.ToUpper(c)+"_TIMEOUT", ""), 10*time.Second)
		if config.GetEnvBool("LEDGER_"+strings.ToUpper(c)+"_UTXO", false) {
			client, err := ledger.NewUTXOClient(ledger.UTXOConfig{Chain: chain, BaseURL: baseURL, RequestTimeout: timeout})
			if err != nil {
				logger.WithFields(map[string]interface{}{"chain": c, "error": err.Error()}).Warn("invalid ledger URL, skipping chain")
				continue
			}
			registry.Register(client)
		} else {
			dialect := ledger.Dialect(config.GetEnv("LEDGER_"+strings.ToUpper(c)+"_DIALECT", string(ledger.DialectNeo)))
			client, err := ledger.NewAccountClient(ledger.AccountConfig{
				Chain: chain, Dialect: dialect, RPCURL: baseURL, RequestTimeout: timeout,
				NativeAsset: config.GetEnv("LEDGER_"+strings.ToUpper(c)+"_ASSET", "native"),
			})
			if err != nil {
				logger.WithFields(map[string]interface{}{"chain": c, "error": err.Error()}).Warn("invalid ledger URL, skipping chain")
				continue
			}
			registry.Register(client)
		}
	}
}

// loadOrGenerateJWTKeys loads an RSA keypair from JWT_PRIVATE_KEY_PATH/
// JWT_PUBLIC_KEY_PATH, generating an ephemeral development keypair (with a
// loud warning) when unset, mirroring the teacher's insecure-default
// pattern for local onboarding.
func loadOrGenerateJWTKeys(logger *logging.Logger) (*rsa.PrivateKey, *rsa.PublicKey) {
	privPath := config.GetEnv("JWT_PRIVATE_KEY_PATH", "")
	pubPath := config.GetEnv("JWT_PUBLIC_KEY_PATH", "")
	if privPath != "" && pubPath != "" {
		privBytes, err := os.ReadFile(privPath)
		if err != nil {
			log.Fatalf("CRITICAL: failed to read JWT_PRIVATE_KEY_PATH: %v", err)
		}
		pubBytes, err := os.ReadFile(pubPath)
		if err != nil {
			log.Fatalf("CRITICAL: failed to read JWT_PUBLIC_KEY_PATH: %v", err)
		}
		priv, err := middleware.ParseRSAPrivateKeyFromPEM(privBytes)
		if err != nil {
			log.Fatalf("CRITICAL: invalid JWT private key: %v", err)
		}
		pub, err := middleware.ParseRSAPublicKeyFromPEM(pubBytes)
		if err != nil {
			log.Fatalf("CRITICAL: invalid JWT public key: %v", err)
		}
		return priv, pub
	}

	if config.IsProduction() {
		log.Fatalf("CRITICAL: JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH are required in production")
	}
	logger.Warn(context.Background(), "generating an ephemeral JWT keypair - do not use in production", nil)
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("CRITICAL: failed to generate development JWT keypair: %v", err)
	}
	return priv, &priv.PublicKey
}
