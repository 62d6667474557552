package bootstrap

import (
	"context"
	"fmt"
	"time"

	"jobsync_worker/adapter/out/messaging"
	"jobsync_worker/adapter/out/mongodb"
	"jobsync_worker/adapter/out/persistence"
	"jobsync_worker/adapter/out/provider"
	"jobsync_worker/config"
	"jobsync_worker/core/agent/llm"
	"jobsync_worker/core/port/out"
	"jobsync_worker/core/service/auth"
	"jobsync_worker/core/service/classification"
	"jobsync_worker/core/service/ingest"
	"jobsync_worker/core/service/job"
	"jobsync_worker/core/service/pending"
	"jobsync_worker/core/service/policy"
	"jobsync_worker/infra/database"
	"jobsync_worker/internal/memstore"
	"jobsync_worker/pkg/cache"
	"jobsync_worker/pkg/crypto"
	"jobsync_worker/pkg/httputil"
	"jobsync_worker/pkg/logger"
	"jobsync_worker/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	AccountRepo  out.MailAccountRepository
	LedgerRepo   out.LedgerRepository
	PendingRepo  out.PendingItemRepository
	JobRepo      out.JobRepository
	HistoryRepo  out.StatusHistoryRepository
	PolicyRepo   out.SyncPolicyRepository
	SyncRunRepo  out.SyncRunRepository
	MongoPinger  *mongodb.Pinger
	StateStore   out.OAuthStateStore
	RunLocker    out.RunLocker
	PolicyCache  out.JSONCache
	Publisher    out.EventPublisher
	Producer     *messaging.RedisProducer
	EventsMemory *memstore.Events

	// Providers
	GmailProvider   *provider.GmailAdapter
	OutlookProvider *provider.OutlookAdapter
	Fetchers        []out.MailFetcher
	Authenticators  []out.MailAuthenticator

	// Agent
	LLMClient *llm.Client

	// Services
	TokenManager   *auth.TokenManager
	OAuthService   *auth.OAuthService
	PolicyService  *policy.Service
	JobUpdater     *job.Updater
	JobService     *job.Service
	PendingService *pending.Service
	Pipeline       *ingest.Pipeline

	// Runner wraps Pipeline with run duration tracking.
	Runner     timedPipeline
	RunMetrics *metrics.Registry
}

// NewDependencies connects every configured backend and wires the services.
// Backends without configuration fall back to process-local stores outside
// production.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// =========================================================================
	// Token encryption
	// =========================================================================

	var enc *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		e, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return fail(fmt.Errorf("encryption: %w", err))
		}
		enc = e
	} else if cfg.IsProduction() {
		return fail(fmt.Errorf("ENCRYPTION_KEY is required in production"))
	} else {
		logger.Warn("ENCRYPTION_KEY not set, mail tokens are stored in plaintext")
	}

	// =========================================================================
	// MongoDB (accounts, ledger, pending items, jobs, settings)
	// =========================================================================

	if cfg.MongoDBURL != "" {
		logger.Debug("Connecting to MongoDB...")
		client, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			return fail(err)
		}
		deps.MongoDB = client
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})

		db := client.Database(cfg.MongoDBName)
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			return fail(fmt.Errorf("mongodb indexes: %w", err))
		}

		deps.AccountRepo = mongodb.NewMailAccountAdapter(db, enc)
		deps.LedgerRepo = mongodb.NewLedgerAdapter(db)
		deps.PendingRepo = mongodb.NewPendingAdapter(db)
		deps.JobRepo = mongodb.NewJobAdapter(db)
		deps.HistoryRepo = mongodb.NewStatusHistoryAdapter(db)
		deps.PolicyRepo = mongodb.NewSettingsAdapter(db)
		deps.MongoPinger = mongodb.NewPinger(client)
		logger.Info("MongoDB connected (database: %s)", cfg.MongoDBName)
	} else if cfg.IsProduction() {
		return fail(fmt.Errorf("MONGODB_URL is required in production"))
	} else {
		logger.Warn("MONGODB_URL not set, using in-memory stores")
		deps.AccountRepo = memstore.NewMailAccounts()
		deps.LedgerRepo = memstore.NewLedger()
		deps.PendingRepo = memstore.NewPendingItems()
		deps.JobRepo = memstore.NewJobs()
		deps.HistoryRepo = memstore.NewStatusHistory()
		deps.PolicyRepo = memstore.NewPolicies()
	}

	// =========================================================================
	// PostgreSQL (sync run log)
	// =========================================================================

	if cfg.DatabaseURL != "" {
		logger.Debug("Connecting to PostgreSQL...")
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("postgres: %w", err))
		}
		deps.DB = pool
		cleanups = append(cleanups, pool.Close)

		deps.SQLDB = database.NewSQLX(pool)
		runs := persistence.NewSyncRunAdapter(deps.SQLDB)
		if err := runs.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		deps.SyncRunRepo = runs

		stats := database.GetPoolStats(pool)
		logger.Info("PostgreSQL connected (pool: max=%d, idle=%d)", stats.MaxConns, stats.IdleConns)
	} else {
		logger.Warn("DATABASE_URL not set, sync runs are kept in memory")
		deps.SyncRunRepo = memstore.NewSyncRuns()
	}

	// =========================================================================
	// Redis (lock, oauth state, policy cache, streams)
	// =========================================================================

	if cfg.RedisURL != "" {
		logger.Debug("Connecting to Redis...")
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		deps.Redis = client
		cleanups = append(cleanups, func() { _ = client.Close() })

		deps.StateStore = persistence.NewRedisOAuthStateStore(client)
		deps.RunLocker = persistence.NewRedisRunLocker(client)
		deps.PolicyCache = cache.NewRedisCache(client, "jobsync:")
		deps.Producer = messaging.NewRedisProducer(client)
		deps.Publisher = deps.Producer
		logger.Info("Redis connected")
	} else if cfg.IsProduction() {
		return fail(fmt.Errorf("REDIS_URL is required in production"))
	} else {
		logger.Warn("REDIS_URL not set, run lock and oauth state are process-local")
		deps.StateStore = memstore.NewOAuthStates()
		deps.RunLocker = memstore.NewLocker()
		deps.EventsMemory = &memstore.Events{}
		deps.Publisher = deps.EventsMemory
	}

	// =========================================================================
	// Mail providers
	// =========================================================================

	if cfg.GoogleClientID != "" {
		deps.GmailProvider = provider.NewGmailAdapter(&provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   httputil.NewClient(httputil.GmailClientConfig(cfg.ProviderHTTPTimeout)),
		})
		deps.Fetchers = append(deps.Fetchers, deps.GmailProvider)
		deps.Authenticators = append(deps.Authenticators, deps.GmailProvider)
		logger.Info("Gmail provider configured")
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, Gmail accounts will report provider_not_configured")
	}

	if cfg.MicrosoftClientID != "" {
		deps.OutlookProvider = provider.NewOutlookAdapter(&provider.OutlookConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			TenantID:     cfg.MicrosoftTenantID,
			HTTPClient:   httputil.NewClient(httputil.OutlookClientConfig(cfg.ProviderHTTPTimeout)),
		})
		deps.Fetchers = append(deps.Fetchers, deps.OutlookProvider)
		deps.Authenticators = append(deps.Authenticators, deps.OutlookProvider)
		logger.Info("Outlook provider configured")
	} else {
		logger.Warn("MICROSOFT_CLIENT_ID not set, Outlook accounts will report provider_not_configured")
	}

	// =========================================================================
	// LLM
	// =========================================================================

	var completer out.ChatCompleter
	if cfg.OpenAIAPIKey != "" {
		deps.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
			Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
			JSONMode:    true,
		})
		completer = deps.LLMClient
		logger.Info("LLM configured (model: %s)", deps.LLMClient.Model())
	} else {
		logger.Warn("OPENAI_API_KEY not set, classification uses rules only")
	}

	// =========================================================================
	// Services
	// =========================================================================

	deps.TokenManager = auth.NewTokenManager(deps.AccountRepo, deps.Authenticators...)
	deps.OAuthService = auth.NewOAuthService(deps.AccountRepo, deps.StateStore, deps.Authenticators...)
	if deps.Producer != nil {
		// Only a stream reaches the worker; the in-memory sink would drop it.
		deps.OAuthService.SetEventPublisher(deps.Producer)
	}

	deps.PolicyService = policy.NewService(deps.PolicyRepo, deps.PolicyCache)
	deps.JobUpdater = job.NewUpdater(deps.JobRepo, deps.HistoryRepo)
	deps.JobService = job.NewService(deps.JobRepo, deps.HistoryRepo, deps.JobUpdater)
	deps.PendingService = pending.NewService(deps.PendingRepo, deps.JobUpdater, deps.Publisher)

	deps.Pipeline = ingest.NewPipeline(ingest.Deps{
		Accounts:   deps.AccountRepo,
		Tokens:     deps.TokenManager,
		Fetchers:   deps.Fetchers,
		Ledger:     ingest.NewLedger(deps.LedgerRepo),
		Classifier: classification.NewEngine(completer, classification.DefaultConfig()),
		Policies:   deps.PolicyService,
		Router:     ingest.NewRouter(deps.JobUpdater, deps.PendingRepo),
		Runs:       deps.SyncRunRepo,
		Locker:     deps.RunLocker,
		Publisher:  deps.Publisher,
	}, ingest.Config{
		DefaultLimit:   cfg.SyncDefaultLimit,
		MaxLimit:       cfg.SyncMaxLimit,
		MaxConcurrency: cfg.SyncMaxConcurrency,
		AccountTimeout: cfg.SyncAccountTimeout,
		LockTTL:        cfg.SyncLockTTL,
	})

	deps.RunMetrics = metrics.NewRegistry(500)
	deps.Runner = timedPipeline{Pipeline: deps.Pipeline, runs: deps.RunMetrics}

	return deps, cleanup, nil
}
