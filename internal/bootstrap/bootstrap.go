package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/maintenance-supervisor/internal/config"
	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
	"github.com/kirillkom/maintenance-supervisor/internal/core/usecase"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/gmail"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/llm/cerebras"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/lock"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/notion"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/queue/nats"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/repository/memory"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/resilience"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/slack"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/storage/localfs"
)

// Options carries process-specific collaborators into New.
type Options struct {
	Logger             *slog.Logger
	Observer           ports.PipelineObserver
	ResilienceObserver resilience.Observer
}

type App struct {
	Config config.Config

	Store    ports.OutcomeStore
	Source   ports.EmailSource
	Archive  *localfs.Storage
	Queue    *nats.Queue
	Digest   ports.DigestPublisher
	Pipeline *usecase.PipelineUseCase
	Stats    *usecase.StatsUseCase
	Reports  *usecase.ReportUseCase
	Inbox    *usecase.InboxUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, options Options) (*App, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg))
	if options.ResilienceObserver != nil {
		executor.WithObserver(options.ResilienceObserver)
	}

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		closers = append(closers, func() { _ = db.Close() })
		// One pinned connection per locked email plus one per store call.
		db.SetMaxOpenConns(max(10, 2*cfg.BatchConcurrency+2))
	}

	archive, err := localfs.New(cfg.StoragePath)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init raw response archive: %w", err)
	}

	var rdb *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err = lock.NewClient(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init redis lock: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
	}
	locker, lockKind := newLocker(cfg, rdb, db, logger)

	var queue *nats.Queue
	if strings.TrimSpace(cfg.NATSURL) != "" {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		closers = append(closers, queue.Close)
	}

	source := newSource(ctx, cfg, executor, logger)
	model, writer := newModel(cfg, executor)
	tasks := newTaskStore(cfg, executor)
	notifier, digest := newNotifier(cfg, executor)

	pipeline := usecase.NewPipelineUseCase(store, source, model, tasks, notifier, usecase.PipelineOptions{
		StageTimeout:     cfg.StageTimeout(),
		BatchConcurrency: cfg.BatchConcurrency,
		Locker:           locker,
		Archive:          archive,
		Observer:         options.Observer,
	})

	logger.Info("bootstrap_ready",
		"store", storeKind(cfg),
		"llm_provider", cfg.LLMProvider,
		"gmail", cfg.GmailConfigured(),
		"notion", cfg.NotionConfigured(),
		"slack", cfg.SlackConfigured(),
		"queue", queue != nil,
		"email_lock", lockKind,
	)

	return &App{
		Config:   cfg,
		Store:    store,
		Source:   source,
		Archive:  archive,
		Queue:    queue,
		Digest:   digest,
		Pipeline: pipeline,
		Stats:    usecase.NewStatsUseCase(store, cfg.RecentLimit),
		Reports:  usecase.NewReportUseCase(store, writer, digest, cfg.RecentLimit),
		Inbox:    usecase.NewInboxUseCase(source, model, store, cfg.StageTimeout()),
		closeFn:  closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func storeKind(cfg config.Config) string {
	if strings.TrimSpace(cfg.PostgresDSN) != "" {
		return "postgres"
	}
	return "memory"
}

// openStore returns the database handle alongside the store when the store
// is shared, so the email lock can live in the same database.
func openStore(ctx context.Context, cfg config.Config) (ports.OutcomeStore, *sql.DB, error) {
	if storeKind(cfg) == "memory" {
		return memory.NewOutcomeStore(), nil, nil
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewOutcomeRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, db, nil
}

// newLocker picks the widest lock available. A shared store without Redis
// still needs a cross-process lock, otherwise two workers may file the same
// email twice.
func newLocker(cfg config.Config, rdb *redis.Client, db *sql.DB, logger *slog.Logger) (ports.EmailLocker, string) {
	local := usecase.NewKeyedLocker()
	switch {
	case rdb != nil:
		return newRedisLocker(rdb, local, cfg, logger), "redis"
	case db != nil:
		return postgres.NewAdvisoryLocker(db, local, logger), "postgres"
	default:
		return local, "process"
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	rc.RetryInitialBackoff = time.Duration(cfg.ResilienceRetryInitialMS) * time.Millisecond
	rc.RetryMaxBackoff = time.Duration(cfg.ResilienceRetryMaxMS) * time.Millisecond
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		rc.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	rc.BreakerOpenTimeout = time.Duration(cfg.ResilienceBreakerOpenSeconds) * time.Second
	return rc
}

func newRedisLocker(rdb *redis.Client, local ports.EmailLocker, cfg config.Config, logger *slog.Logger) ports.EmailLocker {
	return lock.NewRedisLocker(rdb, local, lock.Options{
		TTL:    time.Duration(cfg.LockTTLSeconds) * time.Second,
		Logger: logger,
	})
}

func newSource(ctx context.Context, cfg config.Config, executor *resilience.Executor, logger *slog.Logger) ports.EmailSource {
	if !cfg.GmailConfigured() {
		return unconfigured{service: "gmail"}
	}
	return gmail.New(gmail.Options{
		BaseURL:            cfg.GmailBaseURL,
		User:               cfg.GmailUser,
		HTTPClient:         gmail.NewOAuthClient(context.WithoutCancel(ctx), cfg.GmailClientID, cfg.GmailClientSecret, cfg.GmailRefreshToken),
		ResilienceExecutor: executor,
		Logger:             logger,
	})
}

// newModel returns the classifier and the report writer of the configured
// provider. Without a provider the writer is nil and reports go out plain.
func newModel(cfg config.Config, executor *resilience.Executor) (ports.ClassificationModel, ports.ReportWriter) {
	if !cfg.LLMConfigured() {
		return unconfigured{service: "llm provider " + cfg.LLMProvider}, nil
	}
	if cfg.LLMProvider == "cerebras" {
		client := cerebras.New(cfg.CerebrasURL, cfg.CerebrasAPIKey, cfg.CerebrasModel, cerebras.Options{
			ResilienceExecutor: executor,
		})
		return client, client
	}
	client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, ollama.Options{ResilienceExecutor: executor})
	return ollama.NewClassifier(client), ollama.NewReporter(client)
}

func newTaskStore(cfg config.Config, executor *resilience.Executor) ports.TaskStore {
	if !cfg.NotionConfigured() {
		return unconfigured{service: "notion"}
	}
	return notion.New(cfg.NotionToken, cfg.NotionDatabaseID, notion.Options{ResilienceExecutor: executor})
}

func newNotifier(cfg config.Config, executor *resilience.Executor) (ports.Notifier, ports.DigestPublisher) {
	if !cfg.SlackConfigured() {
		u := unconfigured{service: "slack"}
		return u, u
	}
	n := slack.New(cfg.SlackBotToken, cfg.SlackChannelID, slack.Options{ResilienceExecutor: executor})
	return n, n
}

// unconfigured stands in for a collaborator whose credentials are missing.
// Every call fails, so the affected stage is recorded as failed and can be
// retried once the credentials are provided.
type unconfigured struct {
	service string
}

func (u unconfigured) err(op string) error {
	return domain.WrapError(domain.ErrUnauthorized, op, fmt.Errorf("%s is not configured", u.service))
}

func (u unconfigured) FetchUnread(context.Context, int) iter.Seq2[domain.EmailRecord, error] {
	return func(yield func(domain.EmailRecord, error) bool) {
		yield(domain.EmailRecord{}, u.err("fetch unread"))
	}
}

func (u unconfigured) Fetch(context.Context, string) (domain.EmailRecord, error) {
	return domain.EmailRecord{}, u.err("fetch email")
}

func (u unconfigured) Classify(context.Context, string, string) (string, error) {
	return "", u.err("classify")
}

func (u unconfigured) CreateTask(context.Context, domain.EmailRecord, domain.Classification) (domain.Reference, error) {
	return domain.Reference{}, u.err("create task")
}

func (u unconfigured) Notify(context.Context, domain.Notification) (domain.Reference, error) {
	return domain.Reference{}, u.err("notify")
}

func (u unconfigured) Digest(context.Context, domain.Report) (domain.Reference, error) {
	return domain.Reference{}, u.err("post digest")
}
