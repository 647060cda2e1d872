// Package app wires the routing components from configuration. Both the server and
// routingctl build on it so they see the same stores, caches and brokers.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/cache"
	"github.com/ClareAI/astra-routing-service/internal/config"
	"github.com/ClareAI/astra-routing-service/internal/core/event"
	"github.com/ClareAI/astra-routing-service/internal/core/task"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/internal/repository/memory"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/ClareAI/astra-routing-service/internal/services/archive"
	"github.com/ClareAI/astra-routing-service/internal/services/escalation"
	"github.com/ClareAI/astra-routing-service/internal/services/sweeper"
	"github.com/ClareAI/astra-routing-service/pkg/gcs"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/ClareAI/astra-routing-service/pkg/pubsub"
	"github.com/ClareAI/astra-routing-service/pkg/rabbitmq"
	"github.com/ClareAI/astra-routing-service/pkg/redis"
	"github.com/ClareAI/astra-routing-service/pkg/twilio"
	"go.uber.org/zap"
)

const producerName = "astra-routing-service"

// App holds the wired routing components
type App struct {
	Config    *config.RoutingConfig
	Repos     repository.RepositoryManager
	Events    *event.DefaultEventBus
	Redis     *redis.RedisService
	TaskBus   task.Bus
	RuleCache *cache.RuleCache
	Balancer  *routing.LoadBalancer
	Evaluator *routing.EscalationEvaluator
	Notifier  *escalation.Notifier
	Sweeper   *sweeper.Sweeper
	// Archiver is nil unless ARCHIVE_GCS_BUCKET is set
	Archiver *archive.Exporter

	started bool
	closers []func() error
}

// Build connects the stores and optional brokers. Optional integrations that fail to
// connect are logged and left disabled; only the routing store is required.
func Build(ctx context.Context, cfg *config.RoutingConfig) (*App, error) {
	a := &App{Config: cfg}

	repos, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Repos = repos
	a.closers = append(a.closers, repos.Close)

	a.Events = event.NewEventBus()
	for _, m := range event.CreateProductionMiddlewareChain() {
		a.Events.Use(m)
	}

	if cfg.RedisEnabled() {
		redisCfg := cfg.Redis
		svc, err := redis.NewRedisService(&redisCfg)
		if err != nil {
			logger.Base().Warn("failed to initialize redis service, running without task bus and sweeper lock", zap.Error(err))
		} else {
			a.Redis = svc
			a.TaskBus = task.NewRedisBus(svc)
			a.closers = append(a.closers, svc.Close)
			logger.Base().Info("redis task bus initialized", zap.String("host", cfg.Redis.Host))
		}
	}

	a.RuleCache = cache.NewRuleCache(cfg.RuleCacheSize, cfg.RuleCacheTTL, a.TaskBus)
	registry := routing.NewRuleRegistry(repos, a.RuleCache)
	a.Balancer = routing.NewLoadBalancer(repos, registry, a.Events, routing.BalancerOptions{
		AssignTimeout:        cfg.AssignTimeout,
		DefaultMaxConcurrent: cfg.DefaultMaxConcurrent,
	})
	a.Evaluator = routing.NewEscalationEvaluator(repos, registry, nil)

	a.connectBroker(ctx)
	a.Notifier = a.buildNotifier(ctx)

	sweepOpts := sweeper.Options{Interval: cfg.SweepInterval, LockTTL: cfg.SweeperLockTTL, ClaimTimeout: cfg.ClaimTimeout}
	if a.Redis != nil {
		sweepOpts.Locker = a.Redis
	}
	a.Sweeper = sweeper.New(repos, a.Balancer, a.Evaluator, a.Notifier, sweepOpts)

	if cfg.ArchiveBucket != "" {
		client, err := gcs.NewGCSClient(ctx, cfg.ArchiveBucket)
		if err != nil {
			logger.Base().Warn("failed to initialize gcs client, history archive disabled", zap.Error(err))
		} else {
			a.Archiver = archive.NewExporter(a.Balancer, client, "")
			a.closers = append(a.closers, client.Close)
		}
	}

	return a, nil
}

// Start subscribes to the task bus and starts the periodic sweeper
func (a *App) Start(ctx context.Context) error {
	if a.TaskBus != nil {
		err := a.TaskBus.Subscribe(ctx, func(t task.RoutingTask) {
			a.RuleCache.HandleTask(t)
			a.Sweeper.HandleTask(t)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to routing tasks: %w", err)
		}
	}
	a.Sweeper.Start(ctx)
	a.started = true
	return nil
}

// RequestDrain asks whichever instance picks up the task to drain the tenant's queue.
// Without a task bus the queue is drained in this process.
func (a *App) RequestDrain(ctx context.Context, tenantID string) ([]*routing.AssignResult, error) {
	if a.TaskBus == nil {
		return a.Balancer.DrainQueue(ctx, tenantID)
	}
	err := a.TaskBus.Publish(ctx, task.RoutingTask{Type: task.TaskTypeDrainQueue, TenantID: tenantID, Origin: producerName})
	return nil, err
}

// Close stops background work and releases connections in reverse order
func (a *App) Close() error {
	if a.started {
		a.Sweeper.Stop()
	}
	a.Events.Close()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStore(cfg *config.RoutingConfig) (repository.RepositoryManager, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Base().Warn("using in-memory routing store; state is lost on restart")
		return memory.NewManager(), nil
	case config.StorePostgres:
		repos, err := repository.NewRepositoryManager(cfg.Migrate)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return repos, nil
	default:
		return nil, fmt.Errorf("unknown routing store %q", cfg.Store)
	}
}

func (a *App) connectBroker(ctx context.Context) {
	if a.Config.RabbitMQURL == "" {
		logger.Base().Info("rabbitmq not configured, routing events stay in process")
		return
	}
	publisher, err := rabbitmq.NewPublisher(ctx, rabbitmq.Config{
		URL:           a.Config.RabbitMQURL,
		Exchange:      a.Config.RabbitMQExchange,
		RetryAttempts: 5,
		RetryDelay:    time.Second,
	})
	if err != nil {
		logger.Base().Warn("failed to connect to rabbitmq, event forwarding disabled", zap.Error(err))
		return
	}
	if err := event.ForwardToBroker(a.Events, publisher, producerName); err != nil {
		publisher.Close()
		logger.Base().Warn("failed to subscribe event forwarder", zap.Error(err))
		return
	}
	a.closers = append(a.closers, publisher.Close)
}

func (a *App) buildNotifier(ctx context.Context) *escalation.Notifier {
	cfg := a.Config
	opts := escalation.Options{
		SMS:           twilio.NewSMSService(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber),
		Events:        a.Events,
		RatePerSecond: cfg.NotifyRatePerSecond,
		Burst:         cfg.NotifyBurst,
	}

	if cfg.PubSubProjectID != "" {
		svc, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubEscalationTopic,
			PubID:     cfg.PubSubPubID,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub, email and in-app escalations disabled", zap.Error(err))
		} else {
			opts.Publisher = svc
			a.closers = append(a.closers, svc.Close)
		}
	}

	return escalation.NewNotifier(opts)
}
