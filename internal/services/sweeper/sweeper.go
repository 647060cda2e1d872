package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/core/task"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/ClareAI/astra-routing-service/internal/services/escalation"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/ClareAI/astra-routing-service/pkg/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultLockTTL      = 25 * time.Second
	DefaultClaimTimeout = 2 * time.Minute
)

// Locker is a cluster-wide mutex; only the holder sweeps
type Locker interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
}

// Notifier delivers escalation alerts
type Notifier interface {
	Notify(ctx context.Context, settings *domain.TenantRoutingSettings, candidates []domain.EscalationCandidate) (escalation.Report, error)
}

// Options configures the sweeper
type Options struct {
	Interval time.Duration
	// Locker is optional; without it every instance sweeps
	Locker  Locker
	LockTTL time.Duration
	// ClaimTimeout is how long a queue entry may stay claimed before it is requeued
	ClaimTimeout time.Duration
	Now          func() time.Time
}

// Report summarizes one sweep
type Report struct {
	Skipped     bool `json:"skipped"`
	Reclaimed   int  `json:"reclaimed"`
	Tenants     int  `json:"tenants"`
	Assigned    int  `json:"assigned"`
	Escalations int  `json:"escalations"`
	Notified    int  `json:"notified"`
}

// Sweeper periodically drains every tenant's queue and raises SLA escalations
type Sweeper struct {
	repos     repository.RepositoryManager
	lb        *routing.LoadBalancer
	evaluator *routing.EscalationEvaluator
	notifier  Notifier
	locker    Locker
	lockKey   string
	lockTTL   time.Duration
	owner     string
	interval  time.Duration
	claimTTL  time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a sweeper; notifier may be nil to only log breaches
func New(repos repository.RepositoryManager, lb *routing.LoadBalancer, evaluator *routing.EscalationEvaluator, notifier Notifier, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = DefaultClaimTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{
		repos:     repos,
		lb:        lb,
		evaluator: evaluator,
		notifier:  notifier,
		locker:    opts.Locker,
		lockKey:   fmt.Sprintf("%s:global:", redis.SWEEPER_LOCK),
		lockTTL:   opts.LockTTL,
		owner:     uuid.NewString(),
		interval:  opts.Interval,
		claimTTL:  opts.ClaimTimeout,
		now:       opts.Now,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs SweepOnce every interval until Stop or ctx ends
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		logger.Base().Info("Started routing sweeper", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					logger.Error(ctx, "Routing sweep failed", zap.Error(err))
				}
			case <-s.stopChan:
				logger.Base().Info("Stopped routing sweeper")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop started by Start and waits for it
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

// SweepOnce requeues stale claims, then drains and checks escalations for every tenant
// with queued work or an SLA. It does nothing when another instance holds the sweeper lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report

	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, s.lockKey, s.owner, s.lockTTL)
		if err != nil {
			return report, err
		}
		if !ok {
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), s.lockKey, s.owner); err != nil {
				logger.Warn(ctx, "Failed to release sweeper lock", zap.Error(err))
			}
		}()
	}

	reclaimed, err := s.repos.Queue().RequeueStale(ctx, s.now().Add(-s.claimTTL))
	if err != nil {
		return report, fmt.Errorf("failed to requeue stale claims: %w", err)
	}
	report.Reclaimed = int(reclaimed)
	if reclaimed > 0 {
		logger.Warn(ctx, "Requeued stale queue claims", zap.Int64("count", reclaimed))
	}

	tenants, err := s.tenantIDs(ctx)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, tenantID := range tenants {
		tr, err := s.SweepTenant(ctx, tenantID)
		report.Tenants++
		report.Assigned += tr.Assigned
		report.Escalations += tr.Escalations
		report.Notified += tr.Notified
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}

	if report.Assigned > 0 || report.Escalations > 0 {
		logger.Info(ctx, "Routing sweep finished",
			zap.Int("tenants", report.Tenants),
			zap.Int("assigned", report.Assigned),
			zap.Int("escalations", report.Escalations))
	}
	return report, errors.Join(errs...)
}

// SweepTenant drains one tenant's queue and notifies its SLA breaches
func (s *Sweeper) SweepTenant(ctx context.Context, tenantID string) (Report, error) {
	var report Report
	ctx = logger.WithTenant(ctx, tenantID)

	results, err := s.lb.DrainQueue(ctx, tenantID)
	for _, r := range results {
		if r.Status == routing.StatusAssigned {
			report.Assigned++
		}
	}
	if err != nil {
		return report, fmt.Errorf("failed to drain queue: %w", err)
	}

	candidates, err := s.evaluator.CheckBreaches(ctx, tenantID)
	if err != nil {
		return report, fmt.Errorf("failed to check escalations: %w", err)
	}
	report.Escalations = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	if s.notifier == nil {
		for _, c := range candidates {
			logger.Warn(ctx, "SLA breached",
				zap.String("conversation_id", c.ConversationID),
				zap.String("state", string(c.State)),
				zap.Duration("elapsed", c.Elapsed))
		}
		return report, nil
	}

	settings, err := s.lb.Registry().GetSettings(ctx, tenantID)
	if err != nil {
		return report, err
	}
	nr, err := s.notifier.Notify(ctx, settings, candidates)
	report.Notified = nr.Notified
	return report, err
}

// HandleTask runs work requested by another instance over the task bus
func (s *Sweeper) HandleTask(t task.RoutingTask) {
	ctx := logger.WithTenant(context.Background(), t.TenantID)
	var err error
	switch t.Type {
	case task.TaskTypeDrainQueue:
		_, err = s.lb.DrainQueue(ctx, t.TenantID)
	case task.TaskTypeCheckEscalations:
		_, err = s.SweepTenant(ctx, t.TenantID)
	default:
		return
	}
	if err != nil {
		logger.Error(ctx, "Routing task failed", zap.String("type", string(t.Type)), zap.Error(err))
	}
}

// tenantIDs returns tenants with open queue entries plus enabled tenants with settings
func (s *Sweeper) tenantIDs(ctx context.Context) ([]string, error) {
	queued, err := s.repos.Queue().ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued tenants: %w", err)
	}
	settings, err := s.repos.TenantSettings().List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant settings: %w", err)
	}

	seen := make(map[string]struct{}, len(queued)+len(settings))
	for _, id := range queued {
		seen[id] = struct{}{}
	}
	for _, st := range settings {
		if st.SLAThreshold() > 0 {
			seen[st.TenantID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
