package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// PeriodicConfig configures recurring tasks. An empty SyncCron disables the
// catalog sync entry.
type PeriodicConfig struct {
	RedisURL          string
	QueueName         string
	SyncCron          string
	NamesRefreshEvery time.Duration
	Logger            *logging.Logger
}

// Periodic enqueues recurring maintenance tasks
type Periodic struct {
	scheduler *asynq.Scheduler
	entries   []string
	logger    *logging.Logger
}

// NewPeriodic registers the catalog sync and name refresh entries
func NewPeriodic(cfg PeriodicConfig) (*Periodic, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("queue")
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   NewAsynqLogger(cfg.Logger),
		Location: time.UTC,
	})
	p := &Periodic{scheduler: scheduler, logger: cfg.Logger}

	if cfg.SyncCron != "" {
		id, err := scheduler.Register(cfg.SyncCron, NewCatalogSyncTask(), asynq.Queue(cfg.QueueName))
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", TypeCatalogSync, err)
		}
		p.entries = append(p.entries, id)
	}

	if cfg.NamesRefreshEvery > 0 {
		spec := RefreshSpec(cfg.NamesRefreshEvery)
		id, err := scheduler.Register(spec, NewNamesRefreshTask(), asynq.Queue(cfg.QueueName))
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", TypeNamesRefresh, err)
		}
		p.entries = append(p.entries, id)
	}

	return p, nil
}

// RefreshSpec is the schedule for rebuilding the name index every maxAge
func RefreshSpec(maxAge time.Duration) string {
	return fmt.Sprintf("@every %s", maxAge)
}

// Start begins enqueueing
func (p *Periodic) Start() error {
	p.logger.Info("Starting periodic tasks", "entries", len(p.entries))
	return p.scheduler.Start()
}

// Stop stops enqueueing
func (p *Periodic) Stop() {
	p.scheduler.Shutdown()
}
