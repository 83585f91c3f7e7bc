/**
 * Queue Consumer for the card scanner
 *
 * Runs background tasks from Redis: persisting finalized scans, syncing the
 * catalog mirror and refreshing the fuzzy name index.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/mirror"
	"github.com/Epetaway/mtg-proxy-generator/internal/scanner"
	"github.com/Epetaway/mtg-proxy-generator/internal/storage"
)

// ScanStore persists scan records
type ScanStore interface {
	Upsert(ctx context.Context, rec *storage.ScanRecord) (string, error)
}

// MirrorSyncer loads the catalog mirror
type MirrorSyncer interface {
	Sync(ctx context.Context) (*mirror.Result, error)
}

// NameRefresher rebuilds the name index
type NameRefresher interface {
	Refresh(ctx context.Context) error
}

// Handlers holds the task handlers. Nil dependencies make their task fail
// without retry.
type Handlers struct {
	Scans  ScanStore
	Syncer MirrorSyncer
	Names  NameRefresher
	Logger *logging.Logger
}

// Register routes every task type on mux
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePersistScan, h.handlePersistScan)
	mux.HandleFunc(TypeCatalogSync, h.handleCatalogSync)
	mux.HandleFunc(TypeNamesRefresh, h.handleNamesRefresh)
}

func (h *Handlers) handlePersistScan(ctx context.Context, task *asynq.Task) error {
	if h.Scans == nil {
		return fmt.Errorf("no scan store configured: %w", asynq.SkipRetry)
	}

	var scan scanner.FinalizedScan
	if err := json.Unmarshal(task.Payload(), &scan); err != nil {
		return fmt.Errorf("failed to unmarshal scan: %v: %w", err, asynq.SkipRetry)
	}

	id, err := h.Scans.Upsert(ctx, &storage.ScanRecord{
		ID:            scan.RecordID,
		SessionID:     scan.SessionID,
		Status:        storage.ScanStatusResolved,
		Candidates:    scan.Candidates,
		NumberHint:    scan.NumberHint,
		AcceptedCount: scan.AcceptedCount,
		Matches:       scan.Matches,
		Tally:         scan.Tally,
	})
	if err != nil {
		return fmt.Errorf("failed to persist scan %s: %w", scan.RecordID, err)
	}

	h.Logger.Info("Scan persisted",
		"record_id", id,
		"session_id", scan.SessionID,
		"printings", len(scan.Tally))
	return nil
}

func (h *Handlers) handleCatalogSync(ctx context.Context, task *asynq.Task) error {
	if h.Syncer == nil {
		return fmt.Errorf("catalog mirror disabled: %w", asynq.SkipRetry)
	}
	res, err := h.Syncer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("catalog sync failed: %w", err)
	}
	h.Logger.Info("Catalog sync task finished",
		"skipped", res.Skipped,
		"cards", res.Cards,
		"duration_ms", res.Duration.Milliseconds())
	return nil
}

func (h *Handlers) handleNamesRefresh(ctx context.Context, task *asynq.Task) error {
	if h.Names == nil {
		return fmt.Errorf("no name index configured: %w", asynq.SkipRetry)
	}
	if err := h.Names.Refresh(ctx); err != nil {
		return fmt.Errorf("name refresh failed: %w", err)
	}
	return nil
}

// Consumer handles task consumption from Redis
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Handlers    *Handlers
	Logger      *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Handlers == nil {
		return nil, fmt.Errorf("Handlers are required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("queue")
	}
	if cfg.Handlers.Logger == nil {
		cfg.Handlers.Logger = cfg.Logger
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := cfg.Logger
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"type", task.Type(),
					"retried", retried,
					"max_retry", maxRetry,
					"error", err)
			}),
			Logger: NewAsynqLogger(logger),
		},
	)

	mux := asynq.NewServeMux()
	cfg.Handlers.Register(mux)

	return &Consumer{
		server: server,
		mux:    mux,
		config: cfg,
		logger: logger,
	}, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

// asynqLogger adapts logging.Logger to asynq.Logger
type asynqLogger struct {
	logger *logging.Logger
}

// NewAsynqLogger routes asynq's internal logs through logger
func NewAsynqLogger(logger *logging.Logger) asynq.Logger {
	return &asynqLogger{logger: logger.With("asynq")}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
