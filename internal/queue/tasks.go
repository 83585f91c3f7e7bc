package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Epetaway/mtg-proxy-generator/internal/scanner"
)

// Task types
const (
	TypePersistScan  = "scan:persist"
	TypeCatalogSync  = "catalog:sync"
	TypeNamesRefresh = "names:refresh"
)

// DefaultQueueName is the queue all tasks are submitted to
const DefaultQueueName = "cardscan"

const (
	persistMaxRetry  = 5
	persistTimeout   = 30 * time.Second
	syncTimeout      = 30 * time.Minute
	syncUniqueWindow = time.Hour
	refreshMaxRetry  = 3
	refreshTimeout   = 2 * time.Minute
)

// NewPersistScanTask builds a scan:persist task. The record ID doubles as the
// task ID so a finalized scan is enqueued at most once.
func NewPersistScanTask(scan *scanner.FinalizedScan) (*asynq.Task, error) {
	payload, err := json.Marshal(scan)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan: %w", err)
	}
	return asynq.NewTask(TypePersistScan, payload,
		asynq.TaskID(scan.RecordID),
		asynq.MaxRetry(persistMaxRetry),
		asynq.Timeout(persistTimeout)), nil
}

// NewCatalogSyncTask builds a catalog:sync task
func NewCatalogSyncTask() *asynq.Task {
	return asynq.NewTask(TypeCatalogSync, nil,
		asynq.MaxRetry(1),
		asynq.Timeout(syncTimeout),
		asynq.Unique(syncUniqueWindow))
}

// NewNamesRefreshTask builds a names:refresh task
func NewNamesRefreshTask() *asynq.Task {
	return asynq.NewTask(TypeNamesRefresh, nil,
		asynq.MaxRetry(refreshMaxRetry),
		asynq.Timeout(refreshTimeout))
}

// Enqueuer submits tasks to Redis. It implements scanner.Persister.
type Enqueuer struct {
	client    *asynq.Client
	queueName string
}

// NewEnqueuer creates an enqueuer
func NewEnqueuer(redisURL, queueName string) (*Enqueuer, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Enqueuer{client: asynq.NewClient(redisOpt), queueName: queueName}, nil
}

// PersistScan enqueues a finalized scan for storage
func (e *Enqueuer) PersistScan(ctx context.Context, scan *scanner.FinalizedScan) error {
	task, err := NewPersistScanTask(scan)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(e.queueName)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", TypePersistScan, err)
	}
	return nil
}

// EnqueueCatalogSync requests a mirror sync
func (e *Enqueuer) EnqueueCatalogSync(ctx context.Context) error {
	if _, err := e.client.EnqueueContext(ctx, NewCatalogSyncTask(), asynq.Queue(e.queueName)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", TypeCatalogSync, err)
	}
	return nil
}

// EnqueueNamesRefresh requests a name index rebuild
func (e *Enqueuer) EnqueueNamesRefresh(ctx context.Context) error {
	if _, err := e.client.EnqueueContext(ctx, NewNamesRefreshTask(), asynq.Queue(e.queueName)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", TypeNamesRefresh, err)
	}
	return nil
}

// Close closes the Redis client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
