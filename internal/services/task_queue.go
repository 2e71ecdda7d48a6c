package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/pkg/logger"
)

const (
	TaskTypeEmail = "email:send"
)

// MailTask is one rendered email waiting for delivery.
type MailTask struct {
	TemplateID string   `json:"template_id"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// MailProcessor delivers a mail task.
type MailProcessor func(context.Context, *MailTask) error

// TaskQueue defines the interface for mail task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, task *MailTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// NewTaskQueue picks the Redis-backed queue when enabled and reachable,
// otherwise a SyncQueue delivering through processor.
func NewTaskQueue(cfg *config.RedisConfig, processor MailProcessor) TaskQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err != nil {
			logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
		} else {
			logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
			return queue
		}
	} else {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	}

	queue := NewSyncQueue()
	queue.SetProcessor(processor)
	return queue
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	// Try to get queue info to verify connection
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a mail task to the async queue
func (q *AsyncQueue) Enqueue(ctx context.Context, task *MailTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeEmail, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue("mail"),
		asynq.MaxRetry(5),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Str("queue", info.Queue).Str("template", task.TemplateID).Msg("[AsyncQueue] Task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue delivers in a background goroutine of this process (no Redis).
type SyncQueue struct {
	processor MailProcessor
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor MailProcessor) {
	q.processor = processor
}

// Enqueue starts delivery and returns without waiting for it.
func (q *SyncQueue) Enqueue(ctx context.Context, task *MailTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, task %s dropped", task.TemplateID)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		// the request context may already be cancelled once delivery runs
		if err := q.processor(context.WithoutCancel(ctx), task); err != nil {
			logger.Error().Err(err).Str("template", task.TemplateID).Strs("to", task.To).Msg("[SyncQueue] Task processing failed")
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for in-flight deliveries.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
