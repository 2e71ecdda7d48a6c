package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rentacoder/backend/internal/config"
)

func TestTaskTypeEmail_Constant(t *testing.T) {
	if TaskTypeEmail != "email:send" {
		t.Errorf("TaskTypeEmail = %q, expected %q", TaskTypeEmail, "email:send")
	}
}

func TestSyncQueue_IsAsync(t *testing.T) {
	queue := NewSyncQueue()
	if queue.IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
}

func TestSyncQueue_Close(t *testing.T) {
	queue := NewSyncQueue()
	if err := queue.Close(); err != nil {
		t.Errorf("SyncQueue.Close() should return nil, got %v", err)
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	queue := NewSyncQueue()
	task := &MailTask{TemplateID: TemplateRegisterEmail, To: []string{"a@x.com"}}

	if err := queue.Enqueue(context.Background(), task); err != nil {
		t.Errorf("Enqueue without processor should not error, got %v", err)
	}
}

func TestSyncQueue_DeliversAndCloseWaits(t *testing.T) {
	queue := NewSyncQueue()

	var mu sync.Mutex
	var delivered []string
	queue.SetProcessor(func(ctx context.Context, task *MailTask) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, task.To[0])
		return nil
	})

	for _, to := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		if err := queue.Enqueue(context.Background(), &MailTask{To: []string{to}}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	queue.Close()

	if len(delivered) != 3 {
		t.Errorf("delivered %d tasks, expected 3", len(delivered))
	}
}

func TestSyncQueue_ProcessorFailureNotReturned(t *testing.T) {
	queue := NewSyncQueue()
	queue.SetProcessor(func(ctx context.Context, task *MailTask) error {
		return errors.New("smtp down")
	})

	if err := queue.Enqueue(context.Background(), &MailTask{To: []string{"a@x.com"}}); err != nil {
		t.Errorf("Enqueue() should not surface delivery errors, got %v", err)
	}
	queue.Close()
}

func TestSyncQueue_CancelledContextStillDelivers(t *testing.T) {
	queue := NewSyncQueue()

	var ctxErr error
	queue.SetProcessor(func(ctx context.Context, task *MailTask) error {
		ctxErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	queue.Enqueue(ctx, &MailTask{To: []string{"a@x.com"}})
	queue.Close()

	if ctxErr != nil {
		t.Errorf("processor saw cancelled context: %v", ctxErr)
	}
}

func TestNewTaskQueue_RedisDisabled(t *testing.T) {
	queue := NewTaskQueue(&config.RedisConfig{Enabled: false}, func(ctx context.Context, task *MailTask) error {
		return nil
	})

	sq, ok := queue.(*SyncQueue)
	if !ok {
		t.Fatalf("expected *SyncQueue, got %T", queue)
	}
	if sq.processor == nil {
		t.Error("processor should be set")
	}
}

func TestAsyncQueue_IsAsync(t *testing.T) {
	queue := &AsyncQueue{}
	if !queue.IsAsync() {
		t.Error("AsyncQueue.IsAsync() should return true")
	}
}

func TestNewWorker_RedisDisabled(t *testing.T) {
	if w := NewWorker(&config.RedisConfig{Enabled: false}); w != nil {
		t.Error("NewWorker should return nil when Redis is disabled")
	}
}
