package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TypeAlertDeliver is the asynq task type for webhook delivery.
const TypeAlertDeliver = "alert:deliver"

// QueueNotifier enqueues alerts to Redis through asynq, so delivery
// survives restarts and gets asynq's retry schedule.
type QueueNotifier struct {
	client *asynq.Client
}

func NewQueueNotifier(opt asynq.RedisClientOpt) *QueueNotifier {
	return &QueueNotifier{client: asynq.NewClient(opt)}
}

func (q *QueueNotifier) Notify(ctx context.Context, a Alert) error {
	task, err := NewAlertTask(a)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)); err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeAlertDeliver, err)
	}
	return nil
}

func (q *QueueNotifier) Close() error {
	return q.client.Close()
}

// NewAlertTask wraps a as an asynq task.
func NewAlertTask(a Alert) (*asynq.Task, error) {
	a.fill()
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	return asynq.NewTask(TypeAlertDeliver, data), nil
}

// DeliverHandler processes alert tasks with d.
func DeliverHandler(d *Dispatcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var a Alert
		if err := json.Unmarshal(t.Payload(), &a); err != nil {
			return fmt.Errorf("unmarshal alert: %v: %w", err, asynq.SkipRetry)
		}
		return d.Deliver(ctx, a)
	}
}

// Worker runs the asynq server that drains the alert queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(opt asynq.RedisClientOpt, d *Dispatcher, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("alert task failed", "type", task.Type(), "error", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeAlertDeliver, DeliverHandler(d))
	return &Worker{server: srv, mux: mux}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks and stops the server.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
