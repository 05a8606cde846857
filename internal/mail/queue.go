package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskPasswordReset is the asynq task type for reset emails
const TaskPasswordReset = "mail:password_reset"

const mailQueue = "mail"

type passwordResetPayload struct {
	To    string `json:"to"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// NewPasswordResetTask encodes a reset email as an asynq task
func NewPasswordResetTask(to, name, token string) (*asynq.Task, error) {
	payload, err := json.Marshal(passwordResetPayload{To: to, Name: name, Token: token})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPasswordReset, payload), nil
}

// QueueMailer enqueues emails for a Worker to deliver, so request handlers
// never wait on SMTP.
type QueueMailer struct {
	client *asynq.Client
	logger *zap.Logger
}

var _ Mailer = (*QueueMailer)(nil)

// NewQueueMailer connects an asynq client to redisURL
func NewQueueMailer(redisURL string, logger *zap.Logger) (*QueueMailer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueMailer{client: asynq.NewClient(opt), logger: logger.Named("mail")}, nil
}

func (q *QueueMailer) SendPasswordReset(ctx context.Context, to, name, token string) error {
	task, err := NewPasswordResetTask(to, name, token)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(mailQueue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("asynq: enqueue password reset: %w", err)
	}
	q.logger.Debug("password reset email queued", zap.String("task_id", info.ID))
	return nil
}

func (q *QueueMailer) Close() error {
	return q.client.Close()
}

// NewPasswordResetHandler delivers queued reset emails through sender.
// Malformed payloads are not retried.
func NewPasswordResetHandler(sender Mailer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p passwordResetPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.To == "" || p.Token == "" {
			return fmt.Errorf("%w: %w", ErrBadPayload, asynq.SkipRetry)
		}
		return sender.SendPasswordReset(ctx, p.To, p.Name, p.Token)
	}
}

// Worker consumes the mail queue
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewWorker prepares a worker against redisURL. Nothing connects until Start.
func NewWorker(redisURL string, sender Mailer, concurrency int, logger *zap.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	logger = logger.Named("mail_worker")

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{mailQueue: 1},
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("mail task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TaskPasswordReset, NewPasswordResetHandler(sender))
	return &Worker{server: srv, mux: mux, logger: logger}, nil
}

// Start begins processing in the background
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks and stops the worker
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
