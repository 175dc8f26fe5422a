package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TaskTypeActivationEmail はアクティベーションメール送信タスクの種別です。
	TaskTypeActivationEmail = "onboarding:activation_email"

	defaultMaxRetry = 5
)

// NewActivationTask はアクティベーションを asynq のタスクに変換します。
func NewActivationTask(a Activation) (*asynq.Task, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeActivationEmail, payload), nil
}

// ParseActivationTask はタスクのペイロードを Activation に復元します。
func ParseActivationTask(t *asynq.Task) (Activation, error) {
	var a Activation
	if err := json.Unmarshal(t.Payload(), &a); err != nil {
		return Activation{}, fmt.Errorf("notify: decode activation payload: %w", err)
	}
	if a.Email == "" || a.Token == "" {
		return Activation{}, fmt.Errorf("notify: activation payload is incomplete")
	}
	return a, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSender はアクティベーションを asynq のキューへ登録します。実際の SMTP 送信は worker が行います。
type QueueSender struct {
	client enqueuer
	queue  string
}

// NewQueueSender は QueueSender を生成します。client には *asynq.Client を渡します。
func NewQueueSender(client enqueuer, queue string) *QueueSender {
	if queue == "" {
		queue = "default"
	}
	return &QueueSender{client: client, queue: queue}
}

// Send はタスクを登録します。
func (s *QueueSender) Send(ctx context.Context, a Activation) error {
	task, err := NewActivationTask(a)
	if err != nil {
		return fmt.Errorf("notify: build activation task: %w", err)
	}

	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queue), asynq.MaxRetry(defaultMaxRetry)); err != nil {
		return fmt.Errorf("notify: enqueue activation task: %w", err)
	}
	return nil
}

// NewActivationTaskHandler は worker で TaskTypeActivationEmail を処理するハンドラを返します。
// 壊れたペイロードは再試行しても成功しないため asynq.SkipRetry を返します。
func NewActivationTaskHandler(sender Sender, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		a, err := ParseActivationTask(t)
		if err != nil {
			logger.Error().Err(err).Msg("discarding activation task")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		if err := sender.Send(ctx, a); err != nil {
			logger.Error().Err(err).Str("user_id", a.UserID).Msg("failed to deliver activation email")
			return err
		}

		logger.Info().Str("user_id", a.UserID).Str("email", a.Email).Msg("activation email delivered")
		return nil
	}
}
