package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
)

const defaultSendTimeout = time.Minute

// Dispatcher は onboarding.Notifier の実装です。
// ユーザーごとにゴルーチンを起動して Sender へ渡し、呼び出し元のリクエストとは独立して配送します。
type Dispatcher struct {
	sender  Sender
	logger  zerolog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ onboarding.Notifier = (*Dispatcher)(nil)

// NewDispatcher は Dispatcher を生成します。timeout が 0 以下の場合は 1 分を使います。
func NewDispatcher(sender Sender, logger zerolog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		sender:  sender,
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: timeout,
	}
}

// Notify は配送を開始してすぐに戻ります。配送の失敗はログに記録するだけで呼び出し元には返しません。
func (d *Dispatcher) Notify(u *onboarding.User) {
	if u == nil {
		return
	}

	a := ActivationFromUser(u)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn().Str("user_id", a.UserID).Msg("dispatcher closed, activation email dropped")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.deliver(a)
}

func (d *Dispatcher) deliver(a Activation) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("user_id", a.UserID).Interface("panic", r).Msg("activation email sender panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, a); err != nil {
		d.logger.Error().Err(err).Str("user_id", a.UserID).Str("email", a.Email).Msg("failed to send activation email")
		return
	}

	d.logger.Info().Str("user_id", a.UserID).Str("email", a.Email).Msg("activation email sent")
}

// Close は新しい配送の受付を止め、実行中の配送が終わるか ctx が終了するまで待ちます。
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
