package onboarding

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock は現在時刻を提供します。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// TransactionManager はトランザクション制御の抽象化です。
type TransactionManager interface {
	WithinReadOnly(ctx context.Context, fn func(context.Context) error) error
	WithinReadWrite(ctx context.Context, fn func(context.Context) error) error
}

type noopTransactionManager struct{}

func (noopTransactionManager) WithinReadOnly(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (noopTransactionManager) WithinReadWrite(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// maxTokenAttempts はトークン衝突時に発行をやり直す上限回数です。
const maxTokenAttempts = 3

// Options は Service の振る舞いを調整します。
type Options struct {
	// AllowReuse が true の場合、検証成功時に used を更新せず期限内は何度でも検証できます。
	AllowReuse bool
	// Tokens が nil の場合は RandomTokenGenerator を使います。
	Tokens TokenGenerator
}

// Service はオンボーディングに関するユースケースをまとめます。
type Service struct {
	repo     Repository
	notifier Notifier
	clock    Clock
	tx       TransactionManager
	tokens   TokenGenerator
	opts     Options
}

// UseCase はオンボーディングユースケースの公開インターフェースです。
type UseCase interface {
	CreateUsers(ctx context.Context, in []CreateUserInput) ([]*User, error)
	UpdateUser(ctx context.Context, in UpdateUserInput) (*User, error)
	GetAllUsers(ctx context.Context) ([]ListedUser, error)
	GetUser(ctx context.Context, in GetUserInput) (*User, error)
	DeleteUser(ctx context.Context, in DeleteUserInput) (string, error)
	ValidateToken(ctx context.Context, in ValidateTokenInput) (*User, error)
}

// NewService は Service を生成します。
func NewService(repo Repository, notifier Notifier, clock Clock, tx TransactionManager, opts Options) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if clock == nil {
		clock = realClock{}
	}
	if tx == nil {
		tx = noopTransactionManager{}
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewRandomTokenGenerator()
	}
	return &Service{repo: repo, notifier: notifier, clock: clock, tx: tx, tokens: tokens, opts: opts}
}

// CreateUserInput はユーザー作成時の入力です。
type CreateUserInput struct {
	Name       string
	Email      string
	ExpireDate time.Time
}

// UpdateUserInput はユーザー更新時の入力です。Used が nil の場合は false として扱います。
type UpdateUserInput struct {
	Name       string
	Email      string
	ExpireDate time.Time
	Used       *bool
}

// GetUserInput はユーザー取得時の入力です。
type GetUserInput struct {
	ID string
}

// DeleteUserInput はユーザー削除時の入力です。
type DeleteUserInput struct {
	ID string
}

// ValidateTokenInput はトークン検証時の入力です。
type ValidateTokenInput struct {
	Token string
}

// CreateUsers はトークンを発行してユーザーを一括作成し、作成後に通知を非同期で送信します。
func (s *Service) CreateUsers(ctx context.Context, in []CreateUserInput) ([]*User, error) {
	if len(in) == 0 {
		return nil, ErrEmptyBatch
	}

	now := s.clock.Now()
	drafts := make([]*User, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, item := range in {
		u, err := newDraft(item.Name, item.Email, item.ExpireDate)
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		if _, dup := seen[u.Email]; dup {
			return nil, &DuplicateEmailError{Email: u.Email}
		}
		seen[u.Email] = struct{}{}
		u.CreatedAt = now
		u.UpdatedAt = now
		drafts = append(drafts, u)
	}

	var created []*User
	for attempt := 1; ; attempt++ {
		if err := s.assignTokens(drafts); err != nil {
			return nil, err
		}

		err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
			for _, u := range drafts {
				if err := s.ensureEmailNotExists(txCtx, u.Email); err != nil {
					return err
				}
			}
			inserted, err := s.repo.InsertMany(txCtx, drafts)
			if err != nil {
				return err
			}
			created = inserted
			return nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrTokenConflict) && attempt < maxTokenAttempts {
			continue
		}
		return nil, err
	}

	for _, u := range created {
		s.notifier.Notify(cloneUser(u))
	}

	return created, nil
}

// UpdateUser はメールアドレスをキーにユーザーを更新します。
// 項目の変更有無に関わらず新しいトークンを発行するため、以前のリンクは無効になります。
// 該当ユーザーが存在しない場合は nil, nil を返し、通知も行いません。
func (s *Service) UpdateUser(ctx context.Context, in UpdateUserInput) (*User, error) {
	draft, err := newDraft(in.Name, in.Email, in.ExpireDate)
	if err != nil {
		return nil, err
	}

	used := false
	if in.Used != nil {
		used = *in.Used
	}

	var updated *User
	for attempt := 1; ; attempt++ {
		token, err := s.tokens.Generate()
		if err != nil {
			return nil, err
		}

		updated, err = s.repo.UpdateByEmail(ctx, UpdateFields{
			Email:           draft.Email,
			Name:            draft.Name,
			ExpireDate:      draft.ExpireDate,
			ActivationToken: token,
			Used:            used,
			UpdatedAt:       s.clock.Now(),
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrTokenConflict) && attempt < maxTokenAttempts {
			continue
		}
		return nil, err
	}

	if updated != nil {
		s.notifier.Notify(cloneUser(updated))
	}

	return updated, nil
}

// GetAllUsers は作成日時の降順でユーザーを取得し、1 始まりの連番を付与します。
func (s *Service) GetAllUsers(ctx context.Context) ([]ListedUser, error) {
	users, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	listed := make([]ListedUser, 0, len(users))
	for i, u := range users {
		listed = append(listed, ListedUser{User: u, Idx: i + 1})
	}
	return listed, nil
}

// GetUser は ID でユーザーを取得します。
func (s *Service) GetUser(ctx context.Context, in GetUserInput) (*User, error) {
	id, err := normalizeID(in.ID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// DeleteUser はユーザーを物理削除し、削除した ID を返します。
func (s *Service) DeleteUser(ctx context.Context, in DeleteUserInput) (string, error) {
	id, err := normalizeID(in.ID)
	if err != nil {
		return "", err
	}
	return s.repo.DeleteByID(ctx, id)
}

// ValidateToken はトークンを検証し、有効であればユーザーを返します。
// 存在しない・期限切れ・使用済みはすべて ErrLinkExpiredOrUsed になります。
func (s *Service) ValidateToken(ctx context.Context, in ValidateTokenInput) (*User, error) {
	token := strings.TrimSpace(in.Token)
	if token == "" {
		return nil, ErrLinkExpiredOrUsed
	}

	u, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrLinkExpiredOrUsed
		}
		return nil, err
	}

	now := s.clock.Now()
	if u.Expired(now) || u.Used {
		return nil, ErrLinkExpiredOrUsed
	}

	if s.opts.AllowReuse {
		return u, nil
	}

	// 同時検証で先に更新された場合は MarkUsed が ErrUpdateFailed を返す。
	consumed, err := s.repo.MarkUsed(ctx, token, now)
	if err != nil {
		if errors.Is(err, ErrUpdateFailed) || errors.Is(err, ErrUserNotFound) {
			return nil, ErrLinkExpiredOrUsed
		}
		return nil, err
	}
	return consumed, nil
}

func (s *Service) assignTokens(users []*User) error {
	for _, u := range users {
		token, err := s.tokens.Generate()
		if err != nil {
			return err
		}
		u.ActivationToken = token
		u.Used = false
	}
	return nil
}

func (s *Service) ensureEmailNotExists(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}
	if user != nil {
		return &DuplicateEmailError{Email: email}
	}
	return nil
}

func newDraft(name, email string, expireDate time.Time) (*User, error) {
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return nil, ErrInvalidName
	}

	if expireDate.IsZero() {
		return nil, ErrInvalidExpireDate
	}

	return &User{
		Name:       trimmedName,
		Email:      normalizedEmail,
		ExpireDate: expireDate.UTC(),
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidEmail
	}

	return strings.ToLower(addr.Address), nil
}

func normalizeID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("id: %w", ErrInvalidID)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("id %q: %w", trimmed, ErrInvalidID)
	}
	return parsed.String(), nil
}
