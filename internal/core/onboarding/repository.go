package onboarding

import (
	"context"
	"time"
)

// UpdateFields はメールアドレスをキーに置き換える項目です。
type UpdateFields struct {
	Email           string
	Name            string
	ExpireDate      time.Time
	ActivationToken string
	Used            bool
	UpdatedAt       time.Time
}

// Repository はユーザーエンティティの永続化を行うインターフェースです。
type Repository interface {
	// InsertMany は全件を一括登録します。1 件でも失敗した場合は何も登録しません。
	InsertMany(ctx context.Context, users []*User) ([]*User, error)
	// UpdateByEmail は該当行がない場合 nil, nil を返します。
	UpdateByEmail(ctx context.Context, fields UpdateFields) (*User, error)
	ListAll(ctx context.Context) ([]*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByToken(ctx context.Context, token string) (*User, error)
	// MarkUsed は未使用かつ期限内の場合に限り used を true にします。該当行がなければ ErrUpdateFailed です。
	MarkUsed(ctx context.Context, token string, now time.Time) (*User, error)
	DeleteByID(ctx context.Context, id string) (string, error)
}
