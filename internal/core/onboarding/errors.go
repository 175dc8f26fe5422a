package onboarding

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound はユーザーが存在しない場合に返却されます。
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailAlreadyExists はメールアドレス重複時に返却されます。
	ErrEmailAlreadyExists = errors.New("email already exists")
	// ErrInvalidEmail はメールアドレスが不正な場合に返却されます。
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidName は名前が不正な場合に返却されます。
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidExpireDate は有効期限が指定されていない場合に返却されます。
	ErrInvalidExpireDate = errors.New("invalid expire date")
	// ErrInvalidID はIDが不正な場合に返却されます。
	ErrInvalidID = errors.New("invalid id")
	// ErrEmptyBatch は作成対象が 1 件もない場合に返却されます。
	ErrEmptyBatch = errors.New("at least one user is required")
	// ErrDeleteFailed は削除対象が存在しなかった場合に返却されます。
	ErrDeleteFailed = errors.New("delete failed")
	// ErrUpdateFailed は条件付き更新で対象行がなかった場合に返却されます。
	ErrUpdateFailed = errors.New("update failed")
	// ErrTokenConflict はアクティベーショントークンが一意制約に違反した場合に返却されます。
	ErrTokenConflict = errors.New("activation token already exists")
	// ErrLinkExpiredOrUsed はトークンが存在しない・期限切れ・使用済みのいずれかの場合に返却されます。
	// 呼び出し元に理由を区別させないため、常にこの値だけを返します。
	ErrLinkExpiredOrUsed = errors.New("onboarding link is used or expired")
)

// DuplicateEmailError は重複したメールアドレスを保持するエラーです。
type DuplicateEmailError struct {
	Email string
}

func (e *DuplicateEmailError) Error() string {
	if e.Email == "" {
		return ErrEmailAlreadyExists.Error()
	}
	return fmt.Sprintf("User with %s address already exists", e.Email)
}

// Is は errors.Is(err, ErrEmailAlreadyExists) を満たすためのものです。
func (e *DuplicateEmailError) Is(target error) bool {
	return target == ErrEmailAlreadyExists
}

// StoreError はストレージ層の技術的な失敗を表します。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreFailure は err が StoreError を含むかを返します。
func IsStoreFailure(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}
