package onboarding

import "time"

// User はオンボーディング対象ユーザーのエンティティです。
type User struct {
	ID              string
	Name            string
	Email           string
	ExpireDate      time.Time
	ActivationToken string
	Used            bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired は now 時点で有効期限を過ぎている場合に true を返します。
func (u *User) Expired(now time.Time) bool {
	return now.After(u.ExpireDate)
}

// ListedUser は一覧表示用に 1 始まりの連番を付与したユーザーです。連番は永続化されません。
type ListedUser struct {
	*User
	Idx int
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	copy := *u
	return &copy
}
