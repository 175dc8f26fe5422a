package onboarding

// Notifier はアクティベーション通知を送信します。
// 実装は送信完了を待たずに戻り、失敗を呼び出し元へ返してはいけません。
type Notifier interface {
	Notify(u *User)
}

type noopNotifier struct{}

func (noopNotifier) Notify(*User) {}
