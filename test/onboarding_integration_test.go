//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	repo "github.com/ogurasousui/codex-onboarding/internal/adapters/repository/postgres"
	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
	"github.com/ogurasousui/codex-onboarding/internal/platform/config"
	pg "github.com/ogurasousui/codex-onboarding/internal/platform/db/postgres"
)

const migrationsDir = "../assets/migrations"

type recordingNotifier struct {
	mu    sync.Mutex
	users []*onboarding.User
}

func (n *recordingNotifier) Notify(u *onboarding.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, u)
}

func TestOnboardingLifecycleIntegration(t *testing.T) {
	cfg, err := config.Load(configPathFromEnv())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if err := resetMigrations(cfg.Database.DSN(), migrationsDir); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	ctx := context.Background()
	pool, err := pg.NewPool(ctx, cfg.Database)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	notifier := &recordingNotifier{}
	userRepo := repo.NewUserRepository(pool)
	svc := onboarding.NewService(userRepo, notifier, nil, pg.NewTransactionManager(pool), onboarding.Options{})

	expire := time.Now().UTC().Add(24 * time.Hour)
	created, err := svc.CreateUsers(ctx, []onboarding.CreateUserInput{
		{Name: "Alice", Email: "alice@example.com", ExpireDate: expire},
		{Name: "Bob", Email: "bob@example.com", ExpireDate: expire},
	})
	if err != nil {
		t.Fatalf("CreateUsers error: %v", err)
	}
	if len(created) != 2 || len(notifier.users) != 2 {
		t.Fatalf("expected 2 users created and notified, got %d/%d", len(created), len(notifier.users))
	}

	// 既存のメールアドレスを含むバッチは 1 件も登録されない。
	_, err = svc.CreateUsers(ctx, []onboarding.CreateUserInput{
		{Name: "Carol", Email: "carol@example.com", ExpireDate: expire},
		{Name: "Alice", Email: "alice@example.com", ExpireDate: expire},
	})
	if !errors.Is(err, onboarding.ErrEmailAlreadyExists) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
	if _, err := userRepo.FindByEmail(ctx, "carol@example.com"); !errors.Is(err, onboarding.ErrUserNotFound) {
		t.Fatalf("expected carol not to be inserted, got %v", err)
	}

	listed, err := svc.GetAllUsers(ctx)
	if err != nil {
		t.Fatalf("GetAllUsers error: %v", err)
	}
	if len(listed) != 2 || listed[0].Idx != 1 || listed[1].Idx != 2 {
		t.Fatalf("unexpected listing %+v", listed)
	}

	alice := created[0]
	if alice.Email != "alice@example.com" {
		alice = created[1]
	}

	// 単一使用: 同時に検証しても成功するのは 1 回だけ。
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ValidateToken(ctx, onboarding.ValidateTokenInput{Token: alice.ActivationToken}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one successful validation, got %d", successes)
	}

	updated, err := svc.UpdateUser(ctx, onboarding.UpdateUserInput{Name: "Alice B", Email: "alice@example.com", ExpireDate: expire})
	if err != nil {
		t.Fatalf("UpdateUser error: %v", err)
	}
	if updated.ActivationToken == alice.ActivationToken || updated.Used {
		t.Fatalf("expected a fresh unused token, got %+v", updated)
	}

	if _, err := svc.ValidateToken(ctx, onboarding.ValidateTokenInput{Token: alice.ActivationToken}); !errors.Is(err, onboarding.ErrLinkExpiredOrUsed) {
		t.Fatalf("expected old token to be rejected, got %v", err)
	}
	if _, err := svc.ValidateToken(ctx, onboarding.ValidateTokenInput{Token: updated.ActivationToken}); err != nil {
		t.Fatalf("expected new token to validate, got %v", err)
	}

	deleted, err := svc.DeleteUser(ctx, onboarding.DeleteUserInput{ID: updated.ID})
	if err != nil || deleted != updated.ID {
		t.Fatalf("DeleteUser returned %q, %v", deleted, err)
	}
	if _, err := svc.DeleteUser(ctx, onboarding.DeleteUserInput{ID: updated.ID}); !errors.Is(err, onboarding.ErrDeleteFailed) {
		t.Fatalf("expected ErrDeleteFailed on second delete, got %v", err)
	}
	if _, err := svc.GetUser(ctx, onboarding.GetUserInput{ID: updated.ID}); !errors.Is(err, onboarding.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func resetMigrations(dsn, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+filepath.ToSlash(absDir), dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func configPathFromEnv() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "../assets/local.yaml"
}
