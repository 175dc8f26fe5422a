package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
	pgdb "github.com/ogurasousui/codex-onboarding/internal/platform/db/postgres"
)

const (
	uniqueViolationCode           = "23505"
	invalidTextRepresentationCode = "22P02"

	emailConstraint = "users_email_key"
	tokenConstraint = "users_activation_token_key"

	userColumns = "id, name, email, expire_date, activation_token, used, created_at, updated_at"
	insertArity = 7
)

const (
	updateByEmailQuery = `
        UPDATE users
           SET name = $1,
               expire_date = $2,
               activation_token = $3,
               used = $4,
               updated_at = $5
         WHERE email = $6
        RETURNING ` + userColumns

	listAllQuery = `
        SELECT ` + userColumns + `
          FROM users
         ORDER BY created_at DESC, id DESC`

	findByIDQuery = `
        SELECT ` + userColumns + `
          FROM users
         WHERE id = $1
         LIMIT 1`

	findByEmailQuery = `
        SELECT ` + userColumns + `
          FROM users
         WHERE email = $1
         LIMIT 1`

	findByTokenQuery = `
        SELECT ` + userColumns + `
          FROM users
         WHERE activation_token = $1
         LIMIT 1`

	markUsedQuery = `
        UPDATE users
           SET used = TRUE,
               updated_at = $2
         WHERE activation_token = $1
           AND used = FALSE
           AND expire_date >= $2
        RETURNING ` + userColumns

	deleteByIDQuery = `DELETE FROM users WHERE id = $1 RETURNING id`
)

var duplicateDetailPattern = regexp.MustCompile(`^Key \([^)]*\)=\((.*)\) already exists\.?$`)

// UserRepository は PostgreSQL を利用したオンボーディングユーザー永続化の実装です。
type UserRepository struct {
	pool pgdb.Queryer
}

// NewUserRepository は UserRepository を生成します。
func NewUserRepository(pool pgdb.Queryer) *UserRepository {
	return &UserRepository{pool: pool}
}

// InsertMany は 1 つの INSERT 文で全件を登録します。
func (r *UserRepository) InsertMany(ctx context.Context, users []*onboarding.User) ([]*onboarding.User, error) {
	if len(users) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(users)*insertArity)
	for _, u := range users {
		args = append(args, u.Name, u.Email, u.ExpireDate, u.ActivationToken, u.Used, u.CreatedAt, u.UpdatedAt)
	}

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, buildInsertQuery(len(users)), args...)
	if err != nil {
		return nil, translatePgError("insert users", err, users)
	}
	defer rows.Close()

	created := make([]*onboarding.User, 0, len(users))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translatePgError("insert users", err, users)
		}
		created = append(created, u)
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgError("insert users", err, users)
	}

	return created, nil
}

// UpdateByEmail はメールアドレスが一致するユーザーの可変項目をすべて置き換えます。
func (r *UserRepository) UpdateByEmail(ctx context.Context, f onboarding.UpdateFields) (*onboarding.User, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, updateByEmailQuery, f.Name, f.ExpireDate, f.ActivationToken, f.Used, f.UpdatedAt, f.Email)

	updated, err := scanUser(row)
	if errors.Is(err, onboarding.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translatePgError("update user by email", err, nil)
	}
	return updated, nil
}

// ListAll は作成日時の降順で全ユーザーを返します。
func (r *UserRepository) ListAll(ctx context.Context) ([]*onboarding.User, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listAllQuery)
	if err != nil {
		return nil, translatePgError("list users", err, nil)
	}
	defer rows.Close()

	users := make([]*onboarding.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translatePgError("list users", err, nil)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgError("list users", err, nil)
	}

	return users, nil
}

// FindByID は ID でユーザーを取得します。
func (r *UserRepository) FindByID(ctx context.Context, id string) (*onboarding.User, error) {
	return r.findOne(ctx, "find user by id", findByIDQuery, id)
}

// FindByEmail はメールアドレスでユーザーを取得します。
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*onboarding.User, error) {
	return r.findOne(ctx, "find user by email", findByEmailQuery, email)
}

// FindByToken はアクティベーショントークンでユーザーを取得します。
func (r *UserRepository) FindByToken(ctx context.Context, token string) (*onboarding.User, error) {
	return r.findOne(ctx, "find user by token", findByTokenQuery, token)
}

// MarkUsed は未使用かつ期限内のトークンに限り used を true に更新します。
// 条件を満たす行がなければ ErrUpdateFailed を返すため、同時実行時も成功するのは 1 回だけです。
func (r *UserRepository) MarkUsed(ctx context.Context, token string, now time.Time) (*onboarding.User, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, markUsedQuery, token, now)

	consumed, err := scanUser(row)
	if errors.Is(err, onboarding.ErrUserNotFound) {
		return nil, onboarding.ErrUpdateFailed
	}
	if err != nil {
		return nil, translatePgError("mark token used", err, nil)
	}
	return consumed, nil
}

// DeleteByID はユーザーを物理削除し、削除した ID を返します。
func (r *UserRepository) DeleteByID(ctx context.Context, id string) (string, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)

	var deleted string
	if err := exec.QueryRow(ctx, deleteByIDQuery, id).Scan(&deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", onboarding.ErrDeleteFailed
		}
		return "", translatePgError("delete user", err, nil)
	}
	return deleted, nil
}

func (r *UserRepository) findOne(ctx context.Context, op, query string, arg any) (*onboarding.User, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	found, err := scanUser(exec.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, translatePgError(op, err, nil)
	}
	return found, nil
}

func buildInsertQuery(n int) string {
	var b strings.Builder
	b.WriteString(`
        INSERT INTO users (name, email, expire_date, activation_token, used, created_at, updated_at)
        VALUES `)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * insertArity
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
	}
	b.WriteString(`
        RETURNING ` + userColumns)
	return b.String()
}

func scanUser(row pgx.Row) (*onboarding.User, error) {
	var u onboarding.User

	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.ExpireDate, &u.ActivationToken, &u.Used, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, onboarding.ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

// translatePgError はドライバのエラーを SQLSTATE と制約名で分類します。
// batch は重複したメールアドレスを詳細から取り出せなかった場合の補完に使います。
func translatePgError(op string, err error, batch []*onboarding.User) error {
	if errors.Is(err, onboarding.ErrUserNotFound) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			switch pgErr.ConstraintName {
			case tokenConstraint:
				return onboarding.ErrTokenConflict
			case emailConstraint:
				return &onboarding.DuplicateEmailError{Email: duplicateEmail(pgErr, batch)}
			}
		case invalidTextRepresentationCode:
			return onboarding.ErrInvalidID
		}
	}
	return &onboarding.StoreError{Op: op, Err: err}
}

func duplicateEmail(pgErr *pgconn.PgError, batch []*onboarding.User) string {
	if m := duplicateDetailPattern.FindStringSubmatch(pgErr.Detail); m != nil {
		return m[1]
	}
	if len(batch) == 1 {
		return batch[0].Email
	}
	return ""
}
