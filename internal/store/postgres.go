package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientCredits is returned by SpendCredit when the balance is
// already zero. The conditional UPDATE keeps concurrent spends from
// driving the balance negative.
var ErrInsufficientCredits = errors.New("insufficient credits")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users

const userColumns = `id, name, email, password_hash, role, is_email_verified, credits, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role,
		&user.IsEmailVerified, &user.Credits, &user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, is_email_verified, credits)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.Credits)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserName(ctx context.Context, userID, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET name=$2, updated_at=NOW() WHERE id=$1`, userID, name)
	if err != nil {
		return fmt.Errorf("update user name: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, search string, limit, offset int) ([]User, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pattern := "%" + search + "%"

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE $1='%%' OR name ILIKE $1 OR email ILIKE $1
	`, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE $1='%%' OR name ILIKE $1 OR email ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return users, total, nil
}

// ---- email verification and password reset

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token_hash=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, tokenHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token_hash=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token_hash=$1 AND verification_expires_at > NOW()
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, used_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is unavailable)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeUserRefreshSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE user_id=$1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("revoke user refresh sessions: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a live refresh token to its user ID.
// Expired and revoked tokens answer sql.ErrNoRows.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- credits

// SpendCredit decrements the balance by one and writes the ledger row in
// a single transaction. Returns ErrInsufficientCredits when the balance
// is exhausted and the remaining balance otherwise.
func (s *PostgresStore) SpendCredit(ctx context.Context, userID, reason string, refID *string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin spend credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var remaining int
	err = tx.QueryRowContext(ctx, `
		UPDATE users SET credits = credits - 1, updated_at=NOW()
		WHERE id=$1 AND credits >= 1
		RETURNING credits
	`, userID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("spend credit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (user_id, delta, reason, ref_id)
		VALUES ($1, -1, $2, $3)
	`, userID, reason, refID); err != nil {
		return 0, fmt.Errorf("record credit spend: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit spend credit: %w", err)
	}
	return remaining, nil
}

// AdjustCredits applies a signed delta (refunds, admin top-ups) and
// records it. A claw-back past zero is clamped, and the ledger records
// the delta actually applied so its sum always equals the balance.
func (s *PostgresStore) AdjustCredits(ctx context.Context, userID string, delta int, reason string, refID *string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin adjust credits: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("lock credits: %w", err)
	}
	applied := clampCreditDelta(current, delta)

	var remaining int
	err = tx.QueryRowContext(ctx, `
		UPDATE users SET credits = credits + $2, updated_at=NOW()
		WHERE id=$1
		RETURNING credits
	`, userID, applied).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("adjust credits: %w", err)
	}

	if applied != 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credit_ledger (user_id, delta, reason, ref_id)
			VALUES ($1, $2, $3, $4)
		`, userID, applied, reason, refID); err != nil {
			return 0, fmt.Errorf("record credit adjustment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit adjust credits: %w", err)
	}
	return remaining, nil
}

// clampCreditDelta limits a negative delta so the balance never drops
// below zero; the clamped value is what lands in the ledger.
func clampCreditDelta(current, delta int) int {
	if current+delta < 0 {
		return -current
	}
	return delta
}

func (s *PostgresStore) GetCreditBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id=$1`, userID).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *PostgresStore) ListCreditEntries(ctx context.Context, userID string, limit int) ([]CreditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, delta, reason, ref_id, created_at
		FROM credit_ledger
		WHERE user_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]CreditEntry, 0)
	for rows.Next() {
		var entry CreditEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Delta, &entry.Reason, &entry.RefID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit entries: %w", err)
	}
	return entries, nil
}
