package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

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

const userColumns = `u.id, u.external_id, u.name, COALESCE(u.email, ''), COALESCE(u.password_hash, ''), u.image_url, u.banner_url, u.banner_key, u.created_at, u.updated_at`

func userDest(u *User) []any {
	return []any{&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.PasswordHash, &u.ImageURL, &u.BannerURL, &u.BannerKey, &u.CreatedAt, &u.UpdatedAt}
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE `+where, arg).Scan(userDest(&user)...)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `u.id = $1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `LOWER(u.email) = LOWER($1)`, email)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	var created User
	err := s.db.QueryRowContext(ctx, `
		WITH u AS (
			INSERT INTO users (external_id, name, email, password_hash, image_url)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
			RETURNING *
		)
		SELECT `+userColumns+` FROM u
	`, user.ExternalID, user.Name, user.Email, user.PasswordHash, user.ImageURL).Scan(userDest(&created)...)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// UpsertUserByExternalID creates or refreshes the profile synced from the
// identity provider.
func (s *PostgresStore) UpsertUserByExternalID(ctx context.Context, user User) (User, error) {
	var saved User
	err := s.db.QueryRowContext(ctx, `
		WITH u AS (
			INSERT INTO users (external_id, name, image_url)
			VALUES ($1, $2, $3)
			ON CONFLICT (external_id) DO UPDATE
				SET name = EXCLUDED.name, image_url = EXCLUDED.image_url, updated_at = NOW()
			RETURNING *
		)
		SELECT `+userColumns+` FROM u
	`, user.ExternalID, user.Name, user.ImageURL).Scan(userDest(&saved)...)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return saved, nil
}

// SetUserBanner replaces the channel banner. Nil url and key clear it.
func (s *PostgresStore) SetUserBanner(ctx context.Context, userID string, url, key *string) (User, error) {
	var saved User
	err := s.db.QueryRowContext(ctx, `
		WITH u AS (
			UPDATE users SET banner_url = $2, banner_key = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING *
		)
		SELECT `+userColumns+` FROM u
	`, userID, url, key).Scan(userDest(&saved)...)
	if err != nil {
		if isNoRows(err) {
			return User{}, err
		}
		return User{}, fmt.Errorf("set user banner: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) DeleteUserByExternalID(ctx context.Context, externalID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE external_id = $1`, externalID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetCreator loads a channel with totals for userID. viewerID may be empty.
func (s *PostgresStore) GetCreator(ctx context.Context, userID, viewerID string) (Creator, error) {
	var creator Creator
	dest := append(userDest(&creator.User), &creator.SubscriberCount, &creator.VideoCount, &creator.ViewerSubscribed)
	err := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`,
			(SELECT COUNT(*) FROM subscriptions sc WHERE sc.creator_id = u.id),
			(SELECT COUNT(*) FROM videos v WHERE v.user_id = u.id),
			EXISTS(SELECT 1 FROM subscriptions sv WHERE sv.creator_id = u.id AND sv.viewer_id::text = $2)
		FROM users u
		WHERE u.id = $1
	`, userID, viewerID).Scan(dest...)
	if err != nil {
		return Creator{}, err
	}
	return creator, nil
}

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

// LookupRefreshSession returns the owner of a live refresh token.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
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

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CategoryExists(ctx context.Context, categoryID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM categories WHERE id=$1)`, categoryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return exists, nil
}

// affectedOne turns a zero-row write into sql.ErrNoRows.
func affectedOne(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
