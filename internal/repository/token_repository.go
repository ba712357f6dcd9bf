package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/patient-track/internal/domain"
)

// TokenRepository persists issued token pairs. Pairs are never deleted; they
// are deactivated.
type TokenRepository interface {
	// ReplaceActive deactivates every active pair of pair.Username and inserts
	// pair, atomically with respect to other logins for the same username.
	// The deactivated pairs are returned.
	ReplaceActive(ctx context.Context, pair *domain.TokenPair) ([]domain.TokenPair, error)
	GetActiveByAccessToken(ctx context.Context, accessToken string) (*domain.TokenPair, error)
	GetActiveByRefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	GetActiveByUsername(ctx context.Context, username string) (*domain.TokenPair, error)
	// Deactivate marks an active pair inactive. It returns domain.ErrTokenNotFound
	// when the pair was no longer active.
	Deactivate(ctx context.Context, id int64, at time.Time) error
	RotateAccessToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error
	// DeactivateExpired deactivates pairs whose refresh window closed before now
	// and returns them.
	DeactivateExpired(ctx context.Context, now time.Time) ([]domain.TokenPair, error)
}

const tokenColumns = `id, access_token, refresh_token, username, role, organization_id,
        access_expires_at, refresh_expires_at, created_at, revoked_at, active`

type tokenRepository struct {
	db DBTX
}

// NewTokenRepository returns a Postgres-backed implementation.
func NewTokenRepository(db DBTX) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) ReplaceActive(ctx context.Context, pair *domain.TokenPair) (superseded []domain.TokenPair, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin token tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// serializes concurrent logins of one username until commit
	const lockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err = tx.Exec(ctx, lockQuery, pair.Username); err != nil {
		return nil, fmt.Errorf("lock username: %w", err)
	}

	const supersedeQuery = `
        UPDATE oauth_tokens SET active = FALSE, revoked_at = $2
        WHERE username = $1 AND active
        RETURNING ` + tokenColumns
	rows, err := tx.Query(ctx, supersedeQuery, pair.Username, pair.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("supersede tokens: %w", err)
	}
	superseded, err = collectTokenPairs(rows)
	if err != nil {
		return nil, fmt.Errorf("supersede tokens: %w", err)
	}

	const insertQuery = `
        INSERT INTO oauth_tokens (access_token, refresh_token, username, role, organization_id,
            access_expires_at, refresh_expires_at, created_at, active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
        RETURNING id`
	if err = tx.QueryRow(ctx, insertQuery,
		pair.AccessToken,
		pair.RefreshToken,
		pair.Username,
		string(pair.Role),
		pair.OrganizationID,
		pair.AccessExpiresAt,
		pair.RefreshExpiresAt,
		pair.CreatedAt,
	).Scan(&pair.ID); err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit token tx: %w", err)
	}
	pair.Active = true
	pair.RevokedAt = nil
	return superseded, nil
}

func (r *tokenRepository) GetActiveByAccessToken(ctx context.Context, accessToken string) (*domain.TokenPair, error) {
	const query = `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE access_token=$1 AND active`
	return r.getOne(ctx, query, accessToken)
}

func (r *tokenRepository) GetActiveByRefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	const query = `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE refresh_token=$1 AND active`
	return r.getOne(ctx, query, refreshToken)
}

func (r *tokenRepository) GetActiveByUsername(ctx context.Context, username string) (*domain.TokenPair, error) {
	const query = `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE username=$1 AND active
        ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, username)
}

func (r *tokenRepository) Deactivate(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE oauth_tokens SET active = FALSE, revoked_at = $2 WHERE id=$1 AND active`
	cmd, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

func (r *tokenRepository) RotateAccessToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error {
	const query = `UPDATE oauth_tokens SET access_token=$2, access_expires_at=$3 WHERE id=$1 AND active`
	cmd, err := r.db.Exec(ctx, query, id, accessToken, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate access token: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

func (r *tokenRepository) DeactivateExpired(ctx context.Context, now time.Time) ([]domain.TokenPair, error) {
	const query = `
        UPDATE oauth_tokens SET active = FALSE, revoked_at = $1
        WHERE active AND refresh_expires_at < $1
        RETURNING ` + tokenColumns
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("deactivate expired tokens: %w", err)
	}
	pairs, err := collectTokenPairs(rows)
	if err != nil {
		return nil, fmt.Errorf("deactivate expired tokens: %w", err)
	}
	return pairs, nil
}

func (r *tokenRepository) getOne(ctx context.Context, query string, arg string) (*domain.TokenPair, error) {
	pair, err := scanTokenPair(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return pair, nil
}

func collectTokenPairs(rows pgx.Rows) ([]domain.TokenPair, error) {
	defer rows.Close()
	var pairs []domain.TokenPair
	for rows.Next() {
		pair, err := scanTokenPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *pair)
	}
	return pairs, rows.Err()
}

func scanTokenPair(row scanner) (*domain.TokenPair, error) {
	var (
		pair domain.TokenPair
		role string
	)
	if err := row.Scan(
		&pair.ID,
		&pair.AccessToken,
		&pair.RefreshToken,
		&pair.Username,
		&role,
		&pair.OrganizationID,
		&pair.AccessExpiresAt,
		&pair.RefreshExpiresAt,
		&pair.CreatedAt,
		&pair.RevokedAt,
		&pair.Active,
	); err != nil {
		return nil, err
	}
	pair.Role = domain.Role(role)
	return &pair, nil
}
