package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/patient-track/internal/domain"
)

var tokenCols = []string{
	"id", "access_token", "refresh_token", "username", "role", "organization_id",
	"access_expires_at", "refresh_expires_at", "created_at", "revoked_at", "active",
}

func newPair(now time.Time) *domain.TokenPair {
	return &domain.TokenPair{
		AccessToken:      "access-new",
		RefreshToken:     "refresh-new",
		Username:         "alice",
		Role:             domain.RoleDoctor,
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
		CreatedAt:        now,
	}
}

func TestTokenRepository_ReplaceActiveSupersedesAndInserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	pair := newPair(now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE oauth_tokens SET active = FALSE, revoked_at = $2")).
		WithArgs("alice", now).
		WillReturnRows(pgxmock.NewRows(tokenCols).AddRow(
			int64(3), "access-old", "refresh-old", "alice", "DOCTOR", (*int64)(nil),
			now.Add(-time.Minute), now.Add(time.Hour), now.Add(-time.Hour), &now, false,
		))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO oauth_tokens")).
		WithArgs("access-new", "refresh-new", "alice", "DOCTOR", (*int64)(nil),
			pair.AccessExpiresAt, pair.RefreshExpiresAt, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCommit()

	repo := NewTokenRepository(mock)
	superseded, err := repo.ReplaceActive(context.Background(), pair)
	require.NoError(t, err)

	require.Len(t, superseded, 1)
	assert.Equal(t, "access-old", superseded[0].AccessToken)
	assert.False(t, superseded[0].Active)
	assert.Equal(t, domain.RoleDoctor, superseded[0].Role)
	assert.Equal(t, int64(4), pair.ID)
	assert.True(t, pair.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_ReplaceActiveRollsBackOnInsertFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	pair := newPair(now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE oauth_tokens")).
		WithArgs("alice", now).
		WillReturnRows(pgxmock.NewRows(tokenCols))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO oauth_tokens")).
		WithArgs("access-new", "refresh-new", "alice", "DOCTOR", (*int64)(nil),
			pair.AccessExpiresAt, pair.RefreshExpiresAt, now).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	repo := NewTokenRepository(mock)
	_, err = repo.ReplaceActive(context.Background(), pair)
	require.Error(t, err)
	assert.False(t, pair.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_GetActiveByAccessToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	org := int64(9)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE access_token=$1 AND active")).
		WithArgs("tok").
		WillReturnRows(pgxmock.NewRows(tokenCols).AddRow(
			int64(1), "tok", "ref", "bob", "ADMIN", &org,
			now.Add(time.Hour), now.Add(48*time.Hour), now, (*time.Time)(nil), true,
		))

	repo := NewTokenRepository(mock)
	pair, err := repo.GetActiveByAccessToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "bob", pair.Username)
	assert.Equal(t, domain.RoleAdmin, pair.Role)
	require.NotNil(t, pair.OrganizationID)
	assert.Equal(t, int64(9), *pair.OrganizationID)
	assert.Nil(t, pair.RevokedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_GetActiveMissingMapsToNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE refresh_token=$1 AND active")).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	repo := NewTokenRepository(mock)
	_, err = repo.GetActiveByRefreshToken(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_DeactivateLostRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE oauth_tokens SET active = FALSE, revoked_at = $2 WHERE id=$1 AND active")).
		WithArgs(int64(5), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewTokenRepository(mock)
	err = repo.Deactivate(context.Background(), 5, now)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_RotateAccessToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expires := time.Now().UTC().Add(time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("SET access_token=$2, access_expires_at=$3 WHERE id=$1 AND active")).
		WithArgs(int64(5), "fresh", expires).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewTokenRepository(mock)
	require.NoError(t, repo.RotateAccessToken(context.Background(), 5, "fresh", expires))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_DeactivateExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE active AND refresh_expires_at < $1")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(tokenCols).
			AddRow(int64(1), "a1", "r1", "alice", "PATIENT", (*int64)(nil),
				now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(-48*time.Hour), &now, false).
			AddRow(int64(2), "a2", "r2", "bob", "DOCTOR", (*int64)(nil),
				now.Add(-2*time.Hour), now.Add(-time.Minute), now.Add(-48*time.Hour), &now, false))

	repo := NewTokenRepository(mock)
	expired, err := repo.DeactivateExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "a2", expired[1].AccessToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}
