package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/patient-track/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// UserRepository defines persistence access for platform users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

const userSelect = `
        SELECT u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name,
               u.role, u.organization_id, o.name, u.active, u.created_at, u.updated_at
        FROM usersdata u
        LEFT JOIN organizations o ON o.id = u.organization_id`

type userRepository struct {
	db DBTX
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        WITH inserted AS (
            INSERT INTO usersdata (username, email, password_hash, first_name, last_name, role, organization_id, active)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
            RETURNING id, organization_id, created_at, updated_at
        )
        SELECT i.id, o.name, i.created_at, i.updated_at
        FROM inserted i
        LEFT JOIN organizations o ON o.id = i.organization_id`

	err := r.db.QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		string(user.Role),
		user.OrganizationID,
		user.Active,
	).Scan(&user.ID, &user.OrganizationName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return domain.ErrUserExists
			case pgForeignKeyViolation:
				return domain.ErrOrganizationNotFound
			}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, userSelect+` WHERE u.id=$1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, userSelect+` WHERE u.username=$1`, username)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&role,
		&user.OrganizationID,
		&user.OrganizationName,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.Role = domain.Role(role)
	return &user, nil
}
