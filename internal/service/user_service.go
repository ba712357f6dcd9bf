package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/spec-kit/patient-track/internal/auth"
	"github.com/spec-kit/patient-track/internal/domain"
	"github.com/spec-kit/patient-track/internal/repository"
)

// RegisterInput carries a validated registration request.
type RegisterInput struct {
	Username       string
	Email          string
	Password       string
	FirstName      string
	LastName       string
	Role           domain.Role
	OrganizationID *int64
}

// UserService is the credential store: it owns user records and their
// password hashes.
type UserService struct {
	users      repository.UserRepository
	bcryptCost int
}

// NewUserService builds the service.
func NewUserService(users repository.UserRepository, bcryptCost int) *UserService {
	return &UserService{users: users, bcryptCost: bcryptCost}
}

// Register hashes the password and stores a new active user.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Username:       strings.TrimSpace(in.Username),
		Email:          strings.TrimSpace(in.Email),
		PasswordHash:   hash,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Role:           in.Role,
		OrganizationID: in.OrganizationID,
		Active:         true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetAuthRecord returns the credential record for username, hash included.
func (s *UserService) GetAuthRecord(ctx context.Context, username string) (*domain.Credential, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return user.Credential(), nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.users.GetByUsername(ctx, username)
}
