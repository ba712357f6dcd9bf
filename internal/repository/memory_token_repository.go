package repository

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/patient-track/internal/domain"
)

type memoryTokenRepository struct {
	mu     sync.Mutex
	nextID int64
	pairs  []*domain.TokenPair
}

// NewMemoryTokenRepository returns a process-local TokenRepository used when no
// database is configured and in tests.
func NewMemoryTokenRepository() TokenRepository {
	return &memoryTokenRepository{}
}

func (r *memoryTokenRepository) ReplaceActive(_ context.Context, pair *domain.TokenPair) ([]domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var superseded []domain.TokenPair
	for _, existing := range r.pairs {
		if existing.Active && existing.Username == pair.Username {
			deactivate(existing, pair.CreatedAt)
			superseded = append(superseded, *existing)
		}
	}

	r.nextID++
	pair.ID = r.nextID
	pair.Active = true
	pair.RevokedAt = nil
	stored := *pair
	r.pairs = append(r.pairs, &stored)
	return superseded, nil
}

func (r *memoryTokenRepository) GetActiveByAccessToken(_ context.Context, accessToken string) (*domain.TokenPair, error) {
	return r.find(func(p *domain.TokenPair) bool { return p.AccessToken == accessToken })
}

func (r *memoryTokenRepository) GetActiveByRefreshToken(_ context.Context, refreshToken string) (*domain.TokenPair, error) {
	return r.find(func(p *domain.TokenPair) bool { return p.RefreshToken == refreshToken })
}

func (r *memoryTokenRepository) GetActiveByUsername(_ context.Context, username string) (*domain.TokenPair, error) {
	return r.find(func(p *domain.TokenPair) bool { return p.Username == username })
}

func (r *memoryTokenRepository) Deactivate(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pairs {
		if p.ID == id && p.Active {
			deactivate(p, at)
			return nil
		}
	}
	return domain.ErrTokenNotFound
}

func (r *memoryTokenRepository) RotateAccessToken(_ context.Context, id int64, accessToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pairs {
		if p.ID == id && p.Active {
			p.AccessToken = accessToken
			p.AccessExpiresAt = expiresAt
			return nil
		}
	}
	return domain.ErrTokenNotFound
}

func (r *memoryTokenRepository) DeactivateExpired(_ context.Context, now time.Time) ([]domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.TokenPair
	for _, p := range r.pairs {
		if p.Active && p.RefreshExpiresAt.Before(now) {
			deactivate(p, now)
			expired = append(expired, *p)
		}
	}
	return expired, nil
}

func (r *memoryTokenRepository) find(match func(*domain.TokenPair) bool) (*domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.pairs) - 1; i >= 0; i-- {
		p := r.pairs[i]
		if p.Active && match(p) {
			out := *p
			return &out, nil
		}
	}
	return nil, domain.ErrTokenNotFound
}

func deactivate(p *domain.TokenPair, at time.Time) {
	revokedAt := at
	p.Active = false
	p.RevokedAt = &revokedAt
}
