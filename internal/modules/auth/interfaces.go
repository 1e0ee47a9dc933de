package auth

import (
	"context"
	"time"

	"schooldesk/internal/domain"
)

// UserRepositoryInterface — only the methods the auth service uses
type UserRepositoryInterface interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateLoginAttempts(ctx context.Context, id int64, attempts int, lockedUntil any) error
}

// RefreshLedger is the storage for refresh records. Two implementations
// exist (SQL and Redis); ConsumeIfUnused must be atomic with respect to
// concurrent callers on both.
type RefreshLedger interface {
	Create(ctx context.Context, rec *domain.RefreshRecord) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshRecord, error)
	ConsumeIfUnused(ctx context.Context, id int64, now time.Time) (bool, error)
	LinkRotation(ctx context.Context, fromID, toID int64) error
	Revoke(ctx context.Context, id int64, reason string, now time.Time) error
	RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) error
	RevokeByUser(ctx context.Context, userID int64, reason string, now time.Time) error
}

type jwtService interface {
	GenerateToken(userID int64, role string) (string, error)
}
