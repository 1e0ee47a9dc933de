package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"schooldesk/internal/domain"
	"schooldesk/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	maxFailedLoginAttempts = 5
	lockoutDuration        = 15 * time.Minute

	reasonReuseDetected = "reuse_detected"
	reasonLogout        = "logout"
	reasonAdminRevoked  = "admin_revoked"
)

// Service contains the token lifecycle logic: login, rotation, replay
// containment and logout.
type Service struct {
	users              UserRepositoryInterface
	ledger             RefreshLedger
	jwt                jwtService
	refreshTokenPepper string
	refreshTTL         time.Duration
}

type LoginResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

func NewService(
	users UserRepositoryInterface,
	ledger RefreshLedger,
	jwt jwtService,
	refreshTokenPepper string,
	refreshTTL time.Duration,
) *Service {
	return &Service{
		users:              users,
		ledger:             ledger,
		jwt:                jwt,
		refreshTokenPepper: refreshTokenPepper,
		refreshTTL:         refreshTTL,
	}
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now()
	if user.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		failedAttempts := user.FailedLoginAttempts + 1
		var lockedUntil any
		if failedAttempts >= maxFailedLoginAttempts {
			lockedUntil = now.Add(lockoutDuration)
		}
		if updateErr := s.users.UpdateLoginAttempts(ctx, user.ID, failedAttempts, lockedUntil); updateErr != nil {
			return nil, updateErr
		}
		if failedAttempts >= maxFailedLoginAttempts {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := s.users.UpdateLoginAttempts(ctx, user.ID, 0, nil); err != nil {
			return nil, err
		}
	}

	accessToken, err := s.jwt.GenerateToken(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}

	refreshRaw, refreshHash, err := generateOpaqueRefreshToken(s.refreshTokenPepper)
	if err != nil {
		return nil, err
	}

	// a login starts a fresh rotation family
	rec := &domain.RefreshRecord{
		UserID:    user.ID,
		TokenHash: refreshHash,
		JTI:       uuid.NewString(),
		FamilyID:  uuid.NewString(),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.ledger.Create(ctx, rec); err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return &LoginResult{User: user, AccessToken: accessToken, RefreshToken: refreshRaw}, nil
}

// Refresh exchanges a valid refresh credential for a new pair. The old
// record is consumed exactly once; presenting a consumed credential, or
// losing the consume race, revokes the whole family.
func (s *Service) Refresh(ctx context.Context, refreshRaw string) (*RefreshResult, error) {
	now := time.Now()
	hash := hashTokenWithPepper(refreshRaw, s.refreshTokenPepper)

	current, err := s.ledger.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if current.IsRevoked() || current.IsExpired(now) {
		return nil, ErrInvalidRefreshToken
	}

	if current.IsConsumed() {
		return nil, s.containReuse(ctx, current, now)
	}

	consumed, err := s.ledger.ConsumeIfUnused(ctx, current.ID, now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// a concurrent call won the consume race with the same raw
		// credential, which is still a second use
		return nil, s.containReuse(ctx, current, now)
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.jwt.GenerateToken(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}

	newRaw, newHash, err := generateOpaqueRefreshToken(s.refreshTokenPepper)
	if err != nil {
		return nil, err
	}

	next := &domain.RefreshRecord{
		UserID:    current.UserID,
		TokenHash: newHash,
		JTI:       uuid.NewString(),
		FamilyID:  current.FamilyID,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.ledger.Create(ctx, next); err != nil {
		return nil, err
	}
	if err := s.ledger.LinkRotation(ctx, current.ID, next.ID); err != nil {
		return nil, err
	}

	return &RefreshResult{AccessToken: accessToken, RefreshToken: newRaw}, nil
}

func (s *Service) containReuse(ctx context.Context, rec *domain.RefreshRecord, now time.Time) error {
	// distinct log line for audit: reuse is a security signal, not a
	// routine expiry
	log.Printf("refresh_reuse_detected user_id=%d family_id=%s record_id=%d", rec.UserID, rec.FamilyID, rec.ID)

	if err := s.ledger.RevokeFamily(ctx, rec.FamilyID, reasonReuseDetected, now); err != nil {
		return err
	}
	return ErrRefreshTokenReused
}

// Logout revokes the presented refresh credential. Unknown credentials
// are ignored so logout stays idempotent.
func (s *Service) Logout(ctx context.Context, refreshRaw string) error {
	hash := hashTokenWithPepper(refreshRaw, s.refreshTokenPepper)
	now := time.Now()

	rec, err := s.ledger.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return s.ledger.Revoke(ctx, rec.ID, reasonLogout, now)
}

// RevokeAllSessions kills every outstanding refresh credential of a user.
func (s *Service) RevokeAllSessions(ctx context.Context, userID int64) error {
	return s.ledger.RevokeByUser(ctx, userID, reasonAdminRevoked, time.Now())
}

func (s *Service) GetCurrentUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

func generateOpaqueRefreshToken(pepper string) (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	hash = hashTokenWithPepper(raw, pepper)
	return raw, hash, nil
}

func hashTokenWithPepper(raw, pepper string) string {
	sum := sha256.Sum256([]byte(raw + pepper))
	return hex.EncodeToString(sum[:])
}
