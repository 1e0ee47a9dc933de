package auth

import (
	"context"
	"testing"
	"time"

	"schooldesk/internal/domain"
	"schooldesk/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) UpdateLoginAttempts(ctx context.Context, id int64, attempts int, lockedUntil any) error {
	args := m.Called(ctx, id, attempts, lockedUntil)
	return args.Error(0)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Create(ctx context.Context, rec *domain.RefreshRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockLedger) GetByHash(ctx context.Context, hash string) (*domain.RefreshRecord, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshRecord), args.Error(1)
}

func (m *mockLedger) ConsumeIfUnused(ctx context.Context, id int64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) LinkRotation(ctx context.Context, fromID, toID int64) error {
	args := m.Called(ctx, fromID, toID)
	return args.Error(0)
}

func (m *mockLedger) Revoke(ctx context.Context, id int64, reason string, now time.Time) error {
	args := m.Called(ctx, id, reason, now)
	return args.Error(0)
}

func (m *mockLedger) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) error {
	args := m.Called(ctx, familyID, reason, now)
	return args.Error(0)
}

func (m *mockLedger) RevokeByUser(ctx context.Context, userID int64, reason string, now time.Time) error {
	args := m.Called(ctx, userID, reason, now)
	return args.Error(0)
}

type mockJWTService struct {
	mock.Mock
}

func (m *mockJWTService) GenerateToken(userID int64, role string) (string, error) {
	args := m.Called(userID, role)
	return args.String(0), args.Error(1)
}

func testUser(t *testing.T, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &domain.User{
		ID:           10,
		Email:        "alice@school.test",
		PasswordHash: string(hash),
		Role:         domain.RoleStudent,
		Name:         "Alice",
	}
}

func newTestService(users *mockUserRepo, ledger *mockLedger, jwtSvc *mockJWTService) *Service {
	return NewService(users, ledger, jwtSvc, "test-pepper", 168*time.Hour)
}

func TestService_Login_Success(t *testing.T) {
	users := new(mockUserRepo)
	ledger := new(mockLedger)
	jwtSvc := new(mockJWTService)

	users.On("GetByEmail", mock.Anything, "alice@school.test").Return(testUser(t, "correct-password"), nil)
	jwtSvc.On("GenerateToken", int64(10), "student").Return("fake-access-token", nil)
	ledger.On("Create", mock.Anything, mock.MatchedBy(func(rec *domain.RefreshRecord) bool {
		return rec.UserID == 10 && rec.FamilyID != "" && rec.TokenHash != ""
	})).Return(nil)

	service := newTestService(users, ledger, jwtSvc)

	result, err := service.Login(context.Background(), LoginRequest{
		Email:    "alice@school.test",
		Password: "correct-password",
	})

	require.NoError(t, err)
	assert.Equal(t, "fake-access-token", result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Empty(t, result.User.PasswordHash)

	ledger.AssertExpectations(t)
	jwtSvc.AssertExpectations(t)
}

func TestService_Login_WrongPassword(t *testing.T) {
	users := new(mockUserRepo)
	ledger := new(mockLedger)
	jwtSvc := new(mockJWTService)

	users.On("GetByEmail", mock.Anything, "alice@school.test").Return(testUser(t, "correct-password"), nil)
	users.On("UpdateLoginAttempts", mock.Anything, int64(10), 1, nil).Return(nil)

	service := newTestService(users, ledger, jwtSvc)

	_, err := service.Login(context.Background(), LoginRequest{
		Email:    "alice@school.test",
		Password: "wrong-password",
	})

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_Login_LockoutAfterMaxAttempts(t *testing.T) {
	users := new(mockUserRepo)
	ledger := new(mockLedger)
	jwtSvc := new(mockJWTService)

	user := testUser(t, "correct-password")
	user.FailedLoginAttempts = maxFailedLoginAttempts - 1

	users.On("GetByEmail", mock.Anything, "alice@school.test").Return(user, nil)
	users.On("UpdateLoginAttempts", mock.Anything, int64(10), maxFailedLoginAttempts, mock.Anything).Return(nil)

	service := newTestService(users, ledger, jwtSvc)

	_, err := service.Login(context.Background(), LoginRequest{
		Email:    "alice@school.test",
		Password: "wrong-password",
	})

	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestService_Login_UnknownEmail(t *testing.T) {
	users := new(mockUserRepo)

	users.On("GetByEmail", mock.Anything, "ghost@school.test").Return(nil, gorm.ErrRecordNotFound)

	service := newTestService(users, new(mockLedger), new(mockJWTService))

	_, err := service.Login(context.Background(), LoginRequest{
		Email:    "ghost@school.test",
		Password: "whatever",
	})

	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_Refresh_Success(t *testing.T) {
	users := new(mockUserRepo)
	ledger := new(mockLedger)
	jwtSvc := new(mockJWTService)

	current := &domain.RefreshRecord{
		ID:        1,
		UserID:    10,
		FamilyID:  "fam-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(current, nil)
	ledger.On("ConsumeIfUnused", mock.Anything, int64(1), mock.Anything).Return(true, nil)
	users.On("GetByID", mock.Anything, int64(10)).Return(testUser(t, "pw"), nil)
	jwtSvc.On("GenerateToken", int64(10), "student").Return("new-access-token", nil)
	ledger.On("Create", mock.Anything, mock.MatchedBy(func(rec *domain.RefreshRecord) bool {
		return rec.FamilyID == "fam-1" && rec.UserID == 10
	})).Return(nil).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.RefreshRecord).ID = 2
	})
	ledger.On("LinkRotation", mock.Anything, int64(1), int64(2)).Return(nil)

	service := newTestService(users, ledger, jwtSvc)

	result, err := service.Refresh(context.Background(), "raw-refresh-token")

	require.NoError(t, err)
	assert.Equal(t, "new-access-token", result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	ledger.AssertExpectations(t)
}

func TestService_Refresh_UnknownToken(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(nil, repository.ErrRecordNotFound)

	service := newTestService(new(mockUserRepo), ledger, new(mockJWTService))

	_, err := service.Refresh(context.Background(), "unknown-token")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestService_Refresh_RevokedToken(t *testing.T) {
	ledger := new(mockLedger)
	now := time.Now()
	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(&domain.RefreshRecord{
		ID:        3,
		FamilyID:  "fam-r",
		ExpiresAt: now.Add(time.Hour),
		RevokedAt: &now,
	}, nil)

	service := newTestService(new(mockUserRepo), ledger, new(mockJWTService))

	_, err := service.Refresh(context.Background(), "revoked-token")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	ledger.AssertNotCalled(t, "ConsumeIfUnused", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Refresh_ReplayRevokesFamily(t *testing.T) {
	ledger := new(mockLedger)
	now := time.Now()
	usedAt := now.Add(-time.Minute)

	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(&domain.RefreshRecord{
		ID:        4,
		UserID:    10,
		FamilyID:  "fam-replay",
		ExpiresAt: now.Add(time.Hour),
		UsedAt:    &usedAt,
	}, nil)
	ledger.On("RevokeFamily", mock.Anything, "fam-replay", reasonReuseDetected, mock.Anything).Return(nil)

	service := newTestService(new(mockUserRepo), ledger, new(mockJWTService))

	_, err := service.Refresh(context.Background(), "replayed-token")
	assert.ErrorIs(t, err, ErrRefreshTokenReused)
	ledger.AssertExpectations(t)
}

func TestService_Refresh_ConsumeRaceLoserIsReuse(t *testing.T) {
	ledger := new(mockLedger)

	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(&domain.RefreshRecord{
		ID:        5,
		UserID:    10,
		FamilyID:  "fam-race",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	ledger.On("ConsumeIfUnused", mock.Anything, int64(5), mock.Anything).Return(false, nil)
	ledger.On("RevokeFamily", mock.Anything, "fam-race", reasonReuseDetected, mock.Anything).Return(nil)

	service := newTestService(new(mockUserRepo), ledger, new(mockJWTService))

	_, err := service.Refresh(context.Background(), "raced-token")
	assert.ErrorIs(t, err, ErrRefreshTokenReused)
	ledger.AssertExpectations(t)
}

func TestService_Refresh_ExpiredRecord(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(&domain.RefreshRecord{
		ID:        6,
		FamilyID:  "fam-e",
		ExpiresAt: time.Now().Add(-time.Minute),
	}, nil)

	service := newTestService(new(mockUserRepo), ledger, new(mockJWTService))

	_, err := service.Refresh(context.Background(), "expired-token")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestService_Logout_Idempotent(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(nil, repository.ErrRecordNotFound)

	service := newTestService(new(mockUserRepo), ledger, new(mockJWTService))

	assert.NoError(t, service.Logout(context.Background(), "already-gone"))
}

func TestService_Logout_RevokesRecord(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("GetByHash", mock.Anything, mock.Anything).Return(&domain.RefreshRecord{
		ID:       7,
		FamilyID: "fam-lo",
	}, nil)
	ledger.On("Revoke", mock.Anything, int64(7), reasonLogout, mock.Anything).Return(nil)

	service := newTestService(new(mockUserRepo), ledger, new(mockJWTService))

	assert.NoError(t, service.Logout(context.Background(), "valid-token"))
	ledger.AssertExpectations(t)
}
