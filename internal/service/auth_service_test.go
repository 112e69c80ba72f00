package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
)

type mockAuthRepo struct {
	mock.Mock
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockAuthRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockAuthRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockAuthRepo) CreateSession(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockAuthRepo) GetSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockAuthRepo) DeleteSession(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

func (m *mockAuthRepo) UpdateLastLoginAt(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func newTestTokenManager() *TokenManager {
	return NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
}

func TestAuthServiceRegister(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, newTestTokenManager())

	repo.On("GetByEmail", mock.Anything, "new@example.com").Return(nil, repository.ErrUserNotFound)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.User")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.User).ID = uuid.New()
		}).
		Return(nil)
	repo.On("CreateSession", mock.Anything, mock.AnythingOfType("*models.Session")).Return(nil)

	result, err := svc.Register(context.Background(), RegisterInput{
		Email:    "new@example.com",
		Password: "Str0ngPass",
		Role:     models.RoleFreelancer,
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "new", result.User.Username)
	assert.Equal(t, models.RoleFreelancer, result.User.Role)
	assert.NotEmpty(t, result.TokenPair.AccessToken)
	assert.NotEmpty(t, result.TokenPair.RefreshToken)
	repo.AssertExpectations(t)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, newTestTokenManager())

	repo.On("GetByEmail", mock.Anything, "taken@example.com").
		Return(&models.User{ID: uuid.New()}, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "taken@example.com",
		Password: "Str0ngPass",
		Role:     models.RoleClient,
	}, nil)

	assert.Error(t, err)
	repo.AssertNotCalled(t, "Create")
}

func TestAuthServiceRegisterValidation(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, newTestTokenManager())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "Str0ngPass", Role: models.RoleClient}, nil)
	assert.Error(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.com", Password: "weak", Role: models.RoleClient}, nil)
	assert.Error(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.com", Password: "Str0ngPass", Role: "admin"}, nil)
	assert.Error(t, err)
}

func TestAuthServiceLogin(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, newTestTokenManager())

	hash, err := bcrypt.GenerateFromPassword([]byte("Str0ngPass"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: string(hash),
		Role:         models.RoleClient,
		IsActive:     true,
	}

	repo.On("GetByEmail", mock.Anything, "user@example.com").Return(user, nil)
	repo.On("UpdateLastLoginAt", mock.Anything, user.ID).Return(nil)
	repo.On("CreateSession", mock.Anything, mock.AnythingOfType("*models.Session")).Return(nil)

	result, err := svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "Str0ngPass",
	}, map[string]string{"ip": "127.0.0.1"})

	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.NotEmpty(t, result.TokenPair.AccessToken)
	repo.AssertExpectations(t)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, newTestTokenManager())

	hash, err := bcrypt.GenerateFromPassword([]byte("Str0ngPass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.On("GetByEmail", mock.Anything, "user@example.com").Return(&models.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
	}, nil)

	_, err = svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "WrongPass1",
	}, nil)

	assert.Error(t, err)
	repo.AssertNotCalled(t, "CreateSession")
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, newTestTokenManager())

	repo.On("GetByEmail", mock.Anything, "blocked@example.com").Return(&models.User{
		ID:       uuid.New(),
		Email:    "blocked@example.com",
		IsActive: false,
	}, nil)

	_, err := svc.Login(context.Background(), LoginInput{
		Email:    "blocked@example.com",
		Password: "Str0ngPass",
	}, nil)

	assert.Error(t, err)
}

func TestAuthServiceRefreshRotatesSession(t *testing.T) {
	repo := new(mockAuthRepo)
	tm := newTestTokenManager()
	svc := NewAuthService(repo, tm)
	user := &models.User{ID: uuid.New(), Role: models.RoleClient, IsActive: true}

	pair, _, err := tm.GeneratePair(user)
	require.NoError(t, err)

	repo.On("GetSession", mock.Anything, pair.RefreshToken).
		Return(&models.Session{UserID: user.ID, RefreshToken: pair.RefreshToken}, nil)
	repo.On("GetByID", mock.Anything, user.ID).Return(user, nil)
	repo.On("DeleteSession", mock.Anything, pair.RefreshToken).Return(nil)
	repo.On("CreateSession", mock.Anything, mock.AnythingOfType("*models.Session")).Return(nil)

	newPair, err := svc.Refresh(context.Background(), pair.RefreshToken, nil)

	require.NoError(t, err)
	assert.NotEmpty(t, newPair.AccessToken)
	repo.AssertExpectations(t)
}

func TestAuthServiceRefreshUnknownSession(t *testing.T) {
	repo := new(mockAuthRepo)
	tm := newTestTokenManager()
	svc := NewAuthService(repo, tm)

	pair, _, err := tm.GeneratePair(&models.User{ID: uuid.New(), Role: models.RoleClient})
	require.NoError(t, err)

	repo.On("GetSession", mock.Anything, pair.RefreshToken).Return(nil, repository.ErrSessionNotFound)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, nil)
	assert.Error(t, err)
	repo.AssertNotCalled(t, "DeleteSession")
}
