package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"homestack-control-plane/internal/metrics"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/security"
	tokendomain "homestack-control-plane/internal/token/domain"
	tokenrepo "homestack-control-plane/internal/token/repository"
	userdomain "homestack-control-plane/internal/user/domain"
	userrepo "homestack-control-plane/internal/user/repository"
)

// maxPasswordBytes is bcrypt's input limit; longer passwords are rejected rather than truncated.
const maxPasswordBytes = 72

const (
	msgInvalidCredentials  = "invalid email or password"
	msgInvalidRefreshToken = "invalid or expired refresh token"
	msgInvalidAccessToken  = "invalid or expired access token"
)

// AuthResult holds the token pair issued by Login and Refresh.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	UserID       string
}

// Principal is the verified identity behind an access token.
type Principal struct {
	UserID string
	Email  string
	Role   string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// RefreshTokenRepo is the minimal refresh token repository needed by the auth service.
type RefreshTokenRepo interface {
	Create(ctx context.Context, t *tokendomain.RefreshToken) error
	GetByJTI(ctx context.Context, jti string) (*tokendomain.RefreshToken, error)
	Rotate(ctx context.Context, oldJTI string, next *tokendomain.RefreshToken, revokedAt time.Time) error
	Revoke(ctx context.Context, jti string, revokedAt time.Time) error
}

// Denylist is the fast revocation check for refresh-token jtis.
type Denylist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// AuthService implements password register, login, refresh-token rotation, logout,
// and access-token verification.
type AuthService struct {
	users             UserRepo
	refreshTokens     RefreshTokenRepo
	denylist          Denylist
	hasher            *security.Hasher
	tokens            *security.TokenProvider
	passwordMinLength int
	metrics           *metrics.Metrics
	log               zerolog.Logger
	now               func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. m may be nil.
func NewAuthService(
	users UserRepo,
	refreshTokens RefreshTokenRepo,
	denylist Denylist,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	passwordMinLength int,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:             users,
		refreshTokens:     refreshTokens,
		denylist:          denylist,
		hasher:            hasher,
		tokens:            tokens,
		passwordMinLength: passwordMinLength,
		metrics:           m,
		log:               logger.With().Str("component", "auth").Logger(),
		now:               time.Now,
	}
}

// Register creates a user with the given email and password and returns the new user.
// Duplicate emails fail with a Conflict; policy failures with a Validation error.
func (s *AuthService) Register(ctx context.Context, email, password string) (*userdomain.User, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := s.validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if existing != nil {
		return nil, apperr.Conflict("email already registered")
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		Role:         userdomain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, apperr.Internal(err)
	}
	s.metrics.Registered()
	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login verifies the password and issues an access/refresh pair. The refresh jti is persisted.
// Unknown email and wrong password fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		s.metrics.Login("failure")
		return nil, apperr.Authentication(msgInvalidCredentials)
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.metrics.Login("failure")
		return nil, apperr.Authentication(msgInvalidCredentials)
	}
	sub := subjectOf(user.ID, user.Email, string(user.Role))
	refresh, err := s.tokens.IssueRefresh(sub)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.refreshTokens.Create(ctx, s.refreshRow(user.ID, refresh)); err != nil {
		return nil, apperr.Internal(err)
	}
	access, err := s.tokens.IssueAccess(sub)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.metrics.Login("success")
	return &AuthResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    "bearer",
		ExpiresAt:    access.ExpiresAt,
		UserID:       user.ID,
	}, nil
}

// Refresh validates the refresh token and rotates it. The new row is persisted and the old
// jti revoked in one transaction, then the old jti is denylisted for its remaining lifetime.
// Presenting an already exchanged token fails with an Authentication error.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		s.metrics.Refresh("invalid")
		return nil, apperr.Authentication(msgInvalidRefreshToken)
	}
	denied, err := s.denylist.Contains(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Unavailable("token store unavailable", err)
	}
	if denied {
		s.metrics.Refresh("revoked")
		return nil, apperr.Authentication(msgInvalidRefreshToken)
	}
	now := s.now().UTC()
	row, err := s.refreshTokens.GetByJTI(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if row == nil || row.UserID != claims.Subject || !row.Usable(now) {
		s.metrics.Refresh("revoked")
		return nil, apperr.Authentication(msgInvalidRefreshToken)
	}

	sub := subjectOf(claims.Subject, claims.Email, claims.Role)
	next, err := s.tokens.IssueRefresh(sub)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	access, err := s.tokens.IssueAccess(sub)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.refreshTokens.Rotate(ctx, claims.ID, s.refreshRow(claims.Subject, next), now); err != nil {
		if errors.Is(err, tokenrepo.ErrNotRotatable) {
			s.metrics.Refresh("reused")
			return nil, apperr.Authentication(msgInvalidRefreshToken)
		}
		return nil, apperr.Internal(err)
	}
	if err := s.denylist.Add(ctx, claims.ID, row.ExpiresAt); err != nil {
		// The row is already revoked; the denylist only short-circuits the lookup.
		s.log.Warn().Err(err).Str("user_id", claims.Subject).Msg("denylist add failed after rotation")
	}
	s.metrics.Refresh("success")
	return &AuthResult{
		AccessToken:  access.Token,
		RefreshToken: next.Token,
		TokenType:    "bearer",
		ExpiresAt:    access.ExpiresAt,
		UserID:       claims.Subject,
	}, nil
}

// Logout revokes and denylists the refresh token's jti. Logging out an already revoked token succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return apperr.Authentication(msgInvalidRefreshToken)
	}
	if err := s.refreshTokens.Revoke(ctx, claims.ID, s.now().UTC()); err != nil {
		return apperr.Internal(err)
	}
	if err := s.denylist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		s.log.Warn().Err(err).Str("user_id", claims.Subject).Msg("denylist add failed on logout")
	}
	return nil
}

// VerifyAccessToken checks signature, type and expiry of an access token and returns its principal.
// Access tokens are not individually revocable; no store is consulted.
func (s *AuthService) VerifyAccessToken(_ context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, apperr.Authentication(msgInvalidAccessToken)
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

func (s *AuthService) refreshRow(userID string, t security.IssuedToken) *tokendomain.RefreshToken {
	return &tokendomain.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		JTI:       t.JTI,
		ExpiresAt: t.ExpiresAt,
		CreatedAt: s.now().UTC(),
	}
}

func subjectOf(userID, email, role string) security.Subject {
	return security.Subject{UserID: userID, Email: email, Role: role}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return apperr.Validation("email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperr.Validation("invalid email format")
	}
	return nil
}

func (s *AuthService) validatePassword(password string) error {
	if len([]rune(password)) < s.passwordMinLength {
		return apperr.Validation("password is too short")
	}
	if len(password) > maxPasswordBytes {
		return apperr.Validation("password is too long")
	}
	return nil
}
