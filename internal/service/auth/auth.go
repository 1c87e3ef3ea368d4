// internal/service/auth/auth.go
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studyhub-service/internal/domain/user"
	xerrors "studyhub-service/internal/pkg/errors"
	"studyhub-service/internal/pkg/jwt"
	"studyhub-service/internal/pkg/session"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the account persistence auth needs.
type UserStore interface {
	Create(ctx context.Context, u *user.User) error
	FindByID(ctx context.Context, id int64) (*user.User, error)
	FindByEmail(ctx context.Context, email string) (*user.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	AdminExists(ctx context.Context) (bool, error)
}

// SessionStore tracks live sessions and revoked tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, s *session.SessionData) error
	GetSession(ctx context.Context, userID int64, jti string) (*session.SessionData, error)
	InvalidateSession(ctx context.Context, userID int64, jti string) error
	InvalidateAllUserSessions(ctx context.Context, userID int64) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

// LoginLimiter throttles credential guessing per ip/email pair.
type LoginLimiter interface {
	CheckLoginAttempt(ctx context.Context, ip, email string) (bool, int64, error)
	ResetLoginAttempts(ctx context.Context, ip, email string) error
}

type AuthService struct {
	users       UserStore
	jwtManager  *jwt.Manager
	sessions    SessionStore
	rateLimiter LoginLimiter
	logger      *zap.Logger
}

func NewAuthService(
	users UserStore,
	jwtManager *jwt.Manager,
	sessions SessionStore,
	rateLimiter LoginLimiter,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		jwtManager:  jwtManager,
		sessions:    sessions,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// Register creates a new user account and logs it in.
func (s *AuthService) Register(ctx context.Context, req *user.RegisterRequest) (*user.LoginResponse, error) {
	exists, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, xerrors.ErrDuplicateEntry
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &user.User{
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		FullName:     sql.NullString{String: req.FullName, Valid: req.FullName != ""},
	}

	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", u.ID))

	// Auto-login after registration
	return s.loginWithUser(ctx, u)
}

// Login verifies credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, req *user.LoginRequest) (*user.LoginResponse, error) {
	allowed, remaining, err := s.rateLimiter.CheckLoginAttempt(ctx, req.IPAddress, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !allowed {
		s.logger.Warn("login rate limited",
			zap.String("email", req.Email), zap.String("ip", req.IPAddress))
		return nil, xerrors.ErrRateLimited
	}

	u, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrUnauthorized
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("failed login attempt",
			zap.Int64("user_id", u.ID), zap.Int64("attempts_remaining", remaining))
		return nil, xerrors.ErrUnauthorized
	}

	if err := s.rateLimiter.ResetLoginAttempts(ctx, req.IPAddress, req.Email); err != nil {
		s.logger.Warn("failed to reset login attempts", zap.Error(err))
	}

	return s.loginWithUser(ctx, u)
}

func (s *AuthService) loginWithUser(ctx context.Context, u *user.User) (*user.LoginResponse, error) {
	token, jti, err := s.jwtManager.Generator.GenerateAccessToken(u.ID, u.Email, u.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(s.jwtManager.Generator.Ttl)

	err = s.sessions.CreateSession(ctx, &session.SessionData{
		JTI:       jti,
		UserID:    u.ID,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		LoginAt:   now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &user.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.jwtManager.Generator.Ttl.Seconds()),
		ExpiresAt:   expiresAt,
		User:        u.Info(),
	}, nil
}

// ValidateToken checks signature, blacklist, and session liveness. Returns
// the claims for the request context.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*jwt.Claims, error) {
	claims, err := s.jwtManager.Verifier.VerifyAccessToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnauthorized, err)
	}

	blacklisted, err := s.sessions.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return nil, xerrors.ErrUnauthorized
	}

	if _, err := s.sessions.GetSession(ctx, claims.UserID, claims.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrSessionExpired, err)
	}

	return claims, nil
}

// GetProfile returns the public view of an account.
func (s *AuthService) GetProfile(ctx context.Context, userID int64) (*user.UserInfo, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	info := u.Info()
	return &info, nil
}

// Logout revokes the presented token and drops its session.
func (s *AuthService) Logout(ctx context.Context, claims *jwt.Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl > 0 {
		if err := s.sessions.BlacklistToken(ctx, claims.ID, ttl); err != nil {
			return fmt.Errorf("failed to blacklist token: %w", err)
		}
	}

	if err := s.sessions.InvalidateSession(ctx, claims.UserID, claims.ID); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	s.logger.Info("user logged out", zap.Int64("user_id", claims.UserID))
	return nil
}

// LogoutAll revokes the presented token and drops every session the user
// holds, on any device.
func (s *AuthService) LogoutAll(ctx context.Context, claims *jwt.Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl > 0 {
		if err := s.sessions.BlacklistToken(ctx, claims.ID, ttl); err != nil {
			return fmt.Errorf("failed to blacklist token: %w", err)
		}
	}

	if err := s.sessions.InvalidateAllUserSessions(ctx, claims.UserID); err != nil {
		return fmt.Errorf("failed to invalidate sessions: %w", err)
	}

	s.logger.Info("user logged out everywhere", zap.Int64("user_id", claims.UserID))
	return nil
}

// EnsureAdminExists creates the admin account on startup when none exists,
// from environment-provided credentials.
func (s *AuthService) EnsureAdminExists(ctx context.Context, email, password, fullName string) error {
	exists, err := s.users.AdminExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check admin existence: %w", err)
	}
	if exists {
		s.logger.Info("admin account already exists, skipping creation")
		return nil
	}

	if email == "" || password == "" {
		return fmt.Errorf("admin email and password must be provided via environment variables")
	}

	emailExists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if emailExists {
		return fmt.Errorf("email %s already exists but is not an admin", email)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &user.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		FullName:     sql.NullString{String: fullName, Valid: fullName != ""},
		IsAdmin:      true,
	}

	if err := s.users.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	s.logger.Info("admin account created", zap.String("email", email))
	return nil
}
