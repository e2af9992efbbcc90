package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dsaroadmap/internal/models"
	"dsaroadmap/internal/repository"
	"dsaroadmap/internal/security"
	"dsaroadmap/internal/validation"
)

var (
	ErrEmailTaken               = errors.New("email already taken")
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrEmailNotVerified         = errors.New("email address not verified")
	ErrInvalidVerificationToken = errors.New("invalid or expired verification token")
	ErrTooManyAttempts          = errors.New("too many sign-in attempts, try again later")
)

// AuthEvent names an authentication state change.
type AuthEvent string

const (
	EventSignedIn    AuthEvent = "SIGNED_IN"
	EventSignedOut   AuthEvent = "SIGNED_OUT"
	EventUserUpdated AuthEvent = "USER_UPDATED"
)

const verificationTokenTTL = 24 * time.Hour

// Session is an authenticated session as seen by clients.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        *models.User
}

// SignUpResult reports the created account. PendingVerification is set
// when the user must confirm the address before signing in.
type SignUpResult struct {
	User                *models.User
	PendingVerification bool
}

// VerificationSender delivers verification links
type VerificationSender interface {
	IsEnabled() bool
	SendVerificationEmail(ctx context.Context, toEmail, toName, token string) error
}

// AuthListener receives authentication changes
type AuthListener func(event AuthEvent, session *Session)

// AuthService handles authentication business logic
type AuthService struct {
	userRepo        *repository.UserRepository
	tokens          *security.TokenIssuer
	mailer          VerificationSender
	limiter         *security.RateLimiter
	sessionDuration time.Duration
	logger          *slog.Logger

	mu        sync.Mutex
	listeners map[int]AuthListener
	nextID    int
}

// NewAuthService creates a new auth service
func NewAuthService(userRepo *repository.UserRepository, tokens *security.TokenIssuer, mailer VerificationSender, sessionDuration time.Duration, logger *slog.Logger) *AuthService {
	return &AuthService{
		userRepo:        userRepo,
		tokens:          tokens,
		mailer:          mailer,
		limiter:         security.NewRateLimiter(5, 15*time.Minute),
		sessionDuration: sessionDuration,
		logger:          logger,
		listeners:       make(map[int]AuthListener),
	}
}

// SignUp creates an account. When verification email is configured the
// account stays unverified until VerifyEmail; otherwise it is usable at once.
func (s *AuthService) SignUp(ctx context.Context, username, email, password string) (*SignUpResult, error) {
	if err := validation.ValidateSignUp(username, email, password); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	sendVerification := s.mailer != nil && s.mailer.IsEnabled()
	user := &models.User{
		ID:            security.NewID(),
		Username:      strings.TrimSpace(username),
		Email:         email,
		PasswordHash:  passwordHash,
		EmailVerified: !sendVerification,
	}
	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.logger.Info("user signed up", "user_id", user.ID, "pending_verification", sendVerification)

	if !sendVerification {
		return &SignUpResult{User: user}, nil
	}

	token := security.GenerateVerificationToken()
	if err := s.userRepo.CreateVerificationToken(ctx, token, user.ID, time.Now().Add(verificationTokenTTL)); err != nil {
		return nil, fmt.Errorf("failed to create verification token: %w", err)
	}
	if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.Username, token); err != nil {
		// the account exists; the user can ask for a new link
		s.logger.Error("failed to send verification email", "user_id", user.ID, "error", err)
	}
	return &SignUpResult{User: user, PendingVerification: true}, nil
}

// VerifyEmail confirms the address the token was issued for
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	t, err := s.userRepo.GetVerificationToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}
	if t == nil || t.IsExpired() {
		return nil, ErrInvalidVerificationToken
	}

	if err := s.userRepo.MarkEmailVerified(ctx, t.UserID); err != nil {
		return nil, err
	}
	if err := s.userRepo.DeleteVerificationTokens(ctx, t.UserID); err != nil {
		s.logger.Warn("failed to clean up verification tokens", "user_id", t.UserID, "error", err)
	}

	user, err := s.userRepo.GetUserByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	s.publish(EventUserUpdated, &Session{User: user})
	return user, nil
}

// SignIn authenticates a user and creates a session
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if !s.limiter.Allow(email) {
		return nil, ErrTooManyAttempts
	}

	user, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !security.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	expiresAt := time.Now().Add(s.sessionDuration)
	row, err := s.userRepo.CreateSession(ctx, security.GenerateSessionID(), user.ID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	token, err := s.tokens.Issue(user.ID, row.ID, user.Email, row.ExpiresAt)
	if err != nil {
		_ = s.userRepo.DeleteSession(ctx, row.ID)
		return nil, err
	}
	s.limiter.Reset(email)

	session := &Session{AccessToken: token, ExpiresAt: row.ExpiresAt, User: user}
	s.logger.Info("user signed in", "user_id", user.ID)
	s.publish(EventSignedIn, session)
	return session, nil
}

// SignOut revokes the session behind accessToken. Unknown or expired tokens
// have nothing to revoke, but listeners are still told the user is signed out.
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	if claims, err := s.tokens.Parse(accessToken); err == nil {
		if err := s.userRepo.DeleteSession(ctx, claims.SessionID); err != nil {
			return err
		}
		s.logger.Info("user signed out", "user_id", claims.Subject)
	}
	s.publish(EventSignedOut, nil)
	return nil
}

// GetSession resolves accessToken to a live session. It returns nil, nil
// when the token is missing, invalid, expired or revoked.
func (s *AuthService) GetSession(ctx context.Context, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, nil
	}
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		s.logger.Debug("rejected access token", "error", err)
		return nil, nil
	}

	row, err := s.userRepo.GetSession(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if row == nil || row.UserID != claims.Subject {
		return nil, nil
	}
	if row.IsExpired() {
		_ = s.userRepo.DeleteSession(ctx, row.ID)
		return nil, nil
	}

	user, err := s.userRepo.GetUserByID(ctx, row.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	return &Session{AccessToken: accessToken, ExpiresAt: row.ExpiresAt, User: user}, nil
}

// CleanupExpiredSessions removes expired sessions and verification tokens
func (s *AuthService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	s.limiter.Prune()
	return s.userRepo.DeleteExpiredSessions(ctx)
}

// Subscribe registers fn for authentication changes and returns a function
// that removes it
func (s *AuthService) Subscribe(fn AuthListener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *AuthService) publish(event AuthEvent, session *Session) {
	s.mu.Lock()
	listeners := make([]AuthListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}
