// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const (
	minPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	resetTTL          = 1 * time.Hour
)

var (
	ErrMissingFields      = errors.New("email, password, and name are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore defines the storage interface for auth. Verification and
// reset tokens are stored hashed; only the hash ever crosses this
// boundary.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, tokenHash string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, tokenHash string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, tokenHash string) error
}

// Service provides email/password authentication.
type Service struct {
	store           UserStore
	startingCredits int
}

// NewService creates a new auth service. New accounts are seeded with
// startingCredits assistant credits.
func NewService(store UserStore, startingCredits int) *Service {
	return &Service{store: store, startingCredits: startingCredits}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUpResponse contains the sign-up result. VerificationToken is the
// raw token for the verification email; it is never stored in this form.
type SignUpResponse struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a new user account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, ErrMissingFields
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken, err := util.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	user := store.User{
		ID:              util.NewID("usr"),
		Name:            req.Name,
		Email:           req.Email,
		PasswordHash:    string(hash),
		Role:            "editor",
		IsEmailVerified: false,
		Credits:         s.startingCredits,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	expiresAt := time.Now().Add(verificationTTL)
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, auth.HashToken(verificationToken), expiresAt); err != nil {
		return nil, fmt.Errorf("set verification token: %w", err)
	}

	return &SignUpResponse{
		UserID:              user.ID,
		VerificationToken:   verificationToken,
		RequiresEmailVerify: true,
	}, nil
}

// SignInRequest contains sign-in parameters.
type SignInRequest struct {
	Email    string
	Password string
}

// SignInResponse contains the sign-in result.
type SignInResponse struct {
	User           store.User
	RequiresVerify bool
}

// SignIn authenticates a user. The password is checked before the
// verification state so an unverified signal never leaks whether a
// password was right.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.IsEmailVerified {
		return &SignInResponse{User: user, RequiresVerify: true}, nil
	}

	return &SignInResponse{User: user, RequiresVerify: false}, nil
}

// VerifyEmail verifies an email address using a raw verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.store.VerifyUserEmail(ctx, auth.HashToken(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// RequestPasswordReset creates a password reset token. The empty return
// for unknown emails keeps account existence private.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token, err := util.NewSecret()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	expiresAt := time.Now().Add(resetTTL)
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), expiresAt); err != nil {
		return "", fmt.Errorf("create password reset: %w", err)
	}

	return token, nil
}

// ResetPasswordRequest contains password reset parameters.
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword resets a user's password using a reset token. It returns
// the user ID so callers can revoke that user's outstanding sessions.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if req.Token == "" || req.NewPassword == "" {
		return "", ErrInvalidToken
	}
	if len(req.NewPassword) < minPasswordLength {
		return "", ErrWeakPassword
	}

	tokenHash := auth.HashToken(req.Token)
	userID, err := s.store.GetPasswordReset(ctx, tokenHash)
	if err != nil {
		return "", ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}

	// The password is already reset at this point; a failed mark is not
	// worth surfacing to the user.
	_ = s.store.MarkPasswordResetUsed(ctx, tokenHash)

	return userID, nil
}
