package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"inkwell/api/internal/authpw"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/store"
)

// SignUp creates an account and sends the verification email. Without
// SMTP the raw token is returned so local setups can verify by hand.
func (s *Service) SignUp(ctx context.Context, email, name, password string) (map[string]any, error) {
	resp, err := s.auth.SignUp(ctx, authpw.SignUpRequest{
		Email:    strings.TrimSpace(email),
		Name:     strings.TrimSpace(name),
		Password: password,
	})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailTaken):
			return nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		case errors.Is(err, authpw.ErrWeakPassword):
			return nil, domainError(http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil)
		case errors.Is(err, authpw.ErrMissingFields):
			return nil, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		default:
			return nil, err
		}
	}

	payload := map[string]any{
		"userId":  resp.UserID,
		"message": "Check your email to verify your account",
	}
	if s.mail.IsConfigured() {
		verifyURL := s.cfg.AppBaseURL + "/verify-email?token=" + resp.VerificationToken
		go func() {
			if err := s.mail.SendVerificationEmail(email, name, verifyURL); err != nil {
				s.logger.Warn("send verification email failed", "error", err)
			}
		}()
	} else {
		payload["devVerificationToken"] = resp.VerificationToken
	}
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	resp, err := s.auth.SignIn(ctx, authpw.SignInRequest{Email: strings.TrimSpace(email), Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.auth.VerifyEmail(ctx, token); err != nil {
		return domainError(http.StatusBadRequest, "VERIFICATION_FAILED", "Invalid or expired verification token", nil)
	}
	return nil
}

// RequestPasswordReset always reports success so the endpoint cannot be
// used to probe which emails exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (map[string]any, error) {
	token, err := s.auth.RequestPasswordReset(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token == "" {
		return payload, nil
	}
	if s.mail.IsConfigured() {
		resetURL := s.cfg.AppBaseURL + "/reset-password?token=" + token
		user, lookupErr := s.store.GetUserByEmail(ctx, email)
		userName := user.Name
		if lookupErr != nil {
			userName = ""
		}
		go func() {
			if err := s.mail.SendPasswordResetEmail(email, userName, resetURL); err != nil {
				s.logger.Warn("send reset email failed", "error", err)
			}
		}()
	} else {
		payload["devResetToken"] = token
	}
	return payload, nil
}

// ResetPassword sets a new password and revokes every refresh session
// the user holds, so stolen refresh tokens die with the old password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.auth.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrWeakPassword):
			return domainError(http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil)
		case errors.Is(err, authpw.ErrInvalidToken):
			return domainError(http.StatusBadRequest, "RESET_FAILED", "Invalid or expired reset token", nil)
		default:
			return err
		}
	}
	if err := s.sessions.RevokeUserRefreshSessions(ctx, userID); err != nil {
		s.logger.Warn("revoke sessions after reset failed", "userId", userID, "error", err)
	}
	return nil
}

// ---- me

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) UpdateMe(ctx context.Context, session Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_NAME", "Name must not be empty", nil)
	}
	if err := s.store.UpdateUserName(ctx, session.UserID, name); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) MyCredits(ctx context.Context, session Session) (map[string]any, error) {
	balance, err := s.store.GetCreditBalance(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListCreditEntries(ctx, session.UserID, 20)
	if err != nil {
		return nil, err
	}

	ledger := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"delta":     entry.Delta,
			"reason":    entry.Reason,
			"createdAt": entry.CreatedAt,
		}
		if entry.RefID != nil {
			item["refId"] = *entry.RefID
		}
		ledger = append(ledger, item)
	}
	return map[string]any{"balance": balance, "ledger": ledger}, nil
}

// ---- admin

func (s *Service) ListUsers(ctx context.Context, session Session, query string, limit, offset int) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Admin only", nil)
	}
	users, total, err := s.store.ListUsers(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return map[string]any{"users": items, "total": total}, nil
}

// AdjustUserCredits is the admin top-up (or claw-back) path. The store
// clamps the balance at zero and writes the ledger row.
func (s *Service) AdjustUserCredits(ctx context.Context, session Session, userID string, delta int, reason string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Admin only", nil)
	}
	if delta == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_DELTA", "Delta must be non-zero", nil)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = creditReasonAdmin
	}
	balance, err := s.store.AdjustCredits(ctx, userID, delta, reason, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"userId": userID, "balance": balance}, nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"role":          user.Role,
		"emailVerified": user.IsEmailVerified,
		"credits":       user.Credits,
		"createdAt":     user.CreatedAt,
	}
}
