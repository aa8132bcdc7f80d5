package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/store"
)

func issueExpiredToken(svc *Service) (string, error) {
	return auth.IssueToken([]byte(svc.cfg.JWTSecret), "usr_1", "Avery", "editor", "jti_old", -time.Minute)
}

func TestSignUpReturnsDevTokenWithoutSMTP(t *testing.T) {
	var created store.User
	fs := &fakeStore{
		createUserFn: func(ctx context.Context, user store.User) error {
			created = user
			return nil
		},
	}
	server, _ := newTestServer(fs, nil)

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/signup", "",
		`{"email":"new@example.com","name":"Nico","password":"longenough1"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["userId"] == "" {
		t.Fatal("expected a userId")
	}
	token, _ := payload["devVerificationToken"].(string)
	if token == "" {
		t.Fatal("expected devVerificationToken when no SMTP is configured")
	}
	if created.Role != "editor" {
		t.Fatalf("new accounts start as editor, got %q", created.Role)
	}
	if created.Credits != 20 {
		t.Fatalf("expected starting credits 20, got %d", created.Credits)
	}
	if created.IsEmailVerified {
		t.Fatal("new accounts must start unverified")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return testUser("usr_1"), nil
		},
	}
	server, _ := newTestServer(fs, nil)

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/signup", "",
		`{"email":"avery@example.com","name":"Avery","password":"longenough1"}`)
	assertErrorCode(t, rr, http.StatusConflict, "EMAIL_EXISTS")
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	server, _ := newTestServer(nil, nil)

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/signup", "",
		`{"email":"new@example.com","name":"Nico","password":"short"}`)
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "WEAK_PASSWORD")
}

func TestSignInIssuesTokenPair(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("opensesame99"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	fs := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			user := testUser("usr_1")
			user.PasswordHash = string(hash)
			return user, nil
		},
	}
	server, svc := newTestServer(fs, nil)
	sessions := newFakeSessions()
	svc.sessions = sessions

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/signin", "",
		`{"email":"avery@example.com","password":"opensesame99"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["token"] == "" || payload["refreshToken"] == "" {
		t.Fatalf("expected a token pair, got %v", payload)
	}
	if payload["userId"] != "usr_1" || payload["userName"] != "Avery" {
		t.Fatalf("unexpected session identity: %v", payload)
	}
	if sessions.count() != 1 {
		t.Fatalf("expected one stored refresh session, got %d", sessions.count())
	}
}

func TestSignInRejectsUnverifiedEmail(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("opensesame99"), bcrypt.MinCost)
	fs := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			user := testUser("usr_1")
			user.PasswordHash = string(hash)
			user.IsEmailVerified = false
			return user, nil
		},
	}
	server, _ := newTestServer(fs, nil)

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/signin", "",
		`{"email":"avery@example.com","password":"opensesame99"}`)
	assertErrorCode(t, rr, http.StatusForbidden, "EMAIL_NOT_VERIFIED")
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("the-real-one1"), bcrypt.MinCost)
	fs := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			user := testUser("usr_1")
			user.PasswordHash = string(hash)
			return user, nil
		},
	}
	server, _ := newTestServer(fs, nil)

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/signin", "",
		`{"email":"avery@example.com","password":"a-guess"}`)
	assertErrorCode(t, rr, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestVerifyEmailEndpoint(t *testing.T) {
	server, _ := newTestServer(nil, nil)

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/verify-email", "", `{"token":"raw-token"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if payload := decodeResponse(t, rr); payload["verified"] != true {
		t.Fatalf("expected verified true, got %v", payload)
	}

	failing := &fakeStore{
		verifyUserEmailFn: func(ctx context.Context, tokenHash string) error {
			return sql.ErrNoRows
		},
	}
	server, _ = newTestServer(failing, nil)
	rr = doRequest(server, http.MethodPost, "/api/v1/auth/verify-email", "", `{"token":"expired"}`)
	assertErrorCode(t, rr, http.StatusBadRequest, "VERIFICATION_FAILED")
}

func TestPasswordResetRequestNeverLeaksAccounts(t *testing.T) {
	server, _ := newTestServer(nil, nil)

	// Unknown email: same message, no token.
	rr := doRequest(server, http.MethodPost, "/api/v1/auth/reset-password/request", "",
		`{"email":"nobody@example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if _, leaked := payload["devResetToken"]; leaked {
		t.Fatal("unknown email must not produce a reset token")
	}

	known := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return testUser("usr_1"), nil
		},
	}
	server, _ = newTestServer(known, nil)
	rr = doRequest(server, http.MethodPost, "/api/v1/auth/reset-password/request", "",
		`{"email":"avery@example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	payload = decodeResponse(t, rr)
	if token, _ := payload["devResetToken"].(string); token == "" {
		t.Fatal("expected devResetToken for a known email without SMTP")
	}
}

func TestPasswordResetConfirmEndpoint(t *testing.T) {
	var newHash string
	fs := &fakeStore{
		getPasswordResetFn: func(ctx context.Context, tokenHash string) (string, error) {
			return "usr_1", nil
		},
		updateUserPasswordFn: func(ctx context.Context, userID, passwordHash string) error {
			newHash = passwordHash
			return nil
		},
	}
	server, _ := newTestServer(fs, nil)

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/reset-password/confirm", "",
		`{"token":"reset-token","password":"a-new-password"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if payload := decodeResponse(t, rr); payload["reset"] != true {
		t.Fatalf("expected reset true, got %v", payload)
	}
	if bcrypt.CompareHashAndPassword([]byte(newHash), []byte("a-new-password")) != nil {
		t.Fatal("stored hash does not match the new password")
	}

	rr = doRequest(server, http.MethodPost, "/api/v1/auth/reset-password/confirm", "",
		`{"token":"reset-token","password":"short"}`)
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "WEAK_PASSWORD")
}

func TestRefreshEndpointRotatesSession(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("opensesame99"), bcrypt.MinCost)
	fs := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			user := testUser("usr_1")
			user.PasswordHash = string(hash)
			return user, nil
		},
	}
	server, svc := newTestServer(fs, nil)
	svc.sessions = newFakeSessions()

	rr := doRequest(server, http.MethodPost, "/api/v1/auth/signin", "",
		`{"email":"avery@example.com","password":"opensesame99"}`)
	first := decodeResponse(t, rr)
	refreshToken, _ := first["refreshToken"].(string)

	rr = doRequest(server, http.MethodPost, "/api/v1/auth/refresh", "",
		fmt.Sprintf(`{"refreshToken":%q}`, refreshToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	second := decodeResponse(t, rr)
	if second["refreshToken"] == refreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}

	// The old token died with the rotation.
	rr = doRequest(server, http.MethodPost, "/api/v1/auth/refresh", "",
		fmt.Sprintf(`{"refreshToken":%q}`, refreshToken))
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestLogoutAlwaysAnswersOK(t *testing.T) {
	server, _ := newTestServer(nil, nil)

	// No bearer, no body: still a clean 200.
	rr := doRequest(server, http.MethodPost, "/api/v1/auth/logout", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["ok"] != true {
		t.Fatalf("expected ok true, got %v", payload)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	server, _ := newTestServer(nil, nil)

	for _, target := range []string{
		"/api/v1/me",
		"/api/v1/documents",
		"/api/v1/projects",
		"/api/v1/keybindings",
	} {
		rr := doRequest(server, http.MethodGet, target, "", "")
		assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
	}
}

func TestGarbageBearerIsUnauthorized(t *testing.T) {
	server, _ := newTestServer(nil, nil)

	rr := doRequest(server, http.MethodGet, "/api/v1/me", "Bearer not-a-jwt", "")
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestExpiredTokenIsUnauthorized(t *testing.T) {
	server, svc := newTestServer(nil, nil)

	token, err := issueExpiredToken(svc)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rr := doRequest(server, http.MethodGet, "/api/v1/me", "Bearer "+token, "")
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestMeReturnsProfile(t *testing.T) {
	server, svc := newTestServer(nil, nil)

	rr := doRequest(server, http.MethodGet, "/api/v1/me", bearerFor(t, svc, "usr_1"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["id"] != "usr_1" || payload["email"] != "avery@example.com" {
		t.Fatalf("unexpected profile: %v", payload)
	}
	if payload["emailVerified"] != true {
		t.Fatalf("expected emailVerified true, got %v", payload["emailVerified"])
	}
}

func TestUpdateMeRejectsEmptyName(t *testing.T) {
	server, svc := newTestServer(nil, nil)

	rr := doRequest(server, http.MethodPatch, "/api/v1/me", bearerFor(t, svc, "usr_1"), `{"name":"   "}`)
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "INVALID_NAME")
}

func TestMyCreditsIncludesLedger(t *testing.T) {
	refID := "conv_1"
	fs := &fakeStore{
		getCreditBalanceFn: func(ctx context.Context, userID string) (int, error) {
			return 7, nil
		},
		listCreditEntriesFn: func(ctx context.Context, userID string, limit int) ([]store.CreditEntry, error) {
			return []store.CreditEntry{
				{Delta: -1, Reason: "assistant_message", RefID: &refID, CreatedAt: time.Now()},
				{Delta: 20, Reason: "signup_grant", CreatedAt: time.Now().Add(-time.Hour)},
			}, nil
		},
	}
	server, svc := newTestServer(fs, nil)

	rr := doRequest(server, http.MethodGet, "/api/v1/me/credits", bearerFor(t, svc, "usr_1"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["balance"] != float64(7) {
		t.Fatalf("balance = %v, want 7", payload["balance"])
	}
	ledger, _ := payload["ledger"].([]any)
	if len(ledger) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(ledger))
	}
	first, _ := ledger[0].(map[string]any)
	if first["reason"] != "assistant_message" || first["refId"] != "conv_1" {
		t.Fatalf("unexpected ledger row: %v", first)
	}
}

func TestListUsersIsAdminOnly(t *testing.T) {
	server, svc := newTestServer(nil, nil)

	rr := doRequest(server, http.MethodGet, "/api/v1/users", bearerFor(t, svc, "usr_1"), "")
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	admin := &fakeStore{
		getUserByIDFn: func(ctx context.Context, userID string) (store.User, error) {
			user := testUser(userID)
			user.Role = "admin"
			return user, nil
		},
		listUsersFn: func(ctx context.Context, search string, limit, offset int) ([]store.User, int, error) {
			if search != "ave" {
				return nil, 0, sql.ErrNoRows
			}
			return []store.User{testUser("usr_1")}, 1, nil
		},
	}
	server, svc = newTestServer(admin, nil)
	rr = doRequest(server, http.MethodGet, "/api/v1/users?search=ave", bearerFor(t, svc, "usr_root"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["total"] != float64(1) {
		t.Fatalf("total = %v, want 1", payload["total"])
	}
}

func TestAdminCreditAdjustment(t *testing.T) {
	var gotDelta int
	var gotReason string
	fs := &fakeStore{
		getUserByIDFn: func(ctx context.Context, userID string) (store.User, error) {
			user := testUser(userID)
			user.Role = "admin"
			return user, nil
		},
		adjustCreditsFn: func(ctx context.Context, userID string, delta int, reason string, refID *string) (int, error) {
			gotDelta = delta
			gotReason = reason
			return 30, nil
		},
	}
	server, svc := newTestServer(fs, nil)
	bearer := bearerFor(t, svc, "usr_root")

	rr := doRequest(server, http.MethodPost, "/api/v1/users/usr_2/credits", bearer, `{"delta":5,"reason":"promo"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if gotDelta != 5 || gotReason != "promo" {
		t.Fatalf("adjust called with delta=%d reason=%q", gotDelta, gotReason)
	}
	if payload := decodeResponse(t, rr); payload["balance"] != float64(30) {
		t.Fatalf("balance = %v, want 30", payload["balance"])
	}

	rr = doRequest(server, http.MethodPost, "/api/v1/users/usr_2/credits", bearer, `{"delta":0}`)
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "INVALID_DELTA")
}
