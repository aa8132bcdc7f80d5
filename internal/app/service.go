// Package app is the service layer: it owns sessions, permission
// checks and the orchestration between the store, the git history, the
// search index, object storage and the assistant. HTTP handlers in this
// package never touch the database directly.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"inkwell/api/internal/assistant"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/export"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/logging"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Session is an authenticated caller, rebuilt from the access token on
// every request. Role is the account role; document and project roles
// are resolved per resource.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

const (
	resourceDocument = "document"
	resourceProject  = "project"
)

// Ledger reasons. Spends and refunds always come in pairs keyed by the
// conversation they belong to.
const (
	creditReasonAssistant = "assistant_message"
	creditReasonRefund    = "assistant_refund"
	creditReasonAdmin     = "admin_adjustment"
)

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUserName(ctx context.Context, userID, name string) error
	ListUsers(ctx context.Context, search string, limit, offset int) ([]store.User, int, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	SpendCredit(ctx context.Context, userID, reason string, refID *string) (int, error)
	AdjustCredits(ctx context.Context, userID string, delta int, reason string, refID *string) (int, error)
	GetCreditBalance(ctx context.Context, userID string) (int, error)
	ListCreditEntries(ctx context.Context, userID string, limit int) ([]store.CreditEntry, error)

	CreateProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjectsForUser(ctx context.Context, userID string, includeArchived bool) ([]store.Project, error)
	UpdateProject(ctx context.Context, project store.Project) error
	DeleteProject(ctx context.Context, projectID string) error

	CreateDocument(ctx context.Context, doc store.Document) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDocumentsForUser(ctx context.Context, userID string, projectID *string) ([]store.Document, error)
	CountProjectDocuments(ctx context.Context, projectID string) (int, error)
	ListTrashedDocuments(ctx context.Context, ownerID string) ([]store.Document, error)
	UpdateDocumentContent(ctx context.Context, doc store.Document) error
	UpdateDocumentMeta(ctx context.Context, documentID string, projectID *string, backgroundID *string) error
	TrashDocument(ctx context.Context, documentID string) error
	RestoreDocument(ctx context.Context, documentID string) error
	PurgeDocument(ctx context.Context, documentID string) error

	UpsertPermission(ctx context.Context, perm store.Permission) error
	GetPermissionRole(ctx context.Context, subjectID, resourceType, resourceID string) (string, error)
	ListPermissionsForResource(ctx context.Context, resourceType, resourceID string) ([]store.Permission, error)
	GetPermission(ctx context.Context, permID string) (store.Permission, error)
	UpdatePermissionRole(ctx context.Context, permID, role string) error
	DeletePermissionByID(ctx context.Context, permID string) error
	DeleteExpiredPermissions(ctx context.Context, resourceType, resourceID string) error

	CreateShareLink(ctx context.Context, link store.ShareLink) error
	GetShareLinkByTokenHash(ctx context.Context, tokenHash string) (store.ShareLink, error)
	GetShareLink(ctx context.Context, linkID string) (store.ShareLink, error)
	ListShareLinksForDocument(ctx context.Context, documentID string) ([]store.ShareLink, error)
	RevokeShareLink(ctx context.Context, linkID string) error
	TouchShareLink(ctx context.Context, linkID string) error

	ListKeybindings(ctx context.Context, userID string) ([]store.Keybinding, error)
	UpsertKeybinding(ctx context.Context, userID, command, keys string) error
	DeleteKeybinding(ctx context.Context, userID, command string) error
	DeleteAllKeybindings(ctx context.Context, userID string) error
	ListPreferences(ctx context.Context, userID string) ([]store.Preference, error)
	GetPreference(ctx context.Context, userID, key string) (store.Preference, error)
	UpsertPreference(ctx context.Context, userID, key string, value json.RawMessage) error
	DeletePreference(ctx context.Context, userID, key string) error

	CreateBackgroundImage(ctx context.Context, img store.BackgroundImage) error
	GetBackgroundImage(ctx context.Context, imageID string) (store.BackgroundImage, error)
	ListBackgroundImages(ctx context.Context, ownerID string) ([]store.BackgroundImage, error)
	DeleteBackgroundImage(ctx context.Context, imageID string) error

	CreateConversation(ctx context.Context, conv store.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
	ListConversations(ctx context.Context, userID, documentID string) ([]store.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	AppendMessage(ctx context.Context, msg store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	CountDocumentChunks(ctx context.Context, documentID string) (int, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis in production, the Postgres
// store when Redis is not configured; both satisfy this.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeUserRefreshSessions(ctx context.Context, userID string) error
}

type gitService interface {
	EnsureDocumentRepo(documentID string, initial gitrepo.Content, author string) error
	CommitContent(documentID string, content gitrepo.Content, author, message string) (store.CommitInfo, error)
	GetHeadContent(documentID string) (gitrepo.Content, store.CommitInfo, error)
	GetContentByHash(documentID, hash string) (gitrepo.Content, error)
	GetCommitByHash(documentID, hash string) (store.CommitInfo, error)
	History(documentID string, limit int) ([]store.CommitInfo, error)
	Restore(documentID, hash, author string) (gitrepo.Content, store.CommitInfo, error)
	DeleteDocumentRepo(documentID string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocumentByID(documentID string)
	DeleteDocument(id string)
}

type assistantRunner interface {
	ReindexDocument(ctx context.Context, documentID, text string) (int, error)
	Respond(ctx context.Context, req assistant.RespondRequest) (assistant.RespondResult, error)
}

type objectStore interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	PresignedURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendShareInviteEmail(to, userName, sharerName, documentTitle, role, documentURL string) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	auth     *authpw.Service
	git      gitService
	search   searchIndex
	export   exporter
	assist   assistantRunner
	objects  objectStore
	mail     mailer
	logger   logging.Logger
}

// Deps are the components the service orchestrates. Assistant and
// Objects may be nil; the endpoints they back answer 503 then.
type Deps struct {
	Store     dataStore
	Sessions  sessionStore
	Auth      *authpw.Service
	Git       gitService
	Search    searchIndex
	Assistant assistantRunner
	Objects   objectStore
	Mail      mailer
	Logger    logging.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		auth:     deps.Auth,
		git:      deps.Git,
		search:   deps.Search,
		assist:   deps.Assistant,
		objects:  deps.Objects,
		mail:     deps.Mail,
		logger:   deps.Logger,
	}
	if svc.logger == nil {
		svc.logger = logging.NewNop()
	}
	// The export renderer reads documents back through this service.
	svc.export = export.NewService(svc)
	return svc
}

// ---- sessions

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Name, user.Role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh, err := util.NewSecret()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    now.Add(s.cfg.AccessTTL),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	// Re-read the user so role changes and deletions take effect before
	// the token expires.
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

// Refresh rotates the refresh token: the presented token is revoked and
// a fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- effective roles

// effectiveDocumentRole resolves the strongest role the user holds on a
// document: owner-implicit admin, a direct document grant, or a grant
// on the document's project. Empty means no access at all.
func (s *Service) effectiveDocumentRole(ctx context.Context, userID string, doc store.Document) (rbac.Role, error) {
	if doc.OwnerID == userID {
		return rbac.RoleAdmin, nil
	}

	var role rbac.Role
	direct, err := s.store.GetPermissionRole(ctx, userID, resourceDocument, doc.ID)
	if err == nil {
		role = rbac.Normalize(direct)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if doc.ProjectID != nil {
		viaProject, err := s.store.GetPermissionRole(ctx, userID, resourceProject, *doc.ProjectID)
		if err == nil {
			role = rbac.Max(role, rbac.Normalize(viaProject))
		} else if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}
	return role, nil
}

func (s *Service) effectiveProjectRole(ctx context.Context, userID string, project store.Project) (rbac.Role, error) {
	if project.OwnerID == userID {
		return rbac.RoleAdmin, nil
	}
	granted, err := s.store.GetPermissionRole(ctx, userID, resourceProject, project.ID)
	if err == nil {
		return rbac.Normalize(granted), nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return "", err
}

// requireDocumentAction loads a document and checks the caller may
// perform the action. A caller with no role at all gets NOT_FOUND so
// document IDs leak nothing; an insufficient role gets FORBIDDEN.
// Trashed documents are invisible here; the trash endpoints handle them
// explicitly.
func (s *Service) requireDocumentAction(ctx context.Context, userID, documentID string, action rbac.Action) (store.Document, rbac.Role, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, "", err
	}
	if doc.DeletedAt != nil {
		return store.Document{}, "", sql.ErrNoRows
	}

	role, err := s.effectiveDocumentRole(ctx, userID, doc)
	if err != nil {
		return store.Document{}, "", err
	}
	if role == "" {
		return store.Document{}, "", sql.ErrNoRows
	}
	if !rbac.Can(role, action) {
		return store.Document{}, "", domainError(http.StatusForbidden, "FORBIDDEN", "You do not have permission to do that", nil)
	}
	return doc, role, nil
}

func (s *Service) requireProjectAction(ctx context.Context, userID, projectID string, action rbac.Action) (store.Project, rbac.Role, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, "", err
	}

	role, err := s.effectiveProjectRole(ctx, userID, project)
	if err != nil {
		return store.Project{}, "", err
	}
	if role == "" {
		return store.Project{}, "", sql.ErrNoRows
	}
	if !rbac.Can(role, action) {
		return store.Project{}, "", domainError(http.StatusForbidden, "FORBIDDEN", "You do not have permission to do that", nil)
	}
	return project, role, nil
}

// Ping backs the readiness endpoint.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
