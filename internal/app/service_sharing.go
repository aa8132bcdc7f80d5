package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type GrantPermissionInput struct {
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// grantableRoles are the roles a permission row may carry. Owner-implicit
// admin is never stored.
func grantableRole(role string) (string, bool) {
	switch rbac.Role(role) {
	case rbac.RoleViewer, rbac.RoleCommenter, rbac.RoleEditor, rbac.RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// GrantPermission shares a resource with another user by email. Unknown
// emails answer 404 so the frontend can offer an invitation instead.
func (s *Service) GrantPermission(ctx context.Context, session Session, resourceType, resourceID string, input GrantPermissionInput) (map[string]any, error) {
	resourceName, err := s.requireShareManagement(ctx, session, resourceType, resourceID)
	if err != nil {
		return nil, err
	}

	role, ok := grantableRole(input.Role)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_ROLE", "Role must be viewer, commenter, editor or admin", nil)
	}
	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now()) {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_EXPIRY", "Expiry must be in the future", nil)
	}

	target, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(input.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
		}
		return nil, err
	}
	if target.ID == session.UserID {
		return nil, domainError(http.StatusBadRequest, "cannot_share_with_self", "You already have access", nil)
	}

	perm := store.Permission{
		ID:           util.NewID("perm"),
		SubjectID:    target.ID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Role:         role,
		GrantedBy:    session.UserID,
		ExpiresAt:    input.ExpiresAt,
	}
	if err := s.store.UpsertPermission(ctx, perm); err != nil {
		return nil, err
	}

	if s.mail.IsConfigured() && resourceType == resourceDocument {
		docURL := s.cfg.AppBaseURL + "/documents/" + resourceID
		go func() {
			if err := s.mail.SendShareInviteEmail(target.Email, target.Name, session.UserName, resourceName, role, docURL); err != nil {
				s.logger.Warn("send share invite failed", "error", err)
			}
		}()
	}

	perm.UserEmail = target.Email
	perm.UserName = target.Name
	return permissionPayload(perm), nil
}

// ListPermissions sweeps expired grants for the resource, then returns
// the live collaborator list with user details.
func (s *Service) ListPermissions(ctx context.Context, session Session, resourceType, resourceID string) ([]map[string]any, error) {
	if _, err := s.requireShareManagement(ctx, session, resourceType, resourceID); err != nil {
		return nil, err
	}

	if err := s.store.DeleteExpiredPermissions(ctx, resourceType, resourceID); err != nil {
		s.logger.Warn("expired permission sweep failed", "resourceId", resourceID, "error", err)
	}
	perms, err := s.store.ListPermissionsForResource(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(perms))
	for _, perm := range perms {
		items = append(items, permissionPayload(perm))
	}
	return items, nil
}

func (s *Service) UpdatePermission(ctx context.Context, session Session, resourceType, resourceID, permID, role string) (map[string]any, error) {
	if _, err := s.requireShareManagement(ctx, session, resourceType, resourceID); err != nil {
		return nil, err
	}

	perm, err := s.permissionOnResource(ctx, permID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	newRole, ok := grantableRole(role)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_ROLE", "Role must be viewer, commenter, editor or admin", nil)
	}

	if err := s.store.UpdatePermissionRole(ctx, permID, newRole); err != nil {
		return nil, err
	}
	perm.Role = newRole
	return permissionPayload(perm), nil
}

func (s *Service) RevokePermission(ctx context.Context, session Session, resourceType, resourceID, permID string) error {
	if _, err := s.requireShareManagement(ctx, session, resourceType, resourceID); err != nil {
		return err
	}
	if _, err := s.permissionOnResource(ctx, permID, resourceType, resourceID); err != nil {
		return err
	}
	return s.store.DeletePermissionByID(ctx, permID)
}

// permissionOnResource guards against mixing up permission IDs across
// resources: the row must belong to the resource in the URL.
func (s *Service) permissionOnResource(ctx context.Context, permID, resourceType, resourceID string) (store.Permission, error) {
	perm, err := s.store.GetPermission(ctx, permID)
	if err != nil {
		return store.Permission{}, err
	}
	if perm.ResourceType != resourceType || perm.ResourceID != resourceID {
		return store.Permission{}, sql.ErrNoRows
	}
	return perm, nil
}

// requireShareManagement checks the share action on a document or a
// project and returns the resource's display name for invitations.
func (s *Service) requireShareManagement(ctx context.Context, session Session, resourceType, resourceID string) (string, error) {
	switch resourceType {
	case resourceDocument:
		doc, _, err := s.requireDocumentAction(ctx, session.UserID, resourceID, rbac.ActionShare)
		if err != nil {
			return "", err
		}
		return doc.Title, nil
	case resourceProject:
		project, _, err := s.requireProjectAction(ctx, session.UserID, resourceID, rbac.ActionShare)
		if err != nil {
			return "", err
		}
		return project.Name, nil
	default:
		return "", sql.ErrNoRows
	}
}

// ---- share links

type CreateShareLinkInput struct {
	Role      string     `json:"role"`
	Password  string     `json:"password"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// CreateShareLink mints a public link to a document. The raw token is
// returned exactly once; only its hash is stored. Link roles are capped
// at editor so a leaked URL can never manage sharing.
func (s *Service) CreateShareLink(ctx context.Context, session Session, documentID string, input CreateShareLinkInput) (map[string]any, error) {
	if _, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionShare); err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = string(rbac.RoleViewer)
	}
	if _, ok := grantableRole(role); !ok || rbac.Stronger(rbac.Role(role), rbac.RoleEditor) {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_ROLE", "Link role must be viewer, commenter or editor", nil)
	}
	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now()) {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_EXPIRY", "Expiry must be in the future", nil)
	}

	token, err := util.NewSecret()
	if err != nil {
		return nil, err
	}

	link := store.ShareLink{
		ID:         util.NewID("lnk"),
		DocumentID: documentID,
		TokenHash:  auth.HashToken(token),
		Role:       role,
		CreatedBy:  session.UserID,
		ExpiresAt:  input.ExpiresAt,
	}
	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashed := string(hash)
		link.PasswordHash = &hashed
	}
	if err := s.store.CreateShareLink(ctx, link); err != nil {
		return nil, err
	}

	payload := shareLinkPayload(link)
	payload["token"] = token
	payload["url"] = s.cfg.AppBaseURL + "/share/" + token
	return payload, nil
}

func (s *Service) ListShareLinks(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionShare); err != nil {
		return nil, err
	}
	links, err := s.store.ListShareLinksForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(links))
	for _, link := range links {
		items = append(items, shareLinkPayload(link))
	}
	return items, nil
}

func (s *Service) RevokeShareLink(ctx context.Context, session Session, linkID string) error {
	link, err := s.store.GetShareLink(ctx, linkID)
	if err != nil {
		return err
	}
	if _, _, err := s.requireDocumentAction(ctx, session.UserID, link.DocumentID, rbac.ActionShare); err != nil {
		return err
	}
	return s.store.RevokeShareLink(ctx, linkID)
}

// ResolveShareLink answers an anonymous share-token request. Revoked,
// expired and unknown tokens all answer NOT_FOUND; password-protected
// links ask for the password via a 401 before revealing anything else.
func (s *Service) ResolveShareLink(ctx context.Context, token, password string) (map[string]any, error) {
	link, err := s.store.GetShareLinkByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		return nil, err
	}
	if link.RevokedAt != nil {
		return nil, sql.ErrNoRows
	}
	if link.ExpiresAt != nil && link.ExpiresAt.Before(time.Now()) {
		return nil, sql.ErrNoRows
	}
	if link.PasswordHash != nil {
		if password == "" {
			return nil, domainError(http.StatusUnauthorized, "SHARE_PASSWORD_REQUIRED", "This link is password protected", nil)
		}
		if bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)) != nil {
			return nil, domainError(http.StatusUnauthorized, "SHARE_PASSWORD_INVALID", "Wrong link password", nil)
		}
	}

	doc, err := s.store.GetDocument(ctx, link.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}

	if err := s.store.TouchShareLink(ctx, link.ID); err != nil {
		s.logger.Warn("share link touch failed", "linkId", link.ID, "error", err)
	}

	return map[string]any{
		"document": documentPayload(doc, rbac.Normalize(link.Role), true),
		"role":     link.Role,
	}, nil
}

func permissionPayload(perm store.Permission) map[string]any {
	payload := map[string]any{
		"id":           perm.ID,
		"userId":       perm.SubjectID,
		"resourceType": perm.ResourceType,
		"resourceId":   perm.ResourceID,
		"role":         perm.Role,
		"grantedBy":    perm.GrantedBy,
		"grantedAt":    perm.GrantedAt,
	}
	if perm.ExpiresAt != nil {
		payload["expiresAt"] = *perm.ExpiresAt
	}
	if perm.UserEmail != "" {
		payload["userEmail"] = perm.UserEmail
	}
	if perm.UserName != "" {
		payload["userName"] = perm.UserName
	}
	return payload
}

func shareLinkPayload(link store.ShareLink) map[string]any {
	payload := map[string]any{
		"id":          link.ID,
		"documentId":  link.DocumentID,
		"role":        link.Role,
		"protected":   link.PasswordHash != nil,
		"createdBy":   link.CreatedBy,
		"createdAt":   link.CreatedAt,
		"accessCount": link.AccessCount,
		"revoked":     link.RevokedAt != nil,
	}
	if link.ExpiresAt != nil {
		payload["expiresAt"] = *link.ExpiresAt
	}
	if link.LastAccessedAt != nil {
		payload["lastAccessedAt"] = *link.LastAccessedAt
	}
	return payload
}
