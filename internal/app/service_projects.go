package app

import (
	"context"
	"net/http"
	"strings"

	"inkwell/api/internal/rbac"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type ProjectInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Archived    *bool   `json:"archived"`
}

func (s *Service) CreateProject(ctx context.Context, session Session, input ProjectInput) (map[string]any, error) {
	name := ""
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_NAME", "Project name must not be empty", nil)
	}

	project := store.Project{
		ID:      util.NewID("prj"),
		OwnerID: session.UserID,
		Name:    name,
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return projectPayload(project, rbac.RoleAdmin), nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, role, err := s.requireProjectAction(ctx, session.UserID, projectID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return projectPayload(project, role), nil
}

func (s *Service) ListProjects(ctx context.Context, session Session, includeArchived bool) ([]map[string]any, error) {
	projects, err := s.store.ListProjectsForUser(ctx, session.UserID, includeArchived)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		role, err := s.effectiveProjectRole(ctx, session.UserID, project)
		if err != nil {
			return nil, err
		}
		items = append(items, projectPayload(project, role))
	}
	return items, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectInput) (map[string]any, error) {
	project, role, err := s.requireProjectAction(ctx, session.UserID, projectID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "INVALID_NAME", "Project name must not be empty", nil)
		}
		project.Name = name
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if input.Archived != nil {
		project.Archived = *input.Archived
	}

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return projectPayload(project, role), nil
}

// DeleteProject refuses while documents remain so nobody orphans a
// project's contents with one call. The count is by project membership,
// not by what the caller can list: trashed documents and documents
// owned by collaborators block deletion too.
func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if _, _, err := s.requireProjectAction(ctx, session.UserID, projectID, rbac.ActionAdmin); err != nil {
		return err
	}

	count, err := s.store.CountProjectDocuments(ctx, projectID)
	if err != nil {
		return err
	}
	if count > 0 {
		return domainError(http.StatusConflict, "project_not_empty", "Move or delete the project's documents first", map[string]any{
			"documentCount": count,
		})
	}
	return s.store.DeleteProject(ctx, projectID)
}

func (s *Service) ListProjectDocuments(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, _, err := s.requireProjectAction(ctx, session.UserID, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocumentsForUser(ctx, session.UserID, &projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentSummary(doc))
	}
	return items, nil
}

func projectPayload(project store.Project, role rbac.Role) map[string]any {
	return map[string]any{
		"id":            project.ID,
		"ownerId":       project.OwnerID,
		"name":          project.Name,
		"description":   project.Description,
		"archived":      project.Archived,
		"documentCount": project.DocumentCount,
		"role":          string(role),
		"createdAt":     project.CreatedAt,
		"updatedAt":     project.UpdatedAt,
	}
}
