package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"inkwell/api/internal/keymap"
	"inkwell/api/internal/storage"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// maxPreferenceBytes caps a single preference value. Preferences are UI
// state, not document storage.
const maxPreferenceBytes = 4096

// ---- keybindings

// ListKeybindings returns every command with its effective combination,
// user overrides applied over the defaults.
func (s *Service) ListKeybindings(ctx context.Context, session Session) ([]keymap.Binding, error) {
	rows, err := s.store.ListKeybindings(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]string, len(rows))
	for _, row := range rows {
		overrides[row.Command] = row.Keys
	}
	return keymap.Merged(overrides), nil
}

// PutKeybinding overrides one command's combination.
func (s *Service) PutKeybinding(ctx context.Context, session Session, command, combo string) (keymap.Binding, error) {
	if !keymap.IsKnownCommand(command) {
		return keymap.Binding{}, domainError(http.StatusNotFound, "UNKNOWN_COMMAND", "No such command", nil)
	}
	if err := keymap.ValidateCombo(combo); err != nil {
		return keymap.Binding{}, domainError(http.StatusUnprocessableEntity, "INVALID_KEY_COMBO", "Combinations look like mod+shift+k", nil)
	}
	if err := s.store.UpsertKeybinding(ctx, session.UserID, command, combo); err != nil {
		return keymap.Binding{}, err
	}
	return keymap.Binding{Command: command, Combo: combo, IsDefault: false}, nil
}

// DeleteKeybinding reverts one command to its default combination.
func (s *Service) DeleteKeybinding(ctx context.Context, session Session, command string) (keymap.Binding, error) {
	combo, ok := keymap.DefaultCombo(command)
	if !ok {
		return keymap.Binding{}, domainError(http.StatusNotFound, "UNKNOWN_COMMAND", "No such command", nil)
	}
	if err := s.store.DeleteKeybinding(ctx, session.UserID, command); err != nil {
		return keymap.Binding{}, err
	}
	return keymap.Binding{Command: command, Combo: combo, IsDefault: true}, nil
}

// ResetKeybindings drops every override and returns the defaults.
func (s *Service) ResetKeybindings(ctx context.Context, session Session) ([]keymap.Binding, error) {
	if err := s.store.DeleteAllKeybindings(ctx, session.UserID); err != nil {
		return nil, err
	}
	return keymap.Merged(nil), nil
}

// ---- preferences

// ListPreferences returns the user's preferences as one JSON object
// keyed by preference name.
func (s *Service) ListPreferences(ctx context.Context, session Session) (map[string]json.RawMessage, error) {
	prefs, err := s.store.ListPreferences(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(prefs))
	for _, pref := range prefs {
		out[pref.Key] = pref.Value
	}
	return out, nil
}

// PutPreference stores one preference value, any JSON shape the client
// wants up to the size cap.
func (s *Service) PutPreference(ctx context.Context, session Session, key string, value json.RawMessage) (map[string]any, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 128 {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_KEY", "Preference key must be 1-128 characters", nil)
	}
	if len(value) == 0 || !json.Valid(value) {
		return nil, domainError(http.StatusBadRequest, "INVALID_PREFERENCE", "Preference value must be valid JSON", nil)
	}
	if len(value) > maxPreferenceBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "PREFERENCE_TOO_LARGE", "Preference values are capped at 4 KiB", nil)
	}
	if err := s.store.UpsertPreference(ctx, session.UserID, key, value); err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "value": value}, nil
}

func (s *Service) DeletePreference(ctx context.Context, session Session, key string) error {
	return s.store.DeletePreference(ctx, session.UserID, key)
}

// ---- background images

// UploadBackground stores an editor backdrop in object storage and
// records it. Answers 503 when no object store is configured.
func (s *Service) UploadBackground(ctx context.Context, session Session, filename, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if s.objects == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}
	ext, ok := storage.AllowedContentType(contentType)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_IMAGE_TYPE", "Backgrounds must be JPEG, PNG or WebP", nil)
	}
	if size <= 0 || size > storage.MaxUploadBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Background images are capped at 10 MiB", nil)
	}

	key := util.NewObjectKey("backgrounds/"+session.UserID, "bg"+ext)
	if err := s.objects.Upload(ctx, key, contentType, r, size); err != nil {
		return nil, err
	}

	img := store.BackgroundImage{
		ID:          util.NewID("bg"),
		OwnerID:     session.UserID,
		ObjectKey:   key,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
	}
	if err := s.store.CreateBackgroundImage(ctx, img); err != nil {
		return nil, err
	}
	return s.backgroundPayload(ctx, img), nil
}

func (s *Service) ListBackgrounds(ctx context.Context, session Session) ([]map[string]any, error) {
	images, err := s.store.ListBackgroundImages(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(images))
	for _, img := range images {
		items = append(items, s.backgroundPayload(ctx, img))
	}
	return items, nil
}

// DeleteBackground removes the image and detaches it from any documents
// using it. The object-store removal is best effort; the row goes either
// way so the image disappears from the user's library.
func (s *Service) DeleteBackground(ctx context.Context, session Session, imageID string) error {
	img, err := s.store.GetBackgroundImage(ctx, imageID)
	if err != nil {
		return err
	}
	if img.OwnerID != session.UserID {
		return sql.ErrNoRows
	}

	if s.objects != nil {
		if err := s.objects.Delete(ctx, img.ObjectKey); err != nil {
			s.logger.Warn("background object delete failed", "key", img.ObjectKey, "error", err)
		}
	}
	return s.store.DeleteBackgroundImage(ctx, imageID)
}

// backgroundPayload presigns a download URL when it can; a presign
// failure drops the url field rather than the whole response.
func (s *Service) backgroundPayload(ctx context.Context, img store.BackgroundImage) map[string]any {
	payload := map[string]any{
		"id":          img.ID,
		"filename":    img.Filename,
		"contentType": img.ContentType,
		"sizeBytes":   img.SizeBytes,
		"createdAt":   img.CreatedAt,
	}
	if s.objects != nil {
		url, err := s.objects.PresignedURL(ctx, img.ObjectKey)
		if err != nil {
			s.logger.Warn("presign background failed", "key", img.ObjectKey, "error", err)
		} else {
			payload["url"] = url
		}
	}
	return payload
}
