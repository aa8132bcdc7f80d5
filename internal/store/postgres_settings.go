package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ---- keybindings

// ListKeybindings returns only the user's overrides; defaults live in
// code and are merged by the service.
func (s *PostgresStore) ListKeybindings(ctx context.Context, userID string) ([]Keybinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command, keys, updated_at FROM keybindings WHERE user_id=$1 ORDER BY command ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list keybindings: %w", err)
	}
	defer rows.Close()

	bindings := make([]Keybinding, 0)
	for rows.Next() {
		var binding Keybinding
		if err := rows.Scan(&binding.Command, &binding.Keys, &binding.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan keybinding: %w", err)
		}
		bindings = append(bindings, binding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keybindings: %w", err)
	}
	return bindings, nil
}

func (s *PostgresStore) UpsertKeybinding(ctx context.Context, userID, command, keys string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keybindings (user_id, command, keys)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, command) DO UPDATE SET keys=EXCLUDED.keys, updated_at=NOW()
	`, userID, command, keys)
	if err != nil {
		return fmt.Errorf("upsert keybinding: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteKeybinding(ctx context.Context, userID, command string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM keybindings WHERE user_id=$1 AND command=$2`, userID, command)
	if err != nil {
		return fmt.Errorf("delete keybinding: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllKeybindings(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM keybindings WHERE user_id=$1`, userID)
	if err != nil {
		return fmt.Errorf("reset keybindings: %w", err)
	}
	return nil
}

// ---- preferences

func (s *PostgresStore) ListPreferences(ctx context.Context, userID string) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, updated_at FROM preferences WHERE user_id=$1 ORDER BY key ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	prefs := make([]Preference, 0)
	for rows.Next() {
		var pref Preference
		if err := rows.Scan(&pref.Key, &pref.Value, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return prefs, nil
}

func (s *PostgresStore) GetPreference(ctx context.Context, userID, key string) (Preference, error) {
	var pref Preference
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated_at FROM preferences WHERE user_id=$1 AND key=$2
	`, userID, key).Scan(&pref.Key, &pref.Value, &pref.UpdatedAt)
	if err != nil {
		return Preference{}, err
	}
	return pref, nil
}

func (s *PostgresStore) UpsertPreference(ctx context.Context, userID, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePreference(ctx context.Context, userID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE user_id=$1 AND key=$2`, userID, key)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}

// ---- background images

func (s *PostgresStore) CreateBackgroundImage(ctx context.Context, img BackgroundImage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO background_images (id, owner_id, object_key, filename, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, img.ID, img.OwnerID, img.ObjectKey, img.Filename, img.ContentType, img.SizeBytes)
	if err != nil {
		return fmt.Errorf("insert background image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBackgroundImage(ctx context.Context, imageID string) (BackgroundImage, error) {
	var img BackgroundImage
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, object_key, filename, content_type, size_bytes, created_at
		FROM background_images WHERE id=$1
	`, imageID).Scan(&img.ID, &img.OwnerID, &img.ObjectKey, &img.Filename, &img.ContentType, &img.SizeBytes, &img.CreatedAt)
	if err != nil {
		return BackgroundImage{}, err
	}
	return img, nil
}

func (s *PostgresStore) ListBackgroundImages(ctx context.Context, ownerID string) ([]BackgroundImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, object_key, filename, content_type, size_bytes, created_at
		FROM background_images
		WHERE owner_id=$1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list background images: %w", err)
	}
	defer rows.Close()

	images := make([]BackgroundImage, 0)
	for rows.Next() {
		var img BackgroundImage
		if err := rows.Scan(&img.ID, &img.OwnerID, &img.ObjectKey, &img.Filename, &img.ContentType, &img.SizeBytes, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan background image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate background images: %w", err)
	}
	return images, nil
}

// DeleteBackgroundImage removes the row and clears any documents that
// referenced the image as their backdrop.
func (s *PostgresStore) DeleteBackgroundImage(ctx context.Context, imageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete background image: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET background_id=NULL WHERE background_id=$1`, imageID); err != nil {
		return fmt.Errorf("detach background image: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM background_images WHERE id=$1`, imageID); err != nil {
		return fmt.Errorf("delete background image: %w", err)
	}
	return tx.Commit()
}
