package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// ReplaceDocumentChunks swaps the indexed chunks for a document in one
// transaction so retrieval never sees a half-indexed document.
func (s *PostgresStore) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []ChunkWithEmbedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	for _, chunk := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (document_id, chunk_index, content, token_estimate, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, documentID, chunk.ChunkIndex, chunk.Content, chunk.TokenEstimate, pgvector.NewVector(chunk.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// SearchChunks ranks chunks from the given documents by cosine distance
// to the query embedding. Similarity is reported as 1 - distance.
func (s *PostgresStore) SearchChunks(ctx context.Context, embedding []float32, documentIDs []string, topK int) ([]ChunkMatch, error) {
	if len(documentIDs) == 0 {
		return []ChunkMatch{}, nil
	}
	if topK <= 0 || topK > 50 {
		topK = 6
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, d.title, c.chunk_index, c.content, c.token_estimate,
			1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = ANY($2) AND d.deleted_at IS NULL
		ORDER BY c.embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(embedding), documentIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]ChunkMatch, 0, topK)
	for rows.Next() {
		var match ChunkMatch
		if err := rows.Scan(
			&match.DocumentID, &match.DocumentTitle, &match.ChunkIndex,
			&match.Content, &match.TokenEstimate, &match.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk matches: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id=$1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// ---- conversations

func (s *PostgresStore) CreateConversation(ctx context.Context, conv Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assistant_conversations (id, document_id, user_id, title)
		VALUES ($1, $2, $3, $4)
	`, conv.ID, conv.DocumentID, conv.UserID, conv.Title)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.document_id, c.user_id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM assistant_messages m WHERE m.conversation_id = c.id)
		FROM assistant_conversations c
		WHERE c.id=$1
	`, conversationID).Scan(
		&conv.ID, &conv.DocumentID, &conv.UserID, &conv.Title,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount,
	)
	if err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID, documentID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.user_id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM assistant_messages m WHERE m.conversation_id = c.id)
		FROM assistant_conversations c
		WHERE c.user_id=$1 AND c.document_id=$2
		ORDER BY c.updated_at DESC
	`, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(
			&conv.ID, &conv.DocumentID, &conv.UserID, &conv.Title,
			&conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM assistant_conversations WHERE id=$1`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ---- messages

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sources any
	if len(msg.Sources) > 0 {
		sources = json.RawMessage(msg.Sources)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assistant_messages (id, conversation_id, role, content, model, token_estimate, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Model, msg.TokenEstimate, sources); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE assistant_conversations SET updated_at=NOW() WHERE id=$1
	`, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, model, token_estimate, sources, created_at
		FROM assistant_messages
		WHERE conversation_id=$1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Model, &msg.TokenEstimate, &msg.Sources, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ListRecentMessages returns the newest limit messages in chronological
// order, so prompt history always contains the latest turns no matter
// how long the conversation has grown.
func (s *PostgresStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, model, token_estimate, sources, created_at
		FROM assistant_messages
		WHERE conversation_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Model, &msg.TokenEstimate, &msg.Sources, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
