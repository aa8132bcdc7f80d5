package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string
	Role            string
	IsEmailVerified bool
	Credits         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Project struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Archived    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined on list/get responses
	DocumentCount int
}

type Document struct {
	ID           string
	OwnerID      string
	ProjectID    *string
	Title        string
	Content      json.RawMessage
	ContentText  string
	WordCount    int
	BackgroundID *string
	UpdatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

type Permission struct {
	ID           string
	SubjectID    string
	ResourceType string
	ResourceID   string
	Role         string
	GrantedBy    string
	GrantedAt    time.Time
	ExpiresAt    *time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type ShareLink struct {
	ID             string
	DocumentID     string
	TokenHash      string
	Role           string
	PasswordHash   *string
	CreatedBy      string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	RevokedAt      *time.Time
	AccessCount    int
	LastAccessedAt *time.Time
}

type Keybinding struct {
	Command   string
	Keys      string
	UpdatedAt time.Time
}

type Preference struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}

type BackgroundImage struct {
	ID          string
	OwnerID     string
	ObjectKey   string
	Filename    string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

type CreditEntry struct {
	ID        int64
	UserID    string
	Delta     int
	Reason    string
	RefID     *string
	CreatedAt time.Time
}

type Conversation struct {
	ID         string
	DocumentID string
	UserID     string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Joined on list responses
	MessageCount int
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Model          string
	TokenEstimate  int
	Sources        json.RawMessage
	CreatedAt      time.Time
}

type Chunk struct {
	DocumentID    string
	ChunkIndex    int
	Content       string
	TokenEstimate int
}

// ChunkWithEmbedding is the write-side shape for replacing a document's
// chunk set after re-embedding.
type ChunkWithEmbedding struct {
	Chunk
	Embedding []float32
}

// ChunkMatch is a similarity-search hit.
type ChunkMatch struct {
	DocumentID    string
	DocumentTitle string
	ChunkIndex    int
	Content       string
	TokenEstimate int
	Similarity    float64
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
