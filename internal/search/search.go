package search

// Result is a single search hit returned to the caller.
type Result struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	ProjectID  string `json:"projectId,omitempty"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// Query describes a search request. UserID scopes results to documents
// the user may read.
type Query struct {
	Text      string
	UserID    string
	ProjectID string // empty = all projects
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document. AllowedUserIDs
// carries the owner plus every user with a document or project grant,
// so access filtering happens inside the index.
type DocumentRecord struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	ProjectID      string   `json:"projectId"`
	AllowedUserIDs []string `json:"allowedUserIds"`
	UpdatedAt      int64    `json:"updatedAt"`
}
