package model

// Defaults applied to queue submissions.
const (
	DefaultTitle = "Untitled"
	DefaultTier  = "regular"
)

// Track is a song submission. Immutable once created.
type Track struct {
	ID             string `json:"id"`
	Artist         string `json:"artist"`
	Title          string `json:"title"`
	SubmittedBy    string `json:"submittedBy"`
	SubmittedByUID string `json:"submittedByUid"`
	SubmittedAt    int64  `json:"timestamp"`
	Tier           string `json:"tier"`
}
