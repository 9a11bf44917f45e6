// Package model contains domain models passed between layers.
package model

// Identity is what the identity provider vouches for.
type Identity struct {
	UID     string `json:"uid"`
	Handle  string `json:"handle"`
	IsGuest bool   `json:"isGuest"`
}

// Stats is a user's reputation aggregate. Mutated only by the grading
// transaction.
type Stats struct {
	TotalVotes    int64 `json:"totalVotes"`
	TotalScoreSum int64 `json:"totalScoreSum"`
}

// Profile is the persisted part of a user that is written once on first
// authentication.
type Profile struct {
	Handle  string `json:"handle"`
	IsGuest bool   `json:"isGuest"`
	Joined  int64  `json:"joined"`
}

// User is a profile joined with its stats and derived reputation.
type User struct {
	UID     string  `json:"uid"`
	Handle  string  `json:"handle"`
	IsGuest bool    `json:"isGuest"`
	Joined  int64   `json:"joined"`
	Stats   Stats   `json:"stats"`
	Rank    string  `json:"rank"`
	Average float64 `json:"average"`
}
