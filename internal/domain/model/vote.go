package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCriterion marks a score vector that lacks a criterion.
var ErrMissingCriterion = errors.New("missing score criterion")

// Scores holds the five grading criteria.
type Scores struct {
	Flow      float64 `json:"flow"`
	Beat      float64 `json:"beat"`
	Bars      float64 `json:"bars"`
	Vibe      float64 `json:"vibe"`
	Aesthetic float64 `json:"aes"`
}

// UnmarshalJSON requires every criterion to be present and non-null. An
// absent criterion is never read as 0.
func (s *Scores) UnmarshalJSON(b []byte) error {
	var raw struct {
		Flow      *float64 `json:"flow"`
		Beat      *float64 `json:"beat"`
		Bars      *float64 `json:"bars"`
		Vibe      *float64 `json:"vibe"`
		Aesthetic *float64 `json:"aes"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var missing []string
	pick := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return *v
	}
	out := Scores{
		Flow:      pick("flow", raw.Flow),
		Beat:      pick("beat", raw.Beat),
		Bars:      pick("bars", raw.Bars),
		Vibe:      pick("vibe", raw.Vibe),
		Aesthetic: pick("aes", raw.Aesthetic),
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCriterion, strings.Join(missing, ", "))
	}
	*s = out
	return nil
}

// Values returns the criteria in a fixed order.
func (s Scores) Values() [5]float64 {
	return [5]float64{s.Flow, s.Beat, s.Bars, s.Vibe, s.Aesthetic}
}

// Vote is one user's grade for one track. Append-only.
type Vote struct {
	ID         string `json:"id"`
	TrackID    string `json:"trackId"`
	UserHandle string `json:"user"`
	UserUID    string `json:"uid"`
	Scores     Scores `json:"scores"`
	Total      int    `json:"total"`
	Timestamp  int64  `json:"timestamp"`
}

// HistoryEntry is a graded track appended when its grading window closes.
type HistoryEntry struct {
	ID        string `json:"id"`
	TrackID   string `json:"trackId"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Score     int    `json:"score"`
	Timestamp int64  `json:"timestamp"`
}

// FavoriteEntry is one track in a user's crate.
type FavoriteEntry struct {
	Key     string `json:"key"`
	Artist  string `json:"artist"`
	Title   string `json:"title"`
	AddedAt int64  `json:"addedAt"`
}

// Presence states.
const (
	Online  = "online"
	Offline = "offline"
)

// PresenceRecord reflects whether a participant's connection is live.
type PresenceRecord struct {
	UID         string `json:"uid"`
	State       string `json:"state"`
	LastChanged int64  `json:"lastChanged"`
	Handle      string `json:"handle"`
}

// Change is a committed store write.
type Change struct {
	Path    string
	At      int64
	Deleted bool
}
