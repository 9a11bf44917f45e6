// Package simulate drives a complete listening session against a running
// server: guests sign in, stay online over websockets, submit songs and
// grade the track the host plays.
package simulate

import (
	"time"

	"github.com/okian/putmeon/internal/domain/model"
)

// Config holds configuration for a simulated session.
type Config struct {
	BaseURL  string        // Base URL of the service
	Guests   int           // Number of guests, the first one hosts
	Songs    int           // Songs submitted per guest
	Timeout  time.Duration // HTTP request timeout
	CacheDir string        // Directory of per-guest graded-track caches
	Verbose  bool          // Enable verbose logging
}

// Stats holds simulation statistics.
type Stats struct {
	GuestsSignedIn  int
	SongsSubmitted  int
	GradesSubmitted int
	GradesSkipped   int
	GradesRejected  int
	Track           model.Track
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
