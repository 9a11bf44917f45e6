package model

import (
	"encoding/json"
	"fmt"
)

// Phase is the grading phase of the live session.
type Phase int

const (
	// PhaseNoTrack means nothing is playing.
	PhaseNoTrack Phase = iota
	// PhaseClosed means a track is playing and grading is closed.
	PhaseClosed
	// PhaseOpen means a track is playing and grades are accepted.
	PhaseOpen
)

func (p Phase) String() string {
	switch p {
	case PhaseNoTrack:
		return "no_track"
	case PhaseClosed:
		return "closed"
	case PhaseOpen:
		return "open"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "no_track":
		*p = PhaseNoTrack
	case "closed":
		*p = PhaseClosed
	case "open":
		*p = PhaseOpen
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// SessionState is the singleton live-session state. Track is nil iff Phase
// is PhaseNoTrack.
type SessionState struct {
	Phase Phase
	Track *Track
}

// CurrentTrack returns the playing track or nil.
func (s SessionState) CurrentTrack() *Track { return s.Track }

// GradingOpen reports whether grades are accepted.
func (s SessionState) GradingOpen() bool { return s.Phase == PhaseOpen }

type sessionWire struct {
	Phase      Phase  `json:"phase"`
	NowPlaying *Track `json:"nowPlaying"`
	VotingOpen bool   `json:"votingOpen"`
}

// MarshalJSON includes the derived votingOpen flag.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionWire{Phase: s.Phase, NowPlaying: s.Track, VotingOpen: s.GradingOpen()})
}

// UnmarshalJSON accepts the MarshalJSON shape.
func (s *SessionState) UnmarshalJSON(b []byte) error {
	var w sessionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.Phase, s.Track = w.Phase, w.NowPlaying
	return nil
}
