package model

import "strings"

// Root path segments of the logical store layout.
const (
	UsersRoot      = "users"
	StreamRoot     = "streamState"
	QueueRoot      = "queue"
	HistoryRoot    = "history"
	VotesRoot      = "votes"
	GradersRoot    = "graders"
	AttendanceRoot = "attendance"

	NowPlayingPath = StreamRoot + "/nowPlaying"
	VotingOpenPath = StreamRoot + "/votingOpen"
)

// Join builds a store path from segments.
func Join(parts ...string) string { return strings.Join(parts, "/") }

// UserPath is the profile document of uid.
func UserPath(uid string) string { return Join(UsersRoot, uid) }

// StatsPath is the reputation document of uid.
func StatsPath(uid string) string { return Join(UsersRoot, uid, "stats") }

// FavoritesPath is the crate subtree of uid.
func FavoritesPath(uid string) string { return Join(UsersRoot, uid, "favorites") }

// FavoritePath is one crate entry.
func FavoritePath(uid, key string) string { return Join(FavoritesPath(uid), key) }

// QueuePath is one queued track.
func QueuePath(id string) string { return Join(QueueRoot, id) }

// HistoryPath is one leaderboard entry.
func HistoryPath(id string) string { return Join(HistoryRoot, id) }

// TrackVotesPath is the vote subtree of a track.
func TrackVotesPath(trackID string) string { return Join(VotesRoot, trackID) }

// VotePath is one vote.
func VotePath(trackID, id string) string { return Join(VotesRoot, trackID, id) }

// GraderPath marks that uid graded trackID.
func GraderPath(trackID, uid string) string { return Join(GradersRoot, trackID, uid) }

// AttendancePath is the presence record of uid.
func AttendancePath(uid string) string { return Join(AttendanceRoot, uid) }

// RootOf returns the first segment of path.
func RootOf(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
