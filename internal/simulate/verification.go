package simulate

import (
	"context"
	"fmt"

	"github.com/okian/putmeon/internal/domain/model"
)

// verify checks that the closed track was recorded from its last grade,
// that it left the queue, and that every grader's stats moved by exactly
// their grade.
func verify(ctx context.Context, guests []*guest, track model.Track) error {
	host := guests[0].client

	votes, err := host.Votes(ctx, track.ID)
	if err != nil {
		return err
	}
	graded := 0
	for _, g := range guests {
		if g.vote != nil {
			graded++
		}
	}
	if len(votes) != graded {
		return fmt.Errorf("track has %d votes, %d guests graded", len(votes), graded)
	}

	board, err := host.Leaderboard(ctx)
	if err != nil {
		return err
	}
	if len(votes) > 0 {
		last := votes[len(votes)-1]
		found := false
		for _, e := range board {
			if e.TrackID == track.ID {
				found = true
				if e.Score != last.Total {
					return fmt.Errorf("leaderboard score %d, last vote total %d", e.Score, last.Total)
				}
			}
		}
		if !found {
			return fmt.Errorf("track %s missing from the leaderboard", track.ID)
		}
	}

	queue, err := host.Queue(ctx)
	if err != nil {
		return err
	}
	for _, t := range queue {
		if t.ID == track.ID {
			return fmt.Errorf("played track %s is still queued", track.ID)
		}
	}

	for _, g := range guests {
		if g.vote == nil {
			continue
		}
		me, err := g.client.Me(ctx)
		if err != nil {
			return err
		}
		if me.Stats.TotalVotes != 1 || me.Stats.TotalScoreSum != int64(g.vote.Total) {
			return fmt.Errorf("%s has stats %+v after grading %d", me.Handle, me.Stats, g.vote.Total)
		}
	}
	return nil
}
