package rank_test

import (
	"testing"

	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/internal/domain/rank"
)

func TestFor_Boundaries(t *testing.T) {
	cases := []struct {
		votes int64
		want  rank.Tier
	}{
		{0, rank.RookieListener},
		{5, rank.RookieListener},
		{6, rank.JuniorCritic},
		{20, rank.JuniorCritic},
		{21, rank.ARScout},
		{50, rank.ARScout},
		{51, rank.ExecProducer},
		{10_000, rank.ExecProducer},
	}
	for _, tc := range cases {
		if got := rank.For(tc.votes); got != tc.want {
			t.Errorf("For(%d) = %q, want %q", tc.votes, got, tc.want)
		}
	}
}

func TestFor_Monotonic(t *testing.T) {
	order := map[rank.Tier]int{
		rank.RookieListener: 0,
		rank.JuniorCritic:   1,
		rank.ARScout:        2,
		rank.ExecProducer:   3,
	}
	prev := order[rank.For(0)]
	for v := int64(1); v <= 200; v++ {
		cur := order[rank.For(v)]
		if cur < prev {
			t.Fatalf("rank decreased at %d", v)
		}
		prev = cur
	}
}

func TestAverage(t *testing.T) {
	if got := rank.Average(model.Stats{}); got != 0 {
		t.Errorf("expected 0 with no votes, got %v", got)
	}
	if got := rank.Average(model.Stats{TotalVotes: 4, TotalScoreSum: 150}); got != 37.5 {
		t.Errorf("expected 37.5, got %v", got)
	}
}
