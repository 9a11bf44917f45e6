// Package rank maps reputation to a display tier.
package rank

import "github.com/okian/putmeon/internal/domain/model"

// Tier is a reputation label.
type Tier string

// Tiers, lowest first.
const (
	RookieListener Tier = "Rookie Listener"
	JuniorCritic   Tier = "Junior Critic"
	ARScout        Tier = "A&R Scout"
	ExecProducer   Tier = "Exec Producer"
)

// Thresholds are exclusive lower bounds.
const (
	juniorCriticAbove = 5
	arScoutAbove      = 20
	execProducerAbove = 50
)

// For returns the tier for a vote count.
func For(totalVotes int64) Tier {
	switch {
	case totalVotes > execProducerAbove:
		return ExecProducer
	case totalVotes > arScoutAbove:
		return ARScout
	case totalVotes > juniorCriticAbove:
		return JuniorCritic
	default:
		return RookieListener
	}
}

// Average is the mean total a user has given, or 0 with no votes.
func Average(s model.Stats) float64 {
	if s.TotalVotes <= 0 {
		return 0
	}
	return float64(s.TotalScoreSum) / float64(s.TotalVotes)
}
