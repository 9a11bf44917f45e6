// Package grading validates score vectors and derives their total.
package grading

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
)

// Score constraints.
const (
	MinScore  = 0.0
	MaxScore  = 10.0
	Step      = 0.5
	MaxTotal  = 100
	criterion = 5
)

var names = [criterion]string{"flow", "beat", "bars", "vibe", "aes"}

// Validate rejects criteria outside [0,10], off the 0.5 grid, or not finite.
func Validate(s model.Scores) error {
	for i, v := range s.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.Newf("grading.validate", errs.ErrValidation, "%s is not a number", names[i])
		}
		if v < MinScore || v > MaxScore {
			return errs.Newf("grading.validate", errs.ErrValidation, "%s=%v outside [%v,%v]", names[i], v, MinScore, MaxScore)
		}
		if v/Step != math.Trunc(v/Step) {
			return errs.Newf("grading.validate", errs.ErrValidation, "%s=%v not a multiple of %v", names[i], v, Step)
		}
	}
	return nil
}

// Parse decodes a score vector from JSON and validates it. Every criterion
// must be present; the error names the missing ones.
func Parse(b json.RawMessage) (model.Scores, error) {
	const op = "grading.parse"
	if len(b) == 0 || string(b) == "null" {
		return model.Scores{}, errs.Newf(op, errs.ErrValidation, "scores are required")
	}
	var s model.Scores
	if err := json.Unmarshal(b, &s); err != nil {
		return model.Scores{}, errs.WrapKind(op, errs.ErrValidation, err)
	}
	if err := Validate(s); err != nil {
		return model.Scores{}, err
	}
	return s, nil
}

// Total is round(2 * sum of criteria). Valid vectors yield [0,100].
func Total(s model.Scores) int {
	var sum float64
	for _, v := range s.Values() {
		sum += v
	}
	return int(math.Round(sum * 2))
}

// Score validates s and returns its total.
func Score(s model.Scores) (int, error) {
	if err := Validate(s); err != nil {
		return 0, err
	}
	t := Total(s)
	if t < 0 || t > MaxTotal {
		return 0, errs.Newf("grading.score", errs.ErrValidation, "total %d out of range", t)
	}
	return t, nil
}

// Uniform returns a vector with every criterion set to v.
func Uniform(v float64) model.Scores {
	return model.Scores{Flow: v, Beat: v, Bars: v, Vibe: v, Aesthetic: v}
}

// String renders s compactly for logs.
func String(s model.Scores) string {
	return fmt.Sprintf("flow=%v beat=%v bars=%v vibe=%v aes=%v", s.Flow, s.Beat, s.Bars, s.Vibe, s.Aesthetic)
}
