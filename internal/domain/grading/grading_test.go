package grading_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/grading"
	"github.com/okian/putmeon/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestScore(t *testing.T) {
	Convey("Given score vectors", t, func() {
		Convey("Uniform 2s total 20", func() {
			total, err := grading.Score(grading.Uniform(2))
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 20)
		})

		Convey("Bounds map to 0 and 100", func() {
			lo, err := grading.Score(grading.Uniform(0))
			So(err, ShouldBeNil)
			So(lo, ShouldEqual, 0)
			hi, err := grading.Score(grading.Uniform(10))
			So(err, ShouldBeNil)
			So(hi, ShouldEqual, 100)
		})

		Convey("Half steps are accepted", func() {
			total, err := grading.Score(model.Scores{Flow: 7.5, Beat: 8, Bars: 6.5, Vibe: 9, Aesthetic: 0.5})
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 63)
		})

		Convey("Every grid vector satisfies total = round(2*sum) within [0,100]", func() {
			for a := 0.0; a <= 10; a += 2.5 {
				for b := 0.0; b <= 10; b += 0.5 {
					s := model.Scores{Flow: a, Beat: b, Bars: 10 - b, Vibe: b / 2, Aesthetic: a}
					if grading.Validate(s) != nil {
						continue
					}
					total, err := grading.Score(s)
					So(err, ShouldBeNil)
					So(total, ShouldEqual, int(math.Round(2*(s.Flow+s.Beat+s.Bars+s.Vibe+s.Aesthetic))))
					So(total, ShouldBeBetweenOrEqual, 0, 100)
				}
			}
		})

		Convey("Malformed vectors are validation errors", func() {
			bad := []model.Scores{
				{Flow: -0.5},
				{Beat: 10.5},
				{Bars: 3.3},
				{Vibe: math.NaN()},
				{Aesthetic: math.Inf(1)},
			}
			for _, s := range bad {
				_, err := grading.Score(s)
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
			}
		})
	})
}

func TestParse(t *testing.T) {
	Convey("Given JSON score vectors", t, func() {
		Convey("A complete vector parses and validates", func() {
			s, err := grading.Parse(json.RawMessage(`{"flow":10,"beat":2,"bars":3.5,"vibe":0,"aes":1}`))
			So(err, ShouldBeNil)
			So(s, ShouldResemble, model.Scores{Flow: 10, Beat: 2, Bars: 3.5, Vibe: 0, Aesthetic: 1})
		})

		Convey("A partial vector names the missing criteria", func() {
			_, err := grading.Parse(json.RawMessage(`{"flow":10}`))
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
			So(errors.Is(err, model.ErrMissingCriterion), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "beat, bars, vibe, aes")
		})

		Convey("A null criterion counts as missing", func() {
			_, err := grading.Parse(json.RawMessage(`{"flow":1,"beat":1,"bars":1,"vibe":1,"aes":null}`))
			So(errors.Is(err, model.ErrMissingCriterion), ShouldBeTrue)
		})

		Convey("Empty, null and absent vectors are rejected", func() {
			for _, b := range []string{`{}`, `null`, ``} {
				_, err := grading.Parse(json.RawMessage(b))
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
			}
		})

		Convey("Out of range values are still rejected", func() {
			_, err := grading.Parse(json.RawMessage(`{"flow":11,"beat":1,"bars":1,"vibe":1,"aes":1}`))
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})
	})
}
