package leaderboard_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/leaderboard"
	"github.com/okian/putmeon/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func track(id, artist string) model.Track {
	return model.Track{ID: id, Artist: artist, Title: "song " + id}
}

func vote(id string, total int, ts int64) model.Vote {
	return model.Vote{ID: id, Total: total, Timestamp: ts}
}

func TestRecord(t *testing.T) {
	Convey("Given an empty board", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		stamp := clock.NewMonotonic(clock.NewFixed(time.UnixMilli(10_000)))
		b := leaderboard.New(store, leaderboard.WithStamper(stamp))
		So(b.Top(), ShouldBeEmpty)

		Convey("A track without votes is not recorded", func() {
			_, ok, err := b.Record(ctx, track("t1", "Drake"), nil)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(b.Count(), ShouldEqual, 0)
		})

		Convey("The score is the last submitted vote, not the average", func() {
			e, ok, err := b.Record(ctx, track("t1", "Drake"), []model.Vote{
				vote("v2", 80, 200),
				vote("v1", 40, 100),
				vote("v3", 60, 300),
			})
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(e.Score, ShouldEqual, 60)
			So(e.Artist, ShouldEqual, "Drake")

			doc, err := store.Get(ctx, model.HistoryPath("t1"))
			So(err, ShouldBeNil)
			stored, _ := repository.Decode[model.HistoryEntry](doc)
			So(stored.Score, ShouldEqual, 60)
		})

		Convey("Top keeps the best fifteen, ties in insertion order", func() {
			for i := 0; i < 20; i++ {
				score := 50
				if i%4 == 0 {
					score = 90
				}
				_, _, err := b.Record(ctx, track(fmt.Sprintf("t%02d", i), "A"), []model.Vote{vote("v", score, 1)})
				So(err, ShouldBeNil)
			}
			top := b.Top()
			So(len(top), ShouldEqual, 15)
			So(top[0].TrackID, ShouldEqual, "t00")
			So(top[4].TrackID, ShouldEqual, "t16")
			So(top[5].TrackID, ShouldEqual, "t01")
			So(top[5].Score, ShouldEqual, 50)
			So(b.Count(), ShouldEqual, 20)
			So(len(b.All()), ShouldEqual, 20)
		})

		Convey("Re-recording a track replaces its entry", func() {
			_, _, _ = b.Record(ctx, track("t1", "Drake"), []model.Vote{vote("v", 10, 1)})
			_, _, _ = b.Record(ctx, track("t1", "Drake"), []model.Vote{vote("v", 95, 2)})
			So(b.Count(), ShouldEqual, 1)
			So(b.Top()[0].Score, ShouldEqual, 95)
		})

		Convey("Top returns a copy", func() {
			_, _, _ = b.Record(ctx, track("t1", "Drake"), []model.Vote{vote("v", 10, 1)})
			top := b.Top()
			top[0].Score = 0
			So(b.Top()[0].Score, ShouldEqual, 10)
		})

		Convey("Missing track id is a validation error", func() {
			_, _, err := b.Record(ctx, model.Track{}, []model.Vote{vote("v", 1, 1)})
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})

		Convey("A new board rebuilds the same ranking from storage", func() {
			for i, s := range []int{30, 70, 70, 10} {
				_, _, _ = b.Record(ctx, track(fmt.Sprintf("t%d", i), "A"), []model.Vote{vote("v", s, 1)})
			}
			fresh := leaderboard.New(store, leaderboard.WithSize(3))
			So(fresh.Load(ctx), ShouldBeNil)
			top := fresh.Top()
			So(len(top), ShouldEqual, 3)
			So(top[0].TrackID, ShouldEqual, "t1")
			So(top[1].TrackID, ShouldEqual, "t2")
			So(top[2].TrackID, ShouldEqual, "t0")
			So(fresh.Count(), ShouldEqual, 4)
		})
	})
}
