package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/internal/domain/queue"
	"github.com/okian/putmeon/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

var alice = model.Identity{UID: "u1", Handle: "Guest_1", IsGuest: true}

func TestQueue(t *testing.T) {
	Convey("Given a queue backed by a live session", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		sess := session.New(store)
		q := queue.New(store, sess, queue.WithStamper(clock.NewMonotonic(clock.NewFixed(time.UnixMilli(1_000)))))

		Convey("Submit assigns id, timestamp, default title and tier", func() {
			tr, err := q.Submit(ctx, "  Drake ", "", alice)
			So(err, ShouldBeNil)
			So(tr.ID, ShouldNotBeBlank)
			So(tr.Artist, ShouldEqual, "Drake")
			So(tr.Title, ShouldEqual, "Untitled")
			So(tr.Tier, ShouldEqual, "regular")
			So(tr.SubmittedBy, ShouldEqual, "Guest_1")
			So(tr.SubmittedByUID, ShouldEqual, "u1")
			So(tr.SubmittedAt, ShouldEqual, 1_000)

			got, err := q.Get(ctx, tr.ID)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, tr)
		})

		Convey("A blank artist is rejected and nothing is stored", func() {
			_, err := q.Submit(ctx, "   ", "Song", alice)
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
			n, _ := q.Len(ctx)
			So(n, ShouldEqual, 0)
		})

		Convey("List is freshest first even with a frozen wall clock", func() {
			a, _ := q.Submit(ctx, "A", "1", alice)
			b, _ := q.Submit(ctx, "B", "2", alice)
			c, _ := q.Submit(ctx, "C", "3", alice)
			list, err := q.List(ctx)
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 3)
			So(list[0].ID, ShouldEqual, c.ID)
			So(list[1].ID, ShouldEqual, b.ID)
			So(list[2].ID, ShouldEqual, a.ID)
		})

		Convey("Promote moves the track from the queue into the session", func() {
			tr, _ := q.Submit(ctx, "Drake", "God's Plan", alice)
			got, err := q.Promote(ctx, tr.ID)
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, tr.ID)
			n, _ := q.Len(ctx)
			So(n, ShouldEqual, 0)
			So(sess.State().CurrentTrack().ID, ShouldEqual, tr.ID)
			So(sess.State().Phase, ShouldEqual, model.PhaseClosed)
		})

		Convey("Promoting an unknown id is NotFound and changes nothing", func() {
			_, _ = q.Submit(ctx, "Drake", "x", alice)
			_, err := q.Promote(ctx, "missing")
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			n, _ := q.Len(ctx)
			So(n, ShouldEqual, 1)
			So(sess.State().Phase, ShouldEqual, model.PhaseNoTrack)
		})

		Convey("A refused promotion puts the track back", func() {
			first, _ := q.Submit(ctx, "A", "1", alice)
			second, _ := q.Submit(ctx, "B", "2", alice)
			_, err := q.Promote(ctx, first.ID)
			So(err, ShouldBeNil)
			_, err = sess.OpenGrading(ctx)
			So(err, ShouldBeNil)

			_, err = q.Promote(ctx, second.ID)
			So(errors.Is(err, errs.ErrInvalidTransition), ShouldBeTrue)
			got, err := q.Get(ctx, second.ID)
			So(err, ShouldBeNil)
			So(got.Artist, ShouldEqual, "B")
			So(sess.State().CurrentTrack().ID, ShouldEqual, first.ID)
		})

		Convey("Concurrent promotions of one track succeed exactly once", func() {
			tr, _ := q.Submit(ctx, "Drake", "x", alice)
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := q.Promote(ctx, tr.ID); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			So(wins, ShouldEqual, 1)
		})

		Convey("After a restart new submissions sort ahead of a burst that ran ahead of the clock", func() {
			for _, a := range []string{"A", "B", "C"} {
				_, err := q.Submit(ctx, a, "", alice)
				So(err, ShouldBeNil)
			}

			restarted := queue.New(store, sess, queue.WithStamper(clock.NewMonotonic(clock.NewFixed(time.UnixMilli(1_000)))))
			So(restarted.Restore(ctx), ShouldBeNil)
			fresh, err := restarted.Submit(ctx, "D", "", alice)
			So(err, ShouldBeNil)
			So(fresh.SubmittedAt, ShouldEqual, 1_003)

			list, err := restarted.List(ctx)
			So(err, ShouldBeNil)
			So(list[0].ID, ShouldEqual, fresh.ID)
		})
	})
}
