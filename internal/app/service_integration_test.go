package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/putmeon/internal/adapters/identity"
	service "github.com/okian/putmeon/internal/app"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/grading"
	"github.com/okian/putmeon/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func signIn(ctx context.Context, svc *service.Service, handle string) model.Identity {
	_, tok, err := svc.Authenticate(ctx, identity.Credentials{Mode: identity.ModeGuest, Handle: handle})
	if err != nil {
		panic(err)
	}
	id, err := svc.Verify(ctx, tok)
	if err != nil {
		panic(err)
	}
	return id
}

// playing submits a track, promotes it and opens grading.
func playing(ctx context.Context, svc *service.Service, by model.Identity) model.Track {
	tr, err := svc.Submit(ctx, by, "Sade", "Kiss of Life")
	if err != nil {
		panic(err)
	}
	if _, err := svc.Promote(ctx, tr.ID); err != nil {
		panic(err)
	}
	if _, err := svc.OpenGrading(ctx); err != nil {
		panic(err)
	}
	return tr
}

func TestServiceConcurrency(t *testing.T) {
	Convey("Given a session with many guests", t, func() {
		ctx := context.Background()
		svc := newService(service.WithTxMaxAttempts(64))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		const guests = 30
		ids := make([]model.Identity, guests)
		for i := range ids {
			ids[i] = signIn(ctx, svc, "G"+strconv.Itoa(i))
		}
		tr := playing(ctx, svc, ids[0])

		Convey("When everybody grades at once", func() {
			var wg sync.WaitGroup
			errList := make([]error, guests)
			for i := range ids {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errList[i] = svc.Grade(ctx, ids[i], tr.ID, grading.Uniform(float64(i%11)))
				}()
			}
			wg.Wait()

			Convey("Then every grade is accepted and counted once", func() {
				for _, err := range errList {
					So(err, ShouldBeNil)
				}
				vs, err := svc.Votes(ctx, tr.ID)
				So(err, ShouldBeNil)
				So(len(vs), ShouldEqual, guests)
				for i, id := range ids {
					me, err := svc.Me(ctx, id.UID)
					So(err, ShouldBeNil)
					So(me.Stats.TotalVotes, ShouldEqual, 1)
					So(me.Stats.TotalScoreSum, ShouldEqual, int64(grading.Total(grading.Uniform(float64(i%11)))))
				}
			})

			Convey("And closing records the last grade", func() {
				_, err := svc.CloseGrading(ctx)
				So(err, ShouldBeNil)
				vs, _ := svc.Votes(ctx, tr.ID)
				top, _ := svc.Leaderboard()
				So(len(top), ShouldEqual, 1)
				So(top[0].Score, ShouldEqual, vs[len(vs)-1].Total)
			})
		})

		Convey("When one guest grades from several devices at once", func() {
			var accepted, rejected atomic.Int64
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.Grade(ctx, ids[1], tr.ID, grading.Uniform(3))
					switch {
					case err == nil:
						accepted.Add(1)
					case errors.Is(err, errs.ErrAlreadyGraded):
						rejected.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one grade counts", func() {
				So(accepted.Load(), ShouldEqual, 1)
				So(rejected.Load(), ShouldEqual, 7)
				me, _ := svc.Me(ctx, ids[1].UID)
				So(me.Stats, ShouldResemble, model.Stats{TotalVotes: 1, TotalScoreSum: 30})
			})
		})

		Convey("When grades race the host closing grading", func() {
			var wg sync.WaitGroup
			var accepted atomic.Int64
			for i := range ids {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.Grade(ctx, ids[i], tr.ID, grading.Uniform(4))
					if err == nil {
						accepted.Add(1)
						return
					}
					if !errors.Is(err, errs.ErrGradingClosed) {
						panic(err)
					}
				}()
			}
			_, err := svc.CloseGrading(ctx)
			So(err, ShouldBeNil)
			wg.Wait()

			Convey("Then the recorded votes are exactly the accepted ones", func() {
				vs, err := svc.Votes(ctx, tr.ID)
				So(err, ShouldBeNil)
				So(int64(len(vs)), ShouldEqual, accepted.Load())
				if len(vs) > 0 {
					top, _ := svc.Leaderboard()
					So(top[0].Score, ShouldEqual, 40)
				}
			})
		})
	})
}

func TestConcurrentHostActions(t *testing.T) {
	Convey("Given queued songs", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		host := signIn(ctx, svc, "Host")

		Convey("When many guests submit at once", func() {
			var wg sync.WaitGroup
			for i := range 25 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = svc.Submit(ctx, host, "Artist "+strconv.Itoa(i), "")
				}()
			}
			wg.Wait()

			Convey("Then every song is queued with a default title", func() {
				q, err := svc.Queue(ctx)
				So(err, ShouldBeNil)
				So(len(q), ShouldEqual, 25)
				So(q[0].Title, ShouldEqual, model.DefaultTitle)
			})
		})

		Convey("When the same song is promoted from several places", func() {
			tr, err := svc.Submit(ctx, host, "Drake", "Headlines")
			So(err, ShouldBeNil)

			var ok, missing atomic.Int64
			var wg sync.WaitGroup
			for range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.Promote(ctx, tr.ID)
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, errs.ErrNotFound):
						missing.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then it plays once and leaves the queue", func() {
				So(ok.Load(), ShouldEqual, 1)
				So(missing.Load(), ShouldEqual, 9)
				st, _ := svc.Session()
				So(st.CurrentTrack().ID, ShouldEqual, tr.ID)
				q, _ := svc.Queue(ctx)
				So(len(q), ShouldEqual, 0)
			})
		})

		Convey("When promotion is refused because grading is open", func() {
			playing(ctx, svc, host)
			next, err := svc.Submit(ctx, host, "Sade", "Smooth Operator")
			So(err, ShouldBeNil)

			_, err = svc.Promote(ctx, next.ID)

			Convey("Then the song stays queued", func() {
				So(errors.Is(err, errs.ErrInvalidTransition), ShouldBeTrue)
				q, _ := svc.Queue(ctx)
				So(len(q), ShouldEqual, 1)
				So(q[0].ID, ShouldEqual, next.ID)
			})
		})
	})
}

func TestRepeatGradingAllowed(t *testing.T) {
	Convey("Given a service that accepts repeat grades", t, func() {
		ctx := context.Background()
		svc := newService(service.WithOneVotePerTrack(false))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		id := signIn(ctx, svc, "Fan")
		tr := playing(ctx, svc, id)

		Convey("every grade counts toward the grader's reputation", func() {
			for range 3 {
				_, err := svc.Grade(ctx, id, tr.ID, grading.Uniform(1))
				So(err, ShouldBeNil)
			}
			me, err := svc.Me(ctx, id.UID)
			So(err, ShouldBeNil)
			So(me.Stats, ShouldResemble, model.Stats{TotalVotes: 3, TotalScoreSum: 30})
			vs, _ := svc.Votes(ctx, tr.ID)
			So(len(vs), ShouldEqual, 3)
		})
	})
}

func TestIncompleteScoresHaveNoEffect(t *testing.T) {
	Convey("Given an open grading window", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		id := signIn(ctx, svc, "Fan")
		tr := playing(ctx, svc, id)

		Convey("partial and empty vectors are rejected before any vote is written", func() {
			for _, body := range []string{`{"flow":10}`, `{}`} {
				scores, err := grading.Parse(json.RawMessage(body))
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
				if err == nil {
					_, _ = svc.Grade(ctx, id, tr.ID, scores)
				}
			}
			vs, err := svc.Votes(ctx, tr.ID)
			So(err, ShouldBeNil)
			So(len(vs), ShouldEqual, 0)
			me, err := svc.Me(ctx, id.UID)
			So(err, ShouldBeNil)
			So(me.Stats, ShouldResemble, model.Stats{})

			Convey("and the user can still grade with a complete vector", func() {
				scores, err := grading.Parse(json.RawMessage(`{"flow":10,"beat":10,"bars":10,"vibe":10,"aes":10}`))
				So(err, ShouldBeNil)
				res, err := svc.Grade(ctx, id, tr.ID, scores)
				So(err, ShouldBeNil)
				So(res.Vote.Total, ShouldEqual, 100)
			})
		})
	})
}
