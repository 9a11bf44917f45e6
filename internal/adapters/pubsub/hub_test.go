package pubsub_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/putmeon/internal/adapters/mq/queue"
	"github.com/okian/putmeon/internal/adapters/mq/worker"
	"github.com/okian/putmeon/internal/adapters/pubsub"
	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func next(t *testing.T, sub *pubsub.Subscription) pubsub.Snapshot {
	t.Helper()
	select {
	case s, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	return pubsub.Snapshot{}
}

// latest waits until a snapshot satisfying cond arrives.
func latest(t *testing.T, sub *pubsub.Subscription, cond func(pubsub.Snapshot) bool) pubsub.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-sub.C():
			if !ok {
				t.Fatal("subscription closed")
			}
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("expected snapshot never arrived")
		}
	}
}

func TestHub(t *testing.T) {
	Convey("Given a store wired to a hub through the fan-out pipeline", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue()
		store := repository.NewMemoryStore(repository.WithChangeHook(func(c model.Change) {
			q.Enqueue(ctx, c)
		}))
		hub := pubsub.NewHub(store)
		pool := worker.NewPool(2, q, hub)
		pool.Start(ctx)

		_, err := store.Set(ctx, "streamState/votingOpen", json.RawMessage(`false`))
		So(err, ShouldBeNil)

		Convey("Subscribing delivers the current value first", func() {
			sub, err := hub.Subscribe(ctx, "streamState")
			So(err, ShouldBeNil)
			defer sub.Release()

			snap := next(t, sub)
			So(snap.Prefix, ShouldEqual, "streamState")
			So(len(snap.Docs), ShouldEqual, 1)
			So(string(snap.Docs[0].Value), ShouldEqual, "false")

			Convey("And every later change delivers the full subtree", func() {
				_, err := store.Set(ctx, "streamState/nowPlaying", json.RawMessage(`{"id":"t1"}`))
				So(err, ShouldBeNil)
				snap := latest(t, sub, func(s pubsub.Snapshot) bool { return len(s.Docs) == 2 })
				So(snap.Docs[0].Path, ShouldEqual, "streamState/nowPlaying")
				So(snap.Docs[1].Path, ShouldEqual, "streamState/votingOpen")
				So(snap.At, ShouldBeGreaterThan, 0)
			})
		})

		Convey("A point subscription sees writes to its own path", func() {
			sub, err := hub.Subscribe(ctx, "streamState/votingOpen")
			So(err, ShouldBeNil)
			defer sub.Release()
			next(t, sub)

			_, err = store.Set(ctx, "streamState/votingOpen", json.RawMessage(`true`))
			So(err, ShouldBeNil)
			snap := latest(t, sub, func(s pubsub.Snapshot) bool {
				return len(s.Docs) == 1 && string(s.Docs[0].Value) == "true"
			})
			So(snap.Docs[0].Version, ShouldEqual, 2)
		})

		Convey("Unrelated writes are not delivered", func() {
			sub, err := hub.Subscribe(ctx, "queue")
			So(err, ShouldBeNil)
			defer sub.Release()
			next(t, sub)

			_, err = store.Set(ctx, "history/h1", json.RawMessage(`{}`))
			So(err, ShouldBeNil)
			select {
			case <-sub.C():
				t.Fatal("queue subscriber received a history change")
			case <-time.After(50 * time.Millisecond):
			}
		})

		Convey("A slow subscriber ends on the latest state", func() {
			sub, err := hub.Subscribe(ctx, "queue")
			So(err, ShouldBeNil)
			defer sub.Release()

			for i := 0; i < 20; i++ {
				_, err := store.Set(ctx, "queue/t", json.RawMessage(`{"n":`+string(rune('0'+i%10))+`}`))
				So(err, ShouldBeNil)
			}
			_, err = store.Set(ctx, "queue/t", json.RawMessage(`{"n":"final"}`))
			So(err, ShouldBeNil)

			snap := latest(t, sub, func(s pubsub.Snapshot) bool {
				return len(s.Docs) == 1 && string(s.Docs[0].Value) == `{"n":"final"}`
			})
			So(snap.Docs[0].Version, ShouldEqual, 21)
		})

		Convey("Releasing one subscription leaves the others intact", func() {
			a, err := hub.Subscribe(ctx, "queue")
			So(err, ShouldBeNil)
			b, err := hub.Subscribe(ctx, "queue")
			So(err, ShouldBeNil)
			defer b.Release()
			next(t, a)
			next(t, b)
			So(hub.Count(), ShouldEqual, 2)

			a.Release()
			a.Release()
			So(hub.Count(), ShouldEqual, 1)
			_, open := <-a.C()
			So(open, ShouldBeFalse)

			_, err = store.Set(ctx, "queue/t9", json.RawMessage(`{}`))
			So(err, ShouldBeNil)
			snap := next(t, b)
			So(len(snap.Docs), ShouldEqual, 1)
		})

		Convey("Cancelling the subscribe context releases it", func() {
			sctx, scancel := context.WithCancel(ctx)
			sub, err := hub.Subscribe(sctx, "queue")
			So(err, ShouldBeNil)
			scancel()
			select {
			case <-sub.Done():
			case <-time.After(time.Second):
				t.Fatal("subscription not released")
			}
			So(hub.Count(), ShouldEqual, 0)
		})

		Convey("An empty prefix is rejected", func() {
			_, err := hub.Subscribe(ctx, "/")
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})

		Convey("Close releases everything", func() {
			sub, err := hub.Subscribe(ctx, "queue")
			So(err, ShouldBeNil)
			hub.Close()
			<-sub.Done()
			_, err = hub.Subscribe(ctx, "queue")
			So(errors.Is(err, errs.ErrTransport), ShouldBeTrue)
		})
	})
}
