package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/putmeon/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new deduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		So(d.Size(), ShouldEqual, 0)

		Convey("When a grader key is recorded", func() {
			key := dedupe.Key("track-1", "uid-1")
			So(key, ShouldEqual, "track-1/uid-1")
			So(d.SeenAndRecord(ctx, key), ShouldBeFalse)

			Convey("Then a second grade is seen", func() {
				So(d.SeenAndRecord(ctx, key), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then other tracks and users are independent", func() {
				So(d.SeenAndRecord(ctx, dedupe.Key("track-2", "uid-1")), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, dedupe.Key("track-1", "uid-2")), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})

			Convey("Then unrecording allows a retry", func() {
				d.Unrecord(ctx, key)
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, key), ShouldBeFalse)
			})
		})

		Convey("Unrecording an unknown key is a no-op", func() {
			d.Unrecord(ctx, "missing")
			So(d.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for i := 1; i <= 3; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i)), ShouldBeFalse)
		}

		Convey("When a fourth key arrives the oldest is evicted", func() {
			So(d.SeenAndRecord(ctx, "k4"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "k4"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "k3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "k2"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i))
		}
		So(d.Size(), ShouldEqual, 1000)
		So(d.SeenAndRecord(ctx, "k0"), ShouldBeTrue)
	})
}

func TestDedupeConcurrentClaims(t *testing.T) {
	Convey("Given many goroutines claiming the same key", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(context.Background(), "t/u") {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Exactly one wins", func() {
			So(winners.Load(), ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
