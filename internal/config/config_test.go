package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/putmeon/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
			convey.So(cfg.FanoutWorkers, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.FanoutQueueSize, convey.ShouldEqual, 4096)
			convey.So(cfg.SubscriberBuffer, convey.ShouldEqual, 1)
			convey.So(cfg.TxMaxAttempts, convey.ShouldEqual, 16)
			convey.So(cfg.LeaderboardSize, convey.ShouldEqual, 15)
			convey.So(cfg.OneVotePerTrack, convey.ShouldBeTrue)
			convey.So(cfg.TokenTTL, convey.ShouldEqual, 24*time.Hour)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("An unknown store driver is rejected", func() {
			cfg.StoreDriver = "postgres"
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("The sqlite driver needs a path", func() {
			cfg.StoreDriver = "sqlite"
			cfg.SQLitePath = " "
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("A leaderboard must hold at least one entry", func() {
			cfg.LeaderboardSize = 0
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("The pong timeout must exceed the ping interval", func() {
			cfg.PongTimeout = cfg.PingInterval
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("Unknown log formats are rejected", func() {
			cfg.LogFormat = "xml"
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})
	})
}
