package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/telewatch/internal/config"
	"github.com/okian/telewatch/internal/domain/classify"
	"github.com/okian/telewatch/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func validConfig() *config.Config {
	cfg := config.New()
	cfg.M2X.DeviceID = "wearable-1"
	return cfg
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.PollInterval, convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.Lookback, convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
			convey.So(cfg.M2X.BaseURL, convey.ShouldEqual, "https://api-m2x.att.com/v2")
			convey.So(cfg.Sink.Types, convey.ShouldResemble, []string{config.SinkLog})
			convey.So(cfg.Watermark.Backend, convey.ShouldEqual, config.BackendMemory)
		})

		convey.Convey("Then it watches the wearable streams", func() {
			ids := make([]string, 0, len(cfg.Streams))
			for _, s := range cfg.Streams {
				ids = append(ids, s.ID)
			}
			convey.So(ids, convey.ShouldResemble, []string{"hasFallen", "patientMove", "patientState"})
		})

		convey.Convey("Then it still needs a device", func() {
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "device_id")
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		convey.So(validConfig().Validate(), convey.ShouldBeNil)

		convey.Convey("When a field is broken", func() {
			cases := []struct {
				name   string
				mutate func(c *config.Config)
				want   string
			}{
				{"empty addr", func(c *config.Config) { c.Addr = "" }, "addr"},
				{"zero interval", func(c *config.Config) { c.PollInterval = 0 }, "poll_interval"},
				{"negative lookback", func(c *config.Config) { c.Lookback = -time.Second }, "lookback"},
				{"zero workers", func(c *config.Config) { c.WorkerCount = 0 }, "worker_count"},
				{"no base url", func(c *config.Config) { c.M2X.BaseURL = " " }, "base_url"},
				{"no streams", func(c *config.Config) { c.Streams = nil }, "no streams"},
				{"empty stream id", func(c *config.Config) { c.Streams[0].ID = "" }, "stream id"},
				{"no rules", func(c *config.Config) { c.Streams[0].Rules = nil }, "no rules"},
				{"unknown rule", func(c *config.Config) { c.Streams[0].Rules[0].Rule = "sometimes" }, "unknown rule"},
				{"negative threshold", func(c *config.Config) {
					c.Streams[1].Rules[0].Threshold = -1
				}, "threshold"},
				{"negative cooldown", func(c *config.Config) { c.Streams[0].Rules[0].Cooldown = durationPtr(-time.Second) }, "cooldown"},
				{"no sinks", func(c *config.Config) { c.Sink.Types = nil }, "sink"},
				{"unknown sink", func(c *config.Config) { c.Sink.Types = []string{"carrier-pigeon"} }, "unknown sink"},
				{"stream sink without targets", func(c *config.Config) { c.Sink.Types = []string{config.SinkStream} }, "stream_targets"},
				{"nats sink without url", func(c *config.Config) {
					c.Sink.Types = []string{config.SinkNATS}
					c.Sink.NATS.URL = ""
				}, "nats.url"},
				{"unknown backend", func(c *config.Config) { c.Watermark.Backend = "etcd" }, "backend"},
				{"redis without addr", func(c *config.Config) {
					c.Watermark.Backend = config.BackendRedis
					c.Watermark.Redis.Addr = ""
				}, "redis.addr"},
			}

			convey.Convey("Then each is reported as invalid config", func() {
				for _, tc := range cases {
					cfg := validConfig()
					tc.mutate(cfg)
					err := cfg.Validate()
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					convey.So(errors.Is(err, model.ErrConfiguration), convey.ShouldBeTrue)
					convey.So(err.Error(), convey.ShouldContainSubstring, tc.want)
				}
			})
		})
	})
}

func TestRuleConfig_Classifier(t *testing.T) {
	convey.Convey("Given rule configs with omitted fields", t, func() {
		convey.Convey("When an equals rule has no cooldown", func() {
			c := config.RuleConfig{Kind: "fall", Rule: "Equals", Match: "fall"}.Classifier()

			convey.Convey("Then the default cooldown applies and the rule is normalized", func() {
				convey.So(c.Rule, convey.ShouldEqual, classify.RuleEquals)
				convey.So(c.Cooldown, convey.ShouldEqual, classify.DefaultCooldown)
			})
		})

		convey.Convey("When a movement rule has no window", func() {
			c := config.RuleConfig{Kind: "movement", Rule: "movement", Threshold: 0.02, Cooldown: durationPtr(time.Second)}.Classifier()

			convey.Convey("Then the default window applies", func() {
				convey.So(c.Window, convey.ShouldEqual, classify.DefaultMovementWindow)
				convey.So(c.Cooldown, convey.ShouldEqual, time.Second)
			})
		})

		convey.Convey("When a rule sets its cooldown to zero", func() {
			rc := config.RuleConfig{Kind: "fall", Rule: "equals", Match: "fall", Cooldown: durationPtr(0)}
			c := rc.Classifier()

			convey.Convey("Then the cooldown is disabled rather than defaulted", func() {
				convey.So(c.Cooldown, convey.ShouldEqual, time.Duration(0))
				convey.So(c.Validate(), convey.ShouldBeNil)
			})
		})
	})
}

func TestConfig_HasSink(t *testing.T) {
	convey.Convey("Given a config with log and nats sinks", t, func() {
		cfg := validConfig()
		cfg.Sink.Types = []string{config.SinkLog, config.SinkNATS}

		convey.Convey("Then only those are enabled", func() {
			convey.So(cfg.HasSink(config.SinkNATS), convey.ShouldBeTrue)
			convey.So(cfg.HasSink(config.SinkStream), convey.ShouldBeFalse)
		})
	})
}

func durationPtr(d time.Duration) *time.Duration { return &d }
