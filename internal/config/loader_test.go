package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/telewatch/internal/config"
	"github.com/okian/telewatch/internal/domain/classify"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		_ = os.Setenv("TELEWATCH_M2X__DEVICE_ID", "wearable-1")
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.PollInterval, convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.M2X.DeviceID, convey.ShouldEqual, "wearable-1")
				convey.So(len(cfg.Streams), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When no device is configured", func() {
			_ = os.Unsetenv("TELEWATCH_M2X__DEVICE_ID")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("TELEWATCH_ADDR", ":8080")
			_ = os.Setenv("TELEWATCH_POLL_INTERVAL", "2s")
			_ = os.Setenv("TELEWATCH_QUEUE_SIZE", "64")
			_ = os.Setenv("TELEWATCH_M2X__API_KEY", "secret")
			_ = os.Setenv("TELEWATCH_WATERMARK__BACKEND", "redis")
			_ = os.Setenv("TELEWATCH_WATERMARK__REDIS__DB", "3")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PollInterval, convey.ShouldEqual, 2*time.Second)
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.M2X.APIKey, convey.ShouldEqual, "secret")
				convey.So(cfg.Watermark.Backend, convey.ShouldEqual, "redis")
				convey.So(cfg.Watermark.Redis.DB, convey.ShouldEqual, 3)
				convey.So(cfg.Watermark.Redis.Addr, convey.ShouldEqual, "127.0.0.1:6379")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
poll_interval: 10s
lookback: 1m
m2x:
  base_url: "http://localhost:9091"
streams:
  - id: hasFallen
    rules:
      - kind: fall
        rule: equals
        match: fall
        cooldown: 45s
sink:
  types: [log, stream]
  stream_targets:
    fall: alerts
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("TELEWATCH_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.PollInterval, convey.ShouldEqual, 10*time.Second)
				convey.So(cfg.Lookback, convey.ShouldEqual, time.Minute)
				convey.So(cfg.M2X.BaseURL, convey.ShouldEqual, "http://localhost:9091")
				convey.So(cfg.Sink.Types, convey.ShouldResemble, []string{"log", "stream"})
				convey.So(cfg.Sink.StreamTargets, convey.ShouldResemble, map[string]string{"fall": "alerts"})
			})

			convey.Convey("Then listed streams replace the defaults", func() {
				convey.So(len(cfg.Streams), convey.ShouldEqual, 1)
				convey.So(cfg.Streams[0].ID, convey.ShouldEqual, "hasFallen")
				convey.So(*cfg.Streams[0].Rules[0].Cooldown, convey.ShouldEqual, 45*time.Second)
			})

			convey.Convey("Then defaults fill what the file leaves out", func() {
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.Watermark.Backend, convey.ShouldEqual, config.BackendMemory)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile("addr: \":9090\"\nworker_count: 8\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("TELEWATCH_CONFIG", tmpFile)
			_ = os.Setenv("TELEWATCH_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 8)
			})
		})

		convey.Convey("When the file separates an explicit zero cooldown from an omitted one", func() {
			tmpFile := createTempConfigFile("streams:\n  - id: hasFallen\n    rules:\n      - kind: fall\n        rule: equals\n        match: fall\n        cooldown: 0s\n      - kind: fall-again\n        rule: equals\n        match: fall\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("TELEWATCH_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then only the omitted one gets the default", func() {
				convey.So(err, convey.ShouldBeNil)
				rules := cfg.Streams[0].Rules
				convey.So(rules[0].Cooldown, convey.ShouldNotBeNil)
				convey.So(rules[0].Classifier().Cooldown, convey.ShouldEqual, time.Duration(0))
				convey.So(rules[1].Cooldown, convey.ShouldBeNil)
				convey.So(rules[1].Classifier().Cooldown, convey.ShouldEqual, classify.DefaultCooldown)
			})
		})

		convey.Convey("When the file has an unknown rule", func() {
			tmpFile := createTempConfigFile("streams:\n  - id: x\n    rules:\n      - kind: k\n        rule: sometimes\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("TELEWATCH_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then startup is refused", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("TELEWATCH_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("TELEWATCH_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("TELEWATCH_QUEUE_SIZE", "invalid")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the poll interval is not positive", func() {
			_ = os.Setenv("TELEWATCH_POLL_INTERVAL", "0s")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "poll_interval")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix) {
			_ = os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "telewatch_config_*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
