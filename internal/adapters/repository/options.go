package repository

import "strings"

// Option applies a configuration option to the RedisTracker.
type Option func(*RedisTracker)

// WithKeyPrefix namespaces the watermark hash, e.g. per deployment.
func WithKeyPrefix(prefix string) Option {
	return func(t *RedisTracker) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			t.key = prefix + ":watermarks"
		}
	}
}
