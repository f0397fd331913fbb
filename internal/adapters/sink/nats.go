package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/telewatch/internal/domain/model"
)

// DefaultSubjectPrefix is the root of published subjects.
const DefaultSubjectPrefix = "telewatch.events"

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON to {prefix}.{stream}.{kind}.
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink creates a sink over pub. An empty prefix selects
// DefaultSubjectPrefix.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e model.Event) string {
	return s.prefix + "." + subjectToken(e.StreamID) + "." + subjectToken(e.Kind)
}

func (s *NATSSink) OnEvent(ctx context.Context, e model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	subject := s.Subject(e)
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Dial connects to a NATS server with reconnects enabled.
func Dial(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// CloseConn drains and closes conn.
func CloseConn(conn *nats.Conn) {
	if conn != nil {
		_ = conn.Drain()
		conn.Close()
	}
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
