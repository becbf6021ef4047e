// Package natsbus connects sessions to a NATS server.
//
// Outbound events are published on <prefix>.events.<session-id>.<event-type>.
// Inbound control commands arrive as JSON on <prefix>.control.<command-type>
// and are answered with a JSON Reply when the request carries a reply subject.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

// Connect dials url with reconnect logging.
func Connect(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

// Publisher publishes session events to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher creates a publisher. An empty prefix uses the default.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = constants.DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: prefix}
}

// Publish encodes the event as JSON. It never waits for subscribers.
func (p *Publisher) Publish(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	subject := EventSubject(p.prefix, event.SessionID, event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// EventSubject returns the subject an event is published on.
func EventSubject(prefix, sessionID string, eventType constants.EventType) string {
	return strings.Join([]string{prefix, constants.EventsSubjectToken, token(sessionID), string(eventType)}, ".")
}

// ControlSubject returns the subject a command type is received on.
func ControlSubject(prefix string, cmd constants.CommandType) string {
	return strings.Join([]string{prefix, constants.ControlSubjectToken, string(cmd)}, ".")
}

// token makes a value safe to use as a single subject token.
func token(s string) string {
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
