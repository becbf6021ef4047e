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
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

const defaultDispatchTimeout = 30 * time.Second

// Dispatcher executes a control command and returns the affected session id.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) (string, error)
}

// Reply answers a control request.
type Reply struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// Listener consumes control commands from NATS.
type Listener struct {
	sub        *nats.Subscription
	dispatcher Dispatcher
	logger     zerolog.Logger
	ctx        context.Context //nolint:containedctx // handlers run on nats goroutines and need the listener lifetime
	timeout    time.Duration
}

// Listen subscribes to <prefix>.control.> and dispatches every command until
// Close is called or ctx ends.
func Listen(ctx context.Context, nc *nats.Conn, prefix string, dispatcher Dispatcher, logger zerolog.Logger) (*Listener, error) {
	if prefix == "" {
		prefix = constants.DefaultSubjectPrefix
	}
	l := &Listener{
		dispatcher: dispatcher,
		logger:     logger,
		ctx:        ctx,
		timeout:    defaultDispatchTimeout,
	}
	subject := prefix + "." + constants.ControlSubjectToken + ".>"
	sub, err := nc.Subscribe(subject, l.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	l.sub = sub
	logger.Info().Str("subject", subject).Msg("listening for control commands")
	return l, nil
}

// Close drains the subscription so in-flight commands finish.
func (l *Listener) Close() error {
	if err := l.sub.Drain(); err != nil {
		return fmt.Errorf("drain control subscription: %w", err)
	}
	return nil
}

func (l *Listener) handle(msg *nats.Msg) {
	cmd, err := decodeCommand(msg)
	if err != nil {
		l.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("rejecting malformed command")
		l.respond(msg, Reply{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()

	sessionID, err := l.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		l.logger.Info().Err(err).
			Str("command", string(cmd.Type)).
			Str("session_id", cmd.SessionID).
			Msg("command refused")
		_, hint := slerrors.Actionable(err)
		l.respond(msg, Reply{SessionID: cmd.SessionID, Error: err.Error(), Hint: hint})
		return
	}
	l.logger.Debug().Str("command", string(cmd.Type)).Str("session_id", sessionID).Msg("command applied")
	l.respond(msg, Reply{OK: true, SessionID: sessionID})
}

func (l *Listener) respond(msg *nats.Msg, reply Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		l.logger.Error().Err(err).Msg("encode reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		l.logger.Warn().Err(err).Str("reply", msg.Reply).Msg("send reply")
	}
}

// decodeCommand reads a JSON command. A command without a type takes it from
// the last subject token.
func decodeCommand(msg *nats.Msg) (domain.Command, error) {
	var cmd domain.Command
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return cmd, fmt.Errorf("%w: %w", slerrors.ErrMalformedCommand, err)
		}
	}
	if cmd.Type == "" {
		if i := strings.LastIndexByte(msg.Subject, '.'); i >= 0 {
			cmd.Type = constants.CommandType(msg.Subject[i+1:])
		}
	}
	return cmd, nil
}
