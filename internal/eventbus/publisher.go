// Package eventbus mirrors coordinator events onto NATS so other processes
// (dashboards, recorders) can follow a conversation.
package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/nats-io/nats.go"
)

// Envelope is the JSON published for every event.
type Envelope struct {
	Kind      events.Kind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
	Payload   any         `json:"payload"`
}

type Publisher struct {
	conn    *nats.Conn
	subject string
}

func Connect(cfg config.BusConfig) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("ema-voice"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to NATS", "servers", url)

	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

// Subject is where events of kind are published.
func (p *Publisher) Subject(kind events.Kind) string {
	return p.subject + "." + string(kind)
}

// Handle publishes event. It never blocks on the network; failures are
// logged.
func (p *Publisher) Handle(event events.Event) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(envelope(event))
	if err != nil {
		logger.Warn("failed to marshal event", "kind", event.Kind(), "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(event.Kind()), data); err != nil {
		logger.Warn("failed to publish event", "kind", event.Kind(), "error", err)
	}
}

func envelope(event events.Event) Envelope {
	env := Envelope{Kind: event.Kind(), Timestamp: event.Timestamp(), Payload: event}
	if failed, ok := event.(events.TurnFailed); ok {
		if failed.Err != nil {
			env.Error = failed.Err.Error()
		}
		failed.Err = nil
		env.Payload = failed
	}
	return env
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
