package eventbus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestPublishesEnvelopes(t *testing.T) {
	ns := startServer(t)

	publisher, err := Connect(config.BusConfig{Servers: []string{ns.ClientURL()}, Subject: "ema.test", ConnectTimeout: 2000})
	require.NoError(t, err)
	defer publisher.Close()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	messages := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("ema.test.>", messages)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	publisher.Handle(events.NewTurnCompleted("t-1", "s-1", "hello", 4))
	publisher.Handle(events.NewTurnFailed("t-2", "transport", errors.New("upstream down")))

	var completed, failed Envelope
	for _, target := range []*Envelope{&completed, &failed} {
		select {
		case msg := <-messages:
			var raw struct {
				Kind    events.Kind     `json:"kind"`
				Error   string          `json:"error"`
				Payload json.RawMessage `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(msg.Data, &raw))
			assert.Equal(t, "ema.test."+string(raw.Kind), msg.Subject)
			*target = Envelope{Kind: raw.Kind, Error: raw.Error, Payload: raw.Payload}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for published event")
		}
	}

	assert.Equal(t, events.KindTurnCompleted, completed.Kind)
	assert.JSONEq(t, `{"TurnID":"t-1","SessionID":"s-1","Text":"hello","AudioBytes":4}`, string(completed.Payload.(json.RawMessage)))
	assert.Equal(t, events.KindTurnFailed, failed.Kind)
	assert.Equal(t, "upstream down", failed.Error)
}

func TestConnectRequiresServers(t *testing.T) {
	_, err := Connect(config.BusConfig{Subject: "ema.test"})
	assert.Error(t, err)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var publisher *Publisher
	publisher.Handle(events.NewUserSpeechStarted())
	publisher.Close()
}
