// Package stream keeps one websocket open to the backend for the whole
// session. Microphone PCM goes up as binary messages while the user speaks
// and each turn ends with a small JSON control message; audio, game events
// and errors come down as JSON envelopes.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Inbound envelope types.
const (
	msgAudio = "audio"
	msgEvent = "event"
	msgError = "error"
)

// Outbound control types, one per turn boundary.
const (
	ctrlSpeechEnd   = "speech_end"
	ctrlForceCommit = "force_commit"
)

var errTurnInFlight = errors.New("a turn is already waiting for its reply")

type controlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
}

type inboundMessage struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
	// Reply and SessionID may ride along on the audio that answers a turn.
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`

	EventType string          `json:"event_type"`
	Question  string          `json:"question"`
	Choices   []string        `json:"choices"`
	Event     json.RawMessage `json:"event"`
}

type eventPayload struct {
	Type     string   `json:"type"`
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

type result struct {
	reply *transport.Reply
	err   error
}

type pendingTurn struct {
	id     string
	result chan result
}

type ClientOption func(*Client)

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = dialer }
}

// WithParticipants identifies both users on the connection URL so the
// backend can open a session before the first turn.
func WithParticipants(participants transport.Participants) ClientOption {
	return func(c *Client) { c.participants = participants }
}

type Client struct {
	url          string
	dialer       *websocket.Dialer
	participants transport.Participants

	mu       sync.Mutex
	conn     *websocket.Conn
	listener transport.Listener
	pending  *pendingTurn
	closing  bool
	// pushed counts PCM bytes sent since the last turn boundary.
	pushed int

	writeMu sync.Mutex
}

// NewClient accepts http(s) or ws(s) URLs; http schemes are mapped to their
// websocket equivalents.
func NewClient(rawURL string, opts ...ClientOption) *Client {
	c := &Client{url: websocketURL(rawURL), dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(c)
	}
	if !c.participants.IsZero() {
		c.url = withParticipants(c.url, c.participants)
	}
	return c
}

func websocketURL(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://")
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://")
	}
	return rawURL
}

func withParticipants(rawURL string, participants transport.Participants) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		logger.Warn("failed to add participants to stream url", "error", err)
		return rawURL
	}
	query := u.Query()
	if participants.UserID != "" {
		query.Set("user_id", participants.UserID)
	}
	if participants.PartnerUserID != "" {
		query.Set("partner_user_id", participants.PartnerUserID)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) Connect(ctx context.Context, listener transport.Listener) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.listener = listener
	c.closing = false
	c.pushed = 0
	c.mu.Unlock()

	listener.ConnectionStatus(transport.ConnectionConnecting)
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		listener.ConnectionStatus(transport.ConnectionError)
		return &transport.Error{Op: "connect", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	listener.ConnectionStatus(transport.ConnectionConnected)
	return nil
}

// PushAudio sends one chunk of raw linear16 PCM belonging to the turn that
// the next control message ends.
func (c *Client) PushAudio(pcm []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &transport.Error{Op: "push audio", Err: transport.ErrClosed}
	}
	if err := c.write(conn, websocket.BinaryMessage, pcm); err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn == conn {
		c.pushed += len(pcm)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) SendTurn(ctx context.Context, turn transport.Turn) (*transport.Reply, error) {
	ctx, span := tracer.Start(ctx, "send turn", trace.WithAttributes(
		attribute.String("turn_id", turn.ID),
		attribute.Int("audio_bytes", len(turn.Utterance.Data)),
		attribute.Bool("forced", turn.Forced),
	))
	defer span.End()

	reply, err := c.sendTurn(ctx, turn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return reply, nil
}

func (c *Client) sendTurn(ctx context.Context, turn transport.Turn) (*transport.Reply, error) {
	if turn.Utterance.IsEmpty() {
		return nil, &transport.Error{Op: "send turn", Err: transport.ErrEmptyUtterance}
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, &transport.Error{Op: "send turn", Err: transport.ErrClosed}
	}
	if c.pending != nil {
		c.mu.Unlock()
		return nil, &transport.Error{Op: "send turn", Err: errTurnInFlight}
	}
	pending := &pendingTurn{id: turn.ID, result: make(chan result, 1)}
	c.pending = pending
	streamed := c.pushed
	c.pushed = 0
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending == pending {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	pcm, sampleRate := rawAudio(turn)
	// Nothing was streamed live, as with a forced commit over silence, so the
	// turn's own audio goes up ahead of the boundary.
	if streamed == 0 && len(pcm) > 0 {
		if err := c.write(conn, websocket.BinaryMessage, pcm); err != nil {
			return nil, err
		}
	}

	control := controlMessage{Type: ctrlSpeechEnd, SampleRate: sampleRate}
	if turn.Forced {
		control.Type = ctrlForceCommit
	}
	payload, err := json.Marshal(control)
	if err != nil {
		return nil, &transport.Error{Op: "send turn", Err: err}
	}
	if err := c.write(conn, websocket.TextMessage, payload); err != nil {
		return nil, err
	}

	select {
	case res := <-pending.result:
		return res.reply, res.err
	case <-ctx.Done():
		return nil, &transport.Error{Op: "send turn", Err: ctx.Err()}
	}
}

// rawAudio strips the WAV header from a turn's utterance. Other containers
// are passed through untouched.
func rawAudio(turn transport.Turn) ([]byte, int) {
	data := turn.Utterance.Data
	sampleRate := turn.SampleRate
	if !audio.IsWAV(turn.Utterance.MimeType) {
		return data, sampleRate
	}
	header, err := audio.DecodeWAVHeader(data)
	if err != nil {
		logger.Warn("utterance is not a canonical wav, sending it as is", "error", err)
		return data, sampleRate
	}
	if sampleRate == 0 {
		sampleRate = int(header.SampleRate)
	}
	return data[audio.WAVHeaderSize:], sampleRate
}

func (c *Client) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, data); err != nil {
		return &transport.Error{Op: "write", Err: err}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleMessage(msg)
		case websocket.BinaryMessage:
			logger.Debug("ignoring binary message from backend", "bytes", len(msg))
		}
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	closing := c.closing
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = nil
	listener := c.listener
	c.mu.Unlock()

	if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		if pending != nil {
			pending.result <- result{err: &transport.Error{Op: "send turn", Err: transport.ErrClosed}}
		}
		listener.ConnectionStatus(transport.ConnectionDisconnected)
		return
	}

	logger.Warn("websocket read failed", "error", err)
	transportErr := &transport.Error{Op: "read", Err: err}
	if pending != nil {
		pending.result <- result{err: transportErr}
	} else {
		listener.Error(transportErr)
	}
	listener.ConnectionStatus(transport.ConnectionError)
}

// handleMessage routes one inbound envelope. The first audio or error after a
// turn boundary answers that turn; later audio is an extra clip.
func (c *Client) handleMessage(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("failed to unmarshal backend message", "error", err)
		return
	}

	c.mu.Lock()
	listener := c.listener
	pending := c.pending
	claims := pending != nil && (msg.Type == msgAudio || msg.Type == msgError)
	if claims {
		c.pending = nil
	}
	c.mu.Unlock()

	switch msg.Type {
	case msgAudio:
		reply, err := toReply(msg)
		if err != nil {
			if claims {
				pending.result <- result{err: err}
			} else {
				listener.Error(err)
			}
			return
		}
		if claims {
			reply.TurnID = pending.id
			pending.result <- result{reply: reply}
			return
		}
		listener.Audio(*reply)

	case msgEvent:
		listener.Event(toEvent(msg))

	case msgError:
		err := &transport.Error{Op: "backend", Message: msg.Message}
		if claims {
			pending.result <- result{err: err}
			return
		}
		listener.Error(err)

	default:
		logger.Debug("ignoring unknown backend message", "type", msg.Type)
	}
}

func toReply(msg inboundMessage) (*transport.Reply, error) {
	var decoded []byte
	if msg.Data != "" {
		var err error
		if decoded, err = base64.StdEncoding.DecodeString(msg.Data); err != nil {
			return nil, &transport.Error{Op: "read", Message: "malformed audio data", Err: err}
		}
	}
	mimeType := msg.MimeType
	if mimeType == "" {
		mimeType = audio.MimeWAV
	}
	return &transport.Reply{
		Text:      msg.Reply,
		Audio:     decoded,
		MimeType:  mimeType,
		SessionID: msg.SessionID,
	}, nil
}

// toEvent accepts the event fields at the top level of the envelope or
// nested under "event", which may also be just the event type.
func toEvent(msg inboundMessage) transport.Event {
	event := transport.Event{Type: msg.EventType, Question: msg.Question, Choices: msg.Choices}
	if len(msg.Event) == 0 {
		return event
	}

	var nested eventPayload
	if err := json.Unmarshal(msg.Event, &nested); err == nil {
		if nested.Type != "" {
			event.Type = nested.Type
		}
		if nested.Question != "" {
			event.Question = nested.Question
		}
		if nested.Choices != nil {
			event.Choices = nested.Choices
		}
		return event
	}
	var name string
	if err := json.Unmarshal(msg.Event, &name); err == nil && name != "" {
		event.Type = name
	}
	return event
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closing = true
	c.pushed = 0
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}
