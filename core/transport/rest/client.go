// Package rest talks to the backend over plain HTTP, one multipart request
// per turn.
package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	audioToTextPath     = "/api/audio-to-text"
	chemistryResultPath = "/api/chemistry-result"

	defaultChemistryIndex = 75
	maxErrorBodyBytes     = 4 << 10
)

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	listener transport.Listener
	closed   atomic.Bool
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect has nothing to dial; it reports the client as connected.
func (c *Client) Connect(_ context.Context, listener transport.Listener) error {
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()
	c.closed.Store(false)

	listener.ConnectionStatus(transport.ConnectionConnected)
	return nil
}

func (c *Client) PushAudio([]byte) error { return nil }

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	listener.ConnectionStatus(transport.ConnectionDisconnected)
	return nil
}

type audioToTextResponse struct {
	Reply     string `json:"reply"`
	Audio     string `json:"audio"`
	MimeType  string `json:"mime_type"`
	SessionID string `json:"session_id"`
}

func (c *Client) SendTurn(ctx context.Context, turn transport.Turn) (*transport.Reply, error) {
	ctx, span := tracer.Start(ctx, "send turn", trace.WithAttributes(
		attribute.String("turn_id", turn.ID),
		attribute.Int("audio_bytes", len(turn.Utterance.Data)),
		attribute.Bool("forced", turn.Forced),
		attribute.Bool("has_session", turn.SessionID != ""),
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
	if c.closed.Load() {
		return nil, &transport.Error{Op: "send turn", Err: transport.ErrClosed}
	}
	if turn.Utterance.IsEmpty() {
		return nil, &transport.Error{Op: "send turn", Err: transport.ErrEmptyUtterance}
	}

	body, contentType, err := encodeTurn(turn)
	if err != nil {
		return nil, &transport.Error{Op: "send turn", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+audioToTextPath, body)
	if err != nil {
		return nil, &transport.Error{Op: "send turn", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	var parsed audioToTextResponse
	if err := c.do(req, "send turn", &parsed); err != nil {
		return nil, err
	}

	decoded, err := decodeAudio(parsed.Audio)
	if err != nil {
		return nil, &transport.Error{Op: "send turn", Message: "malformed reply audio", Err: err}
	}

	mimeType := parsed.MimeType
	if mimeType == "" {
		mimeType = audio.MimeWAV
	}
	logger.DebugContext(ctx, "received reply", "turn_id", turn.ID, "audio_bytes", len(decoded), "mime_type", mimeType)

	return &transport.Reply{
		TurnID:    turn.ID,
		Text:      parsed.Reply,
		Audio:     decoded,
		MimeType:  mimeType,
		SessionID: parsed.SessionID,
	}, nil
}

func encodeTurn(turn transport.Turn) (io.Reader, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	mimeType := turn.Utterance.MimeType
	if mimeType == "" {
		mimeType = audio.MimeWAV
	}
	filename := turn.Utterance.Filename
	if filename == "" {
		filename = audio.FilenameFor(mimeType)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(turn.Utterance.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio: %w", err)
	}

	fields := [][2]string{}
	if turn.SessionID != "" {
		fields = append(fields, [2]string{"session_id", turn.SessionID})
	} else {
		if turn.Participants.UserID != "" {
			fields = append(fields, [2]string{"user_id", turn.Participants.UserID})
		}
		if turn.Participants.PartnerUserID != "" {
			fields = append(fields, [2]string{"partner_user_id", turn.Participants.PartnerUserID})
		}
	}
	for _, field := range fields {
		if err := form.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s: %w", field[0], err)
		}
	}

	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return &buf, form.FormDataContentType(), nil
}

// Summary is the end of session evaluation.
type Summary struct {
	Text           string
	ChemistryIndex int
	Audio          []byte
	MimeType       string
}

type chemistryResultResponse struct {
	Summary        string `json:"summary"`
	ChemistryIndex *int   `json:"chemistry_index"`
	Audio          string `json:"audio"`
	MimeType       string `json:"mime_type"`
}

// Summary requests the end of session evaluation for sessionID.
func (c *Client) Summary(ctx context.Context, sessionID string) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "request summary", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	summary, err := c.summary(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return summary, nil
}

func (c *Client) summary(ctx context.Context, sessionID string) (*Summary, error) {
	if sessionID == "" {
		return nil, &transport.Error{Op: "request summary", Message: "no session"}
	}

	payload, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, &transport.Error{Op: "request summary", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chemistryResultPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &transport.Error{Op: "request summary", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var parsed chemistryResultResponse
	if err := c.do(req, "request summary", &parsed); err != nil {
		return nil, err
	}

	decoded, err := decodeAudio(parsed.Audio)
	if err != nil {
		return nil, &transport.Error{Op: "request summary", Message: "malformed summary audio", Err: err}
	}

	summary := &Summary{
		Text:           parsed.Summary,
		ChemistryIndex: defaultChemistryIndex,
		Audio:          decoded,
		MimeType:       parsed.MimeType,
	}
	if parsed.ChemistryIndex != nil {
		summary.ChemistryIndex = *parsed.ChemistryIndex
	}
	if summary.MimeType == "" {
		summary.MimeType = audio.MimeWAV
	}
	return summary, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transport.Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &transport.Error{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &transport.Error{Op: op, Message: "malformed response", Err: err}
	}
	return nil
}

func decodeAudio(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Join(errors.New("audio is not valid base64"), err)
	}
	return decoded, nil
}

// Endpoint joins path onto a base URL, for callers that log where turns go.
func Endpoint(baseURL string) string {
	u, err := url.JoinPath(baseURL, audioToTextPath)
	if err != nil {
		return baseURL + audioToTextPath
	}
	return u
}
