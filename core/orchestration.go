// Package orchestration coordinates a spoken, turn-based conversation: it
// listens for the user's utterances, sends each one to the backend, plays the
// reply and keeps a UI-facing picture of where the conversation stands.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/transport"
	"github.com/koscakluka/ema-voice/core/vad"
	"go.opentelemetry.io/otel/metric"
)

// GameEvent is the latest mini game prompt pushed by the backend.
type GameEvent struct {
	Type     string
	Question string
	Choices  []string
}

// Snapshot is a point-in-time copy of everything a UI renders.
type Snapshot struct {
	Status      Status
	AvatarState AvatarState
	// Waiting is set while a turn is in flight or its reply is playing.
	Waiting    bool
	Loading    bool
	SessionID  string
	LastError  *Error
	GameEvent  *GameEvent
	Connection transport.ConnectionStatus
	DebugLog   []DebugEntry
}

type Coordinator struct {
	speech       speechInput
	player       replyPlayer
	transport    transport.Transport
	participants transport.Participants
	turnTimeout  time.Duration
	sampleRate   int
	emit         eventEmitter

	mu         sync.Mutex
	running    bool
	status     Status
	sessionID  string
	lastErr    *Error
	loading    bool
	connection transport.ConnectionStatus
	gameEvent  *GameEvent
	handler    SpeechHandler
	log        debugLog
	// generation changes on every Start and Stop; work started under an older
	// generation is discarded when it completes.
	generation uint64
	// lastUtterance is the newest utterance id already handled, so a natural
	// speech end that arrives after a forced commit of the same utterance is
	// ignored.
	lastUtterance uint64
	runCtx        context.Context
	cancelRun     context.CancelFunc

	// pending is the single in-flight request flag.
	pending atomic.Bool
	// customBusy is set while a custom speech handler call runs.
	customBusy atomic.Bool

	// pushMu orders live audio pushes before the turn they belong to.
	pushMu      sync.Mutex
	pushFailing atomic.Bool

	instruments instruments
}

type instruments struct {
	sent    metric.Int64Counter
	dropped metric.Int64Counter
	failed  metric.Int64Counter
	latency metric.Float64Histogram
}

func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		turnTimeout: DefaultTurnTimeout,
		emit:        noopEventEmitter,
		status:      StatusIdle,
		connection:  transport.ConnectionDisconnected,
		runCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if isNilInterface(c.transport) {
		c.transport = nil
	}
	c.instruments = newInstruments()
	return c
}

func newInstruments() instruments {
	var (
		inst instruments
		err  error
	)
	if inst.sent, err = meter.Int64Counter("turns.sent", metric.WithDescription("Turns sent to the backend")); err != nil {
		logger.Warn("failed to create counter", "name", "turns.sent", "error", err)
	}
	if inst.dropped, err = meter.Int64Counter("turns.dropped", metric.WithDescription("Turn boundaries dropped while another turn was in flight")); err != nil {
		logger.Warn("failed to create counter", "name", "turns.dropped", "error", err)
	}
	if inst.failed, err = meter.Int64Counter("turns.failed", metric.WithDescription("Turns that failed in transport")); err != nil {
		logger.Warn("failed to create counter", "name", "turns.failed", "error", err)
	}
	if inst.latency, err = meter.Float64Histogram("turn.latency", metric.WithUnit("ms"), metric.WithDescription("Time from sending a turn to its reply")); err != nil {
		logger.Warn("failed to create histogram", "name", "turn.latency", "error", err)
	}
	return inst
}

// Start begins listening. It is a no-op while already running and after a
// fatal initialization or permission error until Reset is called. Failures are
// recorded, not returned.
func (c *Coordinator) Start(ctx context.Context) {
	var batch pendingEvents
	defer func() { c.deliver(batch) }()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	if c.lastErr.Fatal() {
		c.log.addf(DebugError, "Start ignored: %s", c.lastErr.Error())
		c.mu.Unlock()
		return
	}
	if !c.speech.IsConfigured() || c.transport == nil {
		err := &Error{Kind: ErrorInitialization, Err: fmt.Errorf("coordinator needs a speech source and a transport")}
		batch.add(c.failLocked("", err))
		c.mu.Unlock()
		return
	}

	c.running = true
	c.loading = true
	c.generation++
	gen := c.generation
	c.runCtx, c.cancelRun = context.WithCancel(ctx)
	runCtx := c.runCtx
	c.lastErr = nil
	c.log.add(DebugInfo, "Starting microphone")
	c.mu.Unlock()

	c.player.Reopen()

	if err := c.transport.Connect(runCtx, c.transportListener(gen)); err != nil {
		c.mu.Lock()
		if c.generation == gen {
			batch.add(c.failLocked("", &Error{Kind: ErrorTransport, Err: err}))
		}
		c.mu.Unlock()
	}

	if err := c.speech.Start(runCtx, c.speechCallbacks(gen)); err != nil {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.running = false
		c.loading = false
		c.generation++
		c.cancelRun()
		c.connection = transport.ConnectionDisconnected
		batch.add(c.failLocked("", classifyStartError(err)))
		batch.add(c.setStatusLocked(StatusIdle))
		c.mu.Unlock()

		if err := c.transport.Close(); err != nil {
			logger.Warn("failed to close transport after start failure", "error", err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.loading = false
	c.log.add(DebugInfo, "Listening")
	batch.add(c.setStatusLocked(StatusListening))
}

// Stop returns to idle: capture pauses, the transport and playback close and
// the session is forgotten. Replies still in flight are discarded. Calling it
// while idle does nothing.
func (c *Coordinator) Stop() {
	var batch pendingEvents
	defer func() { c.deliver(batch) }()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.loading = false
	c.generation++
	cancel := c.cancelRun
	if c.sessionID != "" {
		batch.add(events.NewSessionEnded(c.sessionID))
	}
	c.sessionID = ""
	c.gameEvent = nil
	c.connection = transport.ConnectionDisconnected
	c.pending.Store(false)
	c.log.add(DebugInfo, "Stopped")
	batch.add(c.setStatusLocked(StatusIdle))
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := c.speech.Pause(); err != nil {
		logger.Warn("failed to pause speech source", "error", err)
	}
	if err := c.transport.Close(); err != nil {
		logger.Warn("failed to close transport", "error", err)
	}
	if err := c.player.Close(); err != nil {
		logger.Warn("failed to close reply player", "error", err)
	}
}

// Reset clears a recorded error, including fatal ones, so Start can be tried
// again.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

// SetSpeechHandler replaces the handler for natural speech ends. Forced
// commits always go to the backend.
func (c *Coordinator) SetSpeechHandler(handler SpeechHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *Coordinator) ClearSpeechHandler() {
	c.SetSpeechHandler(DefaultSpeechHandler())
}

// DismissEvent clears the current game event.
func (c *Coordinator) DismissEvent() {
	c.mu.Lock()
	if c.gameEvent == nil {
		c.mu.Unlock()
		return
	}
	c.gameEvent = nil
	c.mu.Unlock()
	c.emit(events.NewGameEventDismissed())
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Coordinator) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := Snapshot{
		Status:      c.status,
		AvatarState: c.status.AvatarState(),
		Waiting:     c.pending.Load(),
		Loading:     c.loading,
		SessionID:   c.sessionID,
		LastError:   c.lastErr,
		Connection:  c.connection,
		DebugLog:    c.log.snapshot(),
	}
	if c.gameEvent != nil {
		event := *c.gameEvent
		event.Choices = append([]string(nil), c.gameEvent.Choices...)
		snapshot.GameEvent = &event
	}
	return snapshot
}

func (c *Coordinator) setStatusLocked(status Status) events.Event {
	if c.status == status {
		return nil
	}
	from := c.status
	c.status = status
	logger.Debug("status changed", "from", from, "to", status)
	return events.NewStatusChanged(string(from), string(status))
}

func (c *Coordinator) failLocked(turnID string, err *Error) events.Event {
	c.lastErr = err
	c.log.add(DebugError, err.Error())
	logger.Error("coordinator error", "kind", err.Kind, "turn_id", turnID, "error", err.Err)
	return events.NewTurnFailed(turnID, string(err.Kind), err)
}

func (c *Coordinator) isCurrent(gen uint64) bool {
	return c.running && c.generation == gen
}

func (c *Coordinator) speechCallbacks(gen uint64) vad.Callbacks {
	return vad.Callbacks{
		OnSpeechStart: func() { c.onSpeechStart(gen) },
		OnSpeechAudio: func(pcm []byte) { c.onSpeechAudio(gen, pcm) },
		OnSpeechEnd:   func(rec *vad.Recording) { c.onSpeechEnd(gen, rec) },
		OnMisfire:     func() { c.onMisfire(gen) },
	}
}

func (c *Coordinator) onSpeechStart(gen uint64) {
	var batch pendingEvents
	defer func() { c.deliver(batch) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrent(gen) {
		return
	}
	if c.status != StatusListening {
		c.log.addf(DebugSpeech, "Speech while %s", c.status)
		return
	}
	c.log.add(DebugSpeech, "Speech started")
	batch.add(events.NewUserSpeechStarted())
	batch.add(c.setStatusLocked(StatusUserSpeaking))
}

func (c *Coordinator) onMisfire(gen uint64) {
	var batch pendingEvents
	defer func() { c.deliver(batch) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrent(gen) {
		return
	}
	c.log.add(DebugSpeech, "Misfire")
	batch.add(events.NewUserSpeechMisfire())
	if c.status == StatusUserSpeaking {
		batch.add(c.setStatusLocked(StatusListening))
	}
}
