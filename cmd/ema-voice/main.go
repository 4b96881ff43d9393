package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/playback"
	"github.com/koscakluka/ema-voice/core/transport"
	"github.com/koscakluka/ema-voice/core/transport/rest"
	"github.com/koscakluka/ema-voice/core/transport/stream"
	"github.com/koscakluka/ema-voice/core/vad"
	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/koscakluka/ema-voice/internal/eventbus"
	"github.com/koscakluka/ema-voice/internal/sessionstore"
	"github.com/koscakluka/ema-voice/internal/telemetry"
	"github.com/koscakluka/ema-voice/internal/tui"
)

var version = "0.1.0-dev"

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if err := run(configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(cfg.Telemetry.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, version, logFile, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, err := sessionstore.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Prune(ctx); err != nil {
		logger.Warn("failed to prune session store", slog.String("error", err.Error()))
	}

	handlers := []func(events.Event){
		sessionstore.NewRecorder(store, cfg.Backend.UserID, cfg.Backend.PartnerUserID).Handle,
	}
	if cfg.Bus.Enabled {
		publisher, err := eventbus.Connect(cfg.Bus)
		if err != nil {
			logger.Warn("event bus disabled", slog.String("error", err.Error()))
		} else {
			defer publisher.Close()
			handlers = append(handlers, publisher.Handle)
		}
	}

	device, err := openDevice(cfg.Audio)
	if err != nil {
		return err
	}
	defer device.Close()

	turns, summaries := newTransport(cfg.Backend, logger)

	mic := device.Microphone

	detector, err := vad.NewRMSDetector(rmsParams(cfg.VAD))
	if err != nil {
		return err
	}
	segmenter, err := vad.NewSegmenter(mic,
		vad.WithDetector(detector),
		vad.WithFrameSize(cfg.Audio.FrameSize),
		vad.WithPrePadFrames(cfg.VAD.PrePadFrames),
	)
	if err != nil {
		return err
	}
	defer segmenter.Stop()

	speaker := device.Speaker
	queue := playback.NewQueue(
		func() (playback.Context, error) { return playback.NewDeviceContext(speaker), nil },
		playback.WithFallbackSampleRate(cfg.Playback.FallbackSampleRate),
	)

	var sink atomic.Pointer[tui.EventSink]
	handlers = append(handlers, func(event events.Event) {
		if s := sink.Load(); s != nil {
			s.Handle(event)
		}
	})

	coordinator := orchestration.NewCoordinator(
		orchestration.WithSpeechSource(segmenter),
		orchestration.WithReplyPlayer(queue),
		orchestration.WithTransport(turns),
		orchestration.WithParticipants(cfg.Backend.UserID, cfg.Backend.PartnerUserID),
		orchestration.WithTurnTimeout(cfg.Backend.TurnTimeout()),
		orchestration.WithSampleRate(mic.EncodingInfo().SampleRate),
		orchestration.WithEventHandler(fanOut(handlers...)),
	)
	defer coordinator.Stop()
	segmenter.SetBusy(func() bool { return coordinator.Status() == orchestration.StatusAISpeaking })

	model := tui.NewModel(ctx, coordinator, newSummarizer(summaries, store, queue, logger))
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	sink.Store(tui.NewEventSink(program))

	g, gctx := errgroup.WithContext(ctx)
	if bind := strings.TrimSpace(cfg.Telemetry.PrometheusBind); bind != "" && providers.MetricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", otelhttp.NewHandler(providers.MetricsHandler, "metrics"))
		server := &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("metrics listening", slog.String("addr", bind))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer stop()
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("ui: %w", err)
		}
		return nil
	})

	err = g.Wait()
	sink.Store(nil)
	logger.Info("shutdown complete")
	return err
}

// newTransport returns the transport turns go through and the REST client
// used for summaries, which only the REST API serves.
func newTransport(cfg config.BackendConfig, logger *slog.Logger) (transport.Transport, *rest.Client) {
	summaries := rest.NewClient(cfg.URL)
	if cfg.Transport == config.TransportStream {
		url := strings.TrimRight(cfg.URL, "/") + cfg.StreamPath
		logger.Info("using stream transport", slog.String("url", url))
		participants := transport.Participants{UserID: cfg.UserID, PartnerUserID: cfg.PartnerUserID}
		return stream.NewClient(url, stream.WithParticipants(participants)), summaries
	}
	logger.Info("using rest transport", slog.String("endpoint", rest.Endpoint(cfg.URL)))
	return summaries, summaries
}

// newSummarizer fetches the summary of the most recently recorded session,
// stores it and plays its audio when the backend sends any.
func newSummarizer(client *rest.Client, store *sessionstore.Store, player *playback.Queue, logger *slog.Logger) tui.Summarizer {
	return func(ctx context.Context) (tui.Summary, error) {
		session, err := store.LastSession(ctx)
		if err != nil {
			return tui.Summary{}, err
		}

		summary, err := client.Summary(ctx, session.ID)
		if err != nil {
			return tui.Summary{}, err
		}
		if err := store.SaveSummary(ctx, session.ID, summary.Text, summary.ChemistryIndex); err != nil {
			logger.Warn("failed to save summary", slog.String("session_id", session.ID), slog.String("error", err.Error()))
		}

		if len(summary.Audio) > 0 {
			player.Reopen()
			if err := player.PlayResponse(ctx, summary.Audio, summary.MimeType, nil); err != nil {
				logger.Warn("failed to play summary audio", slog.String("error", err.Error()))
			}
		}
		return tui.Summary{Text: summary.Text, ChemistryIndex: summary.ChemistryIndex}, nil
	}
}

func fanOut(handlers ...func(events.Event)) func(events.Event) {
	return func(event events.Event) {
		for _, handle := range handlers {
			handle(event)
		}
	}
}

func rmsParams(cfg config.VADConfig) vad.RMSParams {
	return vad.RMSParams{
		PositiveThreshold: cfg.PositiveThreshold,
		NegativeThreshold: cfg.NegativeThreshold,
		RedemptionFrames:  cfg.RedemptionFrames,
		MinSpeechFrames:   cfg.MinSpeechFrames,
		ReferenceRMS:      cfg.ReferenceRMS,
		MinVolume:         cfg.MinVolume,
	}
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return parsed
}
