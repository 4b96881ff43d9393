package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

func TestSetupExposesMetricsAndTraces(t *testing.T) {
	var traces bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	providers, err := Setup(context.Background(), config.TelemetryConfig{}, "test", &traces, logger)
	require.NoError(t, err)
	require.NotNil(t, providers.MetricsHandler)

	counter, err := otel.Meter("telemetry-test").Int64Counter("turns.sent")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "turn")
	span.End()

	otelslog.NewLogger("telemetry-test").Info("playback drained")

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "turns_sent"), "expected counter in metrics output")

	require.NoError(t, providers.Shutdown(context.Background()))
	assert.Contains(t, traces.String(), `"Name":"turn"`)
	assert.Contains(t, traces.String(), "playback drained")
}
