package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew_ProductionLogsJSON(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := logger.New("clinicbilling", "production", logger.Config{Level: "info"}, logger.WithOutput(buf))
	require.NoError(t, err)

	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	log.Info("hello", logger.Error(errors.New("boom")))
	entry := decode(t, buf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "clinicbilling", entry["service"])
	assert.Equal(t, "production", entry["env"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNew_DevelopmentLogsText(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := logger.New("clinicbilling", "development", logger.Config{}, logger.WithOutput(buf))
	require.NoError(t, err)

	log.Debug("visible")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := logger.New("svc", "production", logger.Config{Format: "xml"})
	assert.Error(t, err)

	_, err = logger.New("svc", "production", logger.Config{Level: "loud"})
	assert.Error(t, err)
}

func TestContextExtractors(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := logger.New("svc", "production", logger.Config{Level: "info"},
		logger.WithOutput(buf),
		logger.WithAttr(slog.String("region", "eu")),
	)
	require.NoError(t, err)

	tenantID := uuid.New()
	ctx := logger.WithTenantID(context.Background(), tenantID)
	ctx = logger.WithRequestID(ctx, "req-1")
	ctx = logger.WithEventID(ctx, "evt_1")

	log.With(logger.Component("test")).InfoContext(ctx, "scoped")
	entry := decode(t, buf)
	assert.Equal(t, tenantID.String(), entry["tenant_id"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "evt_1", entry["event_id"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "eu", entry["region"])
}

func TestError_Nil(t *testing.T) {
	t.Parallel()
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}
