package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	previous := log
	log = zap.New(core)
	t.Cleanup(func() { log = previous })
	return logs
}

func TestInitializeWithoutSentry(t *testing.T) {
	previous := log
	t.Cleanup(func() { log = previous })

	require.NoError(t, Initialize(Config{Debug: true}))
	assert.NotNil(t, Default())
}

func TestWithFieldsAppendsToCtxLogs(t *testing.T) {
	logs := observe(t)

	ctx := WithFields(context.Background(), zap.String("requestID", "req-1"))
	ctx = WithFields(ctx, zap.String("caller", "alice"))
	InfoCtx(ctx, "record stored", zap.Uint64("recordID", 1))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["requestID"])
	assert.Equal(t, "alice", fields["caller"])
	assert.Equal(t, uint64(1), fields["recordID"])
}

func TestErrorUsesErrorMessage(t *testing.T) {
	logs := observe(t)

	Error(errors.New("database unavailable"))
	Error(nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "database unavailable", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "error occurred", entries[1].Message)
}

func TestWorkflowInfoFields(t *testing.T) {
	logs := observe(t)

	InfoWorkflow(WorkflowInfo{WorkflowType: "DeliverWebhook", WorkflowID: "wf-1"}, "delivering")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "DeliverWebhook", fields["workflowType"])
	assert.Equal(t, "wf-1", fields["workflowID"])
}
