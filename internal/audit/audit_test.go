package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-run/aegis/internal/domain"
)

type infoCall struct {
	msg    string
	fields map[string]interface{}
}

type recordingLogger struct {
	infoCalls []infoCall
}

func (l *recordingLogger) Info(msg string, fields map[string]interface{}) {
	l.infoCalls = append(l.infoCalls, infoCall{msg: msg, fields: fields})
}
func (l *recordingLogger) Error(string, map[string]interface{}) {}
func (l *recordingLogger) Warn(string, map[string]interface{})  {}
func (l *recordingLogger) Debug(string, map[string]interface{}) {}

func (l *recordingLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (l *recordingLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (l *recordingLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (l *recordingLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

func TestNoOpWriteDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		NoOp{}.Write(domain.AuditEntry{ID: "entry-1"})
	})
}

func TestLogSinkWritesThroughLogger(t *testing.T) {
	logger := &recordingLogger{}
	sink := LogSink{Logger: logger}

	sink.Write(domain.AuditEntry{
		ID:        "entry-1",
		Actor:     "scout",
		Action:    "dispatch:execute.request",
		RiskLevel: domain.RiskHigh,
		Details:   map[string]any{"to": "gear:restart"},
	})

	require.Len(t, logger.infoCalls, 1)
	require.Equal(t, "audit", logger.infoCalls[0].msg)
	require.Equal(t, "entry-1", logger.infoCalls[0].fields["id"])
	require.Equal(t, "scout", logger.infoCalls[0].fields["actor"])
	require.Equal(t, "high", logger.infoCalls[0].fields["risk"])
}

func TestLogSinkNilLoggerDoesNotPanic(t *testing.T) {
	sink := LogSink{}
	require.NotPanics(t, func() {
		sink.Write(domain.AuditEntry{ID: "entry-1"})
	})
}
