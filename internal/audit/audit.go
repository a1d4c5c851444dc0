// Package audit defines the sink every dispatch writes a record to, and the
// two implementations used by the runtime: a no-op default and a
// structured-logger-backed sink. A SQL-backed sink lives in internal/store
// since it depends on the persistence layer.
package audit

import (
	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/domain"
)

// Sink receives one AuditEntry per dispatch.
type Sink interface {
	Write(entry domain.AuditEntry)
}

// NoOp discards every entry. It is the default when no audit backend is
// configured.
type NoOp struct{}

func (NoOp) Write(domain.AuditEntry) {}

// LogSink writes each entry through a structured core.Logger at info level.
type LogSink struct {
	Logger core.Logger
}

func (s LogSink) Write(entry domain.AuditEntry) {
	if s.Logger == nil {
		return
	}
	s.Logger.Info("audit", map[string]interface{}{
		"id":     entry.ID,
		"actor":  entry.Actor,
		"action": entry.Action,
		"risk":   string(entry.RiskLevel),
		"details": entry.Details,
	})
}
