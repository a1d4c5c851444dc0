package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/audit"
	"github.com/aegis-run/aegis/internal/domain"
)

// AuditSink implements audit.Sink against the audit_log table.
type AuditSink struct {
	store  *Store
	logger core.Logger
}

// NewAuditSink wraps an open Store as an audit.Sink.
func NewAuditSink(s *Store, logger core.Logger) *AuditSink {
	return &AuditSink{store: s, logger: logger}
}

var _ audit.Sink = (*AuditSink)(nil)

// Write persists entry; failures are logged but never propagated, since
// audit is a secondary concern and must not block dispatch.
func (a *AuditSink) Write(entry domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		details = []byte("{}")
	}
	_, err = a.store.DB.Exec(
		`INSERT INTO audit_log (id, timestamp, actor, action, risk_level, details_json) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp, entry.Actor, entry.Action, string(entry.RiskLevel), string(details),
	)
	if err != nil && a.logger != nil {
		a.logger.Error("audit write failed", map[string]interface{}{"error": err.Error()})
	}
}
