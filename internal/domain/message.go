package domain

import (
	"regexp"
	"time"
)

// MaxMessageBytes is the hard ceiling on a serialized Message; dispatch
// rejects anything larger. WarnMessageBytes is the soft threshold logged as
// a warning but still dispatched.
const (
	MaxMessageBytes  = 1 << 20 // 1 MiB
	WarnMessageBytes = 100 << 10 // 100 KiB
)

// componentIDPattern enforces the "bridge|scout|sentinel|journal|gear:<kebab>"
// identity grammar.
var componentIDPattern = regexp.MustCompile(`^(bridge|scout|sentinel|journal|gear:[a-z0-9]+(-[a-z0-9]+)*)$`)

// ValidComponentID reports whether id matches the component naming grammar.
func ValidComponentID(id string) bool {
	return componentIDPattern.MatchString(id)
}

// MessageType enumerates the in-process envelope types the router dispatches.
type MessageType string

const (
	MsgPlanRequest     MessageType = "plan.request"
	MsgPlanResponse    MessageType = "plan.response"
	MsgExecuteRequest  MessageType = "execute.request"
	MsgExecuteResponse MessageType = "execute.response"
	MsgValidateRequest MessageType = "validate.request"
	MsgValidateResponse MessageType = "validate.response"
	MsgError           MessageType = "error"
)

// Message is the envelope for in-process dispatch between router-connected
// components. After dispatch a Message is immutable.
type Message struct {
	ID            string
	CorrelationID string
	ReplyTo       string
	Timestamp     time.Time
	From          string
	To            string
	Type          MessageType
	Payload       any
	JobID         string
	Metadata      map[string]any
}

// TimeoutMs reads metadata["timeoutMs"] if present and numeric.
func (m *Message) TimeoutMs() (int64, bool) {
	if m.Metadata == nil {
		return 0, false
	}
	v, ok := m.Metadata["timeoutMs"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ErrorPayload is the payload carried by a MsgError message.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}
