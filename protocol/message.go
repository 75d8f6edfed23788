// Package protocol defines the wire messages exchanged between the bridge
// and the orchestrator, and the codecs that frame them.
package protocol

import (
	"fmt"
	"time"
)

// Envelope types.
const (
	TypeCommand = "command"
	TypeQuery   = "query"
	TypeLog     = "log"
)

// Query verbs understood by the dispatcher.
const (
	ActionSceneHierarchy    = "get_scene_hierarchy"
	ActionGameObjectDetails = "get_gameobject_details"
	ActionProjectFiles      = "get_project_files"
	ActionValidateCode      = "validate_code"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error kinds carried on error responses.
const (
	ErrKindTransport = "transport"
	ErrKindCompile   = "compile"
	ErrKindExecution = "execution"
	ErrKindProtocol  = "protocol"
	ErrKindSecurity  = "security"
	ErrKindNotFound  = "not_found"
)

// Envelope is the top-level inbound wire message. Command and query
// envelopes carry a correlation id and produce exactly one response;
// log envelopes are fire-and-forget.
type Envelope struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Action  string         `json:"action,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Response is the outbound reply to a command or query envelope,
// keyed by the original correlation id.
type Response struct {
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// CommandPayload is the execution request carried by a command envelope.
type CommandPayload struct {
	Code                 string   `json:"code"`
	AdditionalReferences []string `json:"additional_references,omitempty"`
}

// LogMessage is a host log line shipped to the orchestrator. No response
// is expected.
type LogMessage struct {
	Level         string `json:"level"`
	Message       string `json:"message"`
	Module        string `json:"module"`
	Component     string `json:"component,omitempty"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Diagnostic is a single line-addressed compile or validation finding.
type Diagnostic struct {
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
}

// Diagnostic severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// CommandPayload extracts the execution request from a command envelope.
// The "code" field is required; "additional_references" is optional and
// must be a list of strings when present.
func (e *Envelope) CommandPayload() (*CommandPayload, error) {
	raw, ok := e.Payload["code"]
	if !ok {
		return nil, fmt.Errorf("command payload is missing %q", "code")
	}
	code, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("command payload field %q must be a string", "code")
	}

	p := &CommandPayload{Code: code}

	if raw, ok := e.Payload["additional_references"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("command payload field %q must be a list of strings", "additional_references")
		}
		for _, item := range list {
			ref, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command payload field %q must be a list of strings", "additional_references")
			}
			p.AdditionalReferences = append(p.AdditionalReferences, ref)
		}
	}

	return p, nil
}

// StringField extracts an optional string payload field, returning ""
// when the field is absent. A present field of the wrong type is an error.
func (e *Envelope) StringField(name string) (string, error) {
	raw, ok := e.Payload[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("payload field %q must be a string", name)
	}
	return s, nil
}

// IntField extracts a required integer payload field. JSON numbers arrive
// as float64; CBOR may deliver signed or unsigned integer types.
func (e *Envelope) IntField(name string) (int64, error) {
	raw, ok := e.Payload[name]
	if !ok {
		return 0, fmt.Errorf("payload is missing %q", name)
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("payload field %q must be an integer", name)
	}
}

// SuccessResponse builds a success response for the given correlation id.
func SuccessResponse(id string, payload map[string]any) *Response {
	return &Response{
		RequestID: id,
		Status:    StatusSuccess,
		Payload:   payload,
	}
}

// ErrorResponse builds an error response for the given correlation id.
// The message is always placed under "errorMessage" and the taxonomy
// kind under "error".
func ErrorResponse(id, kind, message string) *Response {
	return &Response{
		RequestID: id,
		Status:    StatusError,
		Payload: map[string]any{
			"error":        kind,
			"errorMessage": message,
		},
	}
}

// LogEnvelope wraps a LogMessage in a fire-and-forget log envelope.
func LogEnvelope(msg *LogMessage) *Envelope {
	return &Envelope{
		Type: TypeLog,
		Payload: map[string]any{
			"level":          msg.Level,
			"message":        msg.Message,
			"module":         msg.Module,
			"component":      msg.Component,
			"timestamp":      msg.Timestamp,
			"correlation_id": msg.CorrelationID,
		},
	}
}

// Timestamp formats t the way log messages carry it on the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
