package core

import (
	"fmt"
)

// Nociception: the standardized error-as-event model. Failures anywhere
// in the system become pain ALERTs routed to the system session, where
// burst detection drives protective reflexes (adapter cooldown, fan-out
// suppression).

// Pain aggregation parameters. The window bounds both detection and the
// memory held per aggregation key.
const (
	PainWindowSeconds      = 60
	PainBurstThreshold     = 5
	AdapterCooldownSeconds = 300
	DropWindowSeconds      = 30
	DropBurstThreshold     = 50
	FanoutSuppressSeconds  = 60
)

// PainAlertType is the alert_type of standardized pain alerts.
const PainAlertType = "pain"

// PainOpt customizes an alert produced by MakePainAlert.
type PainOpt func(*AlertPayload)

// WithExceptionType records the class of failure that caused the pain.
func WithExceptionType(t string) PainOpt {
	return func(p *AlertPayload) { p.ExceptionType = t }
}

// WithPainData merges extra fields into the alert data.
func WithPainData(extra map[string]any) PainOpt {
	return func(p *AlertPayload) {
		for k, v := range extra {
			p.Data[k] = v
		}
	}
}

// WithWhere records the component and method that raised the pain.
func WithWhere(where string) PainOpt {
	return func(p *AlertPayload) { p.Data["where"] = where }
}

// MakePainAlert creates a standardized pain ALERT observation addressed
// to the system session.
//
// sourceKind is one of "core", "router", "adapter", "gate", "tool",
// "external", "system"; sourceID names the concrete source (for example
// "text_input" or "drop_overload"). The pair forms the aggregation key.
func MakePainAlert(sourceKind, sourceID string, severity Severity, message string, opts ...PainOpt) *Observation {
	payload := &AlertPayload{
		AlertType:  PainAlertType,
		Severity:   severity,
		Message:    message,
		SourceKind: sourceKind,
		SourceID:   sourceID,
		Data:       map[string]any{},
	}
	for _, opt := range opts {
		opt(payload)
	}

	obs := NewObservation()
	obs.ObsType = ObsAlert
	obs.SourceName = fmt.Sprintf("%s:%s", sourceKind, sourceID)
	obs.SourceKind = SourceInternal
	obs.SessionKey = SystemSessionKey
	obs.Actor = Actor{ActorID: "system", ActorType: ActorSystem}
	obs.Payload = payload
	return obs
}

// ExtractPainKey returns the "source_kind:source_id" aggregation key of
// an alert, or "unknown:unknown" for anything that is not a
// standardized pain alert.
func ExtractPainKey(obs *Observation) string {
	ap := obs.Alert()
	if ap == nil {
		return "unknown:unknown"
	}
	kind, id := ap.SourceKind, ap.SourceID
	if kind == "" {
		kind = "unknown"
	}
	if id == "" {
		id = "unknown"
	}
	return kind + ":" + id
}

// ExtractPainSeverity returns the severity of an alert, or "unknown".
func ExtractPainSeverity(obs *Observation) string {
	if ap := obs.Alert(); ap != nil {
		return string(ap.Severity)
	}
	return "unknown"
}
