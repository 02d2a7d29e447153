// Package core provides the foundation types of the MK2 runtime: the
// Observation event model, the input bus, the session router, per-session
// runtime state, nociception helpers and the shared interfaces the rest
// of the module builds on.
//
// An Observation is the single event type that flows through the whole
// system: adapters produce them, the bus carries them, the router
// demultiplexes them into per-session inboxes, the gate classifies them
// and the agent consumes the survivors.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObservationType tags the payload variant carried by an Observation.
type ObservationType string

const (
	ObsMessage   ObservationType = "message"
	ObsWorldData ObservationType = "world_data"
	ObsAlert     ObservationType = "alert"
	ObsSchedule  ObservationType = "schedule"
	ObsControl   ObservationType = "control"
	ObsSystem    ObservationType = "system"
)

// SourceKind labels event provenance. Observability only, never used for
// routing or policy decisions.
type SourceKind string

const (
	SourceExternal SourceKind = "external"
	SourceInternal SourceKind = "internal"
	SourceSystem   SourceKind = "system"
)

// ActorType classifies who caused an observation.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorAgent   ActorType = "agent"
	ActorSystem  ActorType = "system"
	ActorService ActorType = "service"
	ActorUnknown ActorType = "unknown"
)

// Severity levels for ALERT payloads.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// QualityFlag marks input quality. Flags are hints for downstream
// consumers, they are never decisions by themselves.
type QualityFlag string

const (
	FlagEmptyContent    QualityFlag = "EMPTY_CONTENT"
	FlagMissingIdentity QualityFlag = "MISSING_IDENTITY"
	FlagMissingSession  QualityFlag = "MISSING_SESSION"
	FlagDuplicate       QualityFlag = "DUPLICATE"
	FlagTruncated       QualityFlag = "TRUNCATED"
	FlagUnsupported     QualityFlag = "UNSUPPORTED"
)

// AgentSourcePrefix namespaces source names of handler-emitted events.
// It is the canonical self-loop signal: observations whose source name
// carries this prefix (or whose actor is AgentActorID) must never be
// handed back to the agent.
const AgentSourcePrefix = "agent:"

// AgentActorID is the reserved actor id of the intelligent handler.
const AgentActorID = "agent"

// SystemSessionKey is the reserved session for system-directed events
// (pain alerts, control messages, scheduled ticks).
const SystemSessionKey = "system"

// Actor identifies who caused an observation.
type Actor struct {
	ActorID     string
	ActorType   ActorType
	DisplayName string
	TenantID    string
}

// EvidenceRef points at the raw event an observation was derived from,
// for audit and replay.
type EvidenceRef struct {
	RawEventID  string
	RawEventURI string
}

// AttachmentRef references an attachment without carrying bytes.
type AttachmentRef struct {
	ID       string
	Kind     string
	URI      string
	Filename string
	MIMEType string
}

// MessagePayload is the MESSAGE variant: someone said something.
type MessagePayload struct {
	Text        string
	Attachments []AttachmentRef
	Mentions    []string
	ReplyTo     string
}

// Empty reports whether the message carries no usable content.
func (p *MessagePayload) Empty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Attachments) == 0
}

// AlertPayload is the ALERT variant: an anomaly or pain signal.
type AlertPayload struct {
	AlertType     string
	Severity      Severity
	Message       string
	SourceKind    string
	SourceID      string
	ExceptionType string
	Data          map[string]any
}

// ControlPayload is the CONTROL variant: runtime tuning traffic.
// Well-known kinds: tuning_suggestion, tuning_applied,
// system_mode_changed, tuning_reverted.
type ControlPayload struct {
	Kind string
	Data map[string]any
}

// Control kinds the runtime produces and consumes.
const (
	ControlTuningSuggestion  = "tuning_suggestion"
	ControlTuningApplied     = "tuning_applied"
	ControlSystemModeChanged = "system_mode_changed"
	ControlTuningReverted    = "tuning_reverted"
)

// SchedulePayload is the SCHEDULE variant: a timer fired.
type SchedulePayload struct {
	ScheduleID string
	Data       map[string]any
}

// WorldDataPayload is the WORLD_DATA variant: structured external data.
type WorldDataPayload struct {
	SchemaID string
	Data     map[string]any
}

// SystemPayload is the SYSTEM variant: internal housekeeping events.
type SystemPayload struct {
	Kind string
	Data map[string]any
}

// Payload is the tagged-union interface over the per-type variants.
// The concrete type must agree with Observation.ObsType.
type Payload interface {
	payloadType() ObservationType
}

func (*MessagePayload) payloadType() ObservationType   { return ObsMessage }
func (*AlertPayload) payloadType() ObservationType     { return ObsAlert }
func (*ControlPayload) payloadType() ObservationType   { return ObsControl }
func (*SchedulePayload) payloadType() ObservationType  { return ObsSchedule }
func (*WorldDataPayload) payloadType() ObservationType { return ObsWorldData }
func (*SystemPayload) payloadType() ObservationType    { return ObsSystem }

// Observation is the universal event: "I observed something happened".
// It is the only thing adapters emit and the only thing the dispatch
// engine moves around.
type Observation struct {
	ObsID      string
	ObsType    ObservationType
	SourceName string
	SourceKind SourceKind

	// Event time and ingest time. Both must be timezone-aware, which in
	// Go means non-zero and carrying a location (time.Time always does).
	Timestamp  time.Time
	ReceivedAt time.Time

	// SessionKey is the conversation isolation domain. Empty means the
	// router derives one deterministically.
	SessionKey string

	Actor    Actor
	Payload  Payload
	Evidence EvidenceRef

	QualityFlags map[QualityFlag]struct{}
	Tags         []string

	// Metadata is the only free-form mapping on the event. It is mutated
	// in flight (for example the memory event id is written back here).
	Metadata map[string]any
}

// NewObservation returns an observation with identity and timestamps
// filled in. Callers set type, source, session and payload.
func NewObservation() *Observation {
	now := time.Now().UTC()
	return &Observation{
		ObsID:        uuid.NewString(),
		ObsType:      ObsMessage,
		SourceName:   "unknown",
		SourceKind:   SourceExternal,
		Timestamp:    now,
		ReceivedAt:   now,
		QualityFlags: make(map[QualityFlag]struct{}),
		Metadata:     make(map[string]any),
	}
}

// AddFlag marks a quality flag on the observation.
func (o *Observation) AddFlag(f QualityFlag) {
	if o.QualityFlags == nil {
		o.QualityFlags = make(map[QualityFlag]struct{})
	}
	o.QualityFlags[f] = struct{}{}
}

// HasFlag reports whether a quality flag is set.
func (o *Observation) HasFlag(f QualityFlag) bool {
	_, ok := o.QualityFlags[f]
	return ok
}

// Message returns the MESSAGE payload, or nil when the observation is
// not a message (or carries a mismatched payload).
func (o *Observation) Message() *MessagePayload {
	p, _ := o.Payload.(*MessagePayload)
	return p
}

// Alert returns the ALERT payload, or nil.
func (o *Observation) Alert() *AlertPayload {
	p, _ := o.Payload.(*AlertPayload)
	return p
}

// Control returns the CONTROL payload, or nil.
func (o *Observation) Control() *ControlPayload {
	p, _ := o.Payload.(*ControlPayload)
	return p
}

// AgentSourced reports whether this observation was emitted by the
// intelligent handler, either via the source-name namespace or the
// reserved actor id.
func (o *Observation) AgentSourced() bool {
	return strings.HasPrefix(o.SourceName, AgentSourcePrefix) || o.Actor.ActorID == AgentActorID
}

// Validate performs the adapter-level checks. Structural problems are
// errors; content problems only set quality flags.
func (o *Observation) Validate() error {
	if o.SourceName == "" {
		return NewCoreError("observation.Validate", "observation", ErrMissingSource)
	}
	if o.Timestamp.IsZero() || o.ReceivedAt.IsZero() {
		return NewCoreError("observation.Validate", "observation", ErrMissingTimestamp)
	}
	if o.Payload == nil {
		return NewCoreError("observation.Validate", "observation", ErrMissingPayload)
	}
	if got := o.Payload.payloadType(); got != o.ObsType {
		return NewCoreError("observation.Validate", "observation",
			fmt.Errorf("%w: payload is %s, obs_type is %s", ErrPayloadMismatch, got, o.ObsType))
	}

	if o.ObsType == ObsMessage {
		mp := o.Message()
		if mp.Empty() {
			o.AddFlag(FlagEmptyContent)
		}
		if o.SessionKey == "" {
			o.AddFlag(FlagMissingSession)
		}
		if o.Actor.ActorID == "" {
			o.AddFlag(FlagMissingIdentity)
		}
	}
	if o.ObsType == ObsWorldData {
		if wp, ok := o.Payload.(*WorldDataPayload); !ok || wp.SchemaID == "" {
			return NewCoreError("observation.Validate", "observation", ErrMissingSchemaID)
		}
	}
	return nil
}

// NewMessage builds a validated MESSAGE observation. The actor type is
// user when an actor id is present, unknown otherwise.
func NewMessage(sourceName, sessionKey, actorID, text string) (*Observation, error) {
	obs := NewObservation()
	obs.ObsType = ObsMessage
	obs.SourceName = sourceName
	obs.SessionKey = sessionKey
	obs.Actor = Actor{ActorID: actorID, ActorType: ActorUser}
	if actorID == "" {
		obs.Actor.ActorType = ActorUnknown
	}
	obs.Payload = &MessagePayload{Text: text}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}
