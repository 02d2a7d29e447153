package core

import (
	"errors"
	"testing"
)

func TestNewMessageValid(t *testing.T) {
	obs, err := NewMessage("text_input", "dm:alice", "alice", "hello")
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if obs.ObsID == "" {
		t.Error("expected obs_id to be set")
	}
	if obs.ObsType != ObsMessage {
		t.Errorf("expected obs_type message, got %s", obs.ObsType)
	}
	if obs.Actor.ActorType != ActorUser {
		t.Errorf("expected user actor, got %s", obs.Actor.ActorType)
	}
	if obs.Message() == nil || obs.Message().Text != "hello" {
		t.Error("message payload not accessible")
	}
}

func TestValidateStructuralErrors(t *testing.T) {
	obs := NewObservation()
	obs.SourceName = ""
	obs.Payload = &MessagePayload{Text: "x"}
	if err := obs.Validate(); !errors.Is(err, ErrMissingSource) {
		t.Errorf("expected ErrMissingSource, got %v", err)
	}

	obs = NewObservation()
	if err := obs.Validate(); !errors.Is(err, ErrMissingPayload) {
		t.Errorf("expected ErrMissingPayload, got %v", err)
	}

	obs = NewObservation()
	obs.ObsType = ObsAlert
	obs.Payload = &MessagePayload{Text: "x"}
	if err := obs.Validate(); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("expected ErrPayloadMismatch, got %v", err)
	}
}

func TestValidateQualityFlags(t *testing.T) {
	obs := NewObservation()
	obs.Payload = &MessagePayload{}
	if err := obs.Validate(); err != nil {
		t.Fatalf("empty message should validate with flags, got %v", err)
	}
	if !obs.HasFlag(FlagEmptyContent) {
		t.Error("expected EMPTY_CONTENT flag")
	}
	if !obs.HasFlag(FlagMissingSession) {
		t.Error("expected MISSING_SESSION flag")
	}
	if !obs.HasFlag(FlagMissingIdentity) {
		t.Error("expected MISSING_IDENTITY flag")
	}
}

func TestValidateWorldDataSchemaID(t *testing.T) {
	obs := NewObservation()
	obs.ObsType = ObsWorldData
	obs.Payload = &WorldDataPayload{}
	if err := obs.Validate(); !errors.Is(err, ErrMissingSchemaID) {
		t.Errorf("expected ErrMissingSchemaID, got %v", err)
	}

	obs.Payload = &WorldDataPayload{SchemaID: "weather.v1"}
	if err := obs.Validate(); err != nil {
		t.Errorf("expected valid world data, got %v", err)
	}
}

func TestAgentSourced(t *testing.T) {
	obs := NewObservation()
	obs.SourceName = AgentSourcePrefix + "answerer"
	obs.Payload = &MessagePayload{Text: "hi"}
	if !obs.AgentSourced() {
		t.Error("agent: source prefix should mark obs as agent sourced")
	}

	obs = NewObservation()
	obs.SourceName = "text_input"
	obs.Actor = Actor{ActorID: AgentActorID, ActorType: ActorAgent}
	obs.Payload = &MessagePayload{Text: "hi"}
	if !obs.AgentSourced() {
		t.Error("agent actor id should mark obs as agent sourced")
	}

	obs, _ = NewMessage("text_input", "dm:alice", "alice", "hi")
	if obs.AgentSourced() {
		t.Error("user message must not be agent sourced")
	}
}
