package core

import (
	"testing"
)

func TestMakePainAlert(t *testing.T) {
	obs := MakePainAlert("adapter", "text_input", SeverityMedium, "read failed",
		WithExceptionType("io"),
		WithWhere("StdinAdapter.run"),
		WithPainData(map[string]any{"attempt": 3}),
	)

	if obs.ObsType != ObsAlert {
		t.Fatalf("expected alert, got %s", obs.ObsType)
	}
	if obs.SessionKey != SystemSessionKey {
		t.Error("pain alerts must target the system session")
	}
	if obs.SourceName != "adapter:text_input" {
		t.Errorf("unexpected source name %s", obs.SourceName)
	}
	if err := obs.Validate(); err != nil {
		t.Errorf("pain alert must validate: %v", err)
	}

	ap := obs.Alert()
	if ap.AlertType != PainAlertType || ap.Severity != SeverityMedium {
		t.Error("alert payload fields wrong")
	}
	if ap.ExceptionType != "io" {
		t.Error("exception type not set")
	}
	if ap.Data["where"] != "StdinAdapter.run" || ap.Data["attempt"] != 3 {
		t.Error("alert data not merged")
	}
}

func TestExtractPainKey(t *testing.T) {
	obs := MakePainAlert("adapter", "text_input", SeverityLow, "x")
	if got := ExtractPainKey(obs); got != "adapter:text_input" {
		t.Errorf("expected adapter:text_input, got %s", got)
	}

	plain := userMsg(t, "alice", "hi")
	if got := ExtractPainKey(plain); got != "unknown:unknown" {
		t.Errorf("expected unknown:unknown, got %s", got)
	}
}
