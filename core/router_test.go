package core

import (
	"fmt"
	"testing"
)

func TestResolveSessionKey(t *testing.T) {
	router := NewSessionRouter(NewInputBus(10), 16, "")

	msg := userMsg(t, "alice", "hi")
	if got := router.ResolveSessionKey(msg); got != "dm:alice" {
		t.Errorf("user message: expected dm:alice, got %s", got)
	}

	msg.SessionKey = "room:42"
	if got := router.ResolveSessionKey(msg); got != "room:42" {
		t.Errorf("explicit key must win, got %s", got)
	}

	alert := MakePainAlert("adapter", "text_input", SeverityLow, "boom")
	alert.SessionKey = ""
	if got := router.ResolveSessionKey(alert); got != SystemSessionKey {
		t.Errorf("alert: expected system session, got %s", got)
	}

	anon := NewObservation()
	anon.ObsType = ObsWorldData
	anon.Payload = &WorldDataPayload{SchemaID: "x"}
	if got := router.ResolveSessionKey(anon); got != "unknown" {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestRouterRunDemultiplexes(t *testing.T) {
	bus := NewInputBus(10)
	router := NewSessionRouter(bus, 16, "")

	bus.Publish(userMsg(t, "alice", "a1"))
	bus.Publish(userMsg(t, "bob", "b1"))
	bus.Publish(userMsg(t, "alice", "a2"))
	bus.Close()
	router.Run()

	alice := router.Inbox("dm:alice")
	if alice.Len() != 2 {
		t.Fatalf("expected 2 for alice, got %d", alice.Len())
	}
	first := <-alice.C()
	second := <-alice.C()
	if first.Message().Text != "a1" || second.Message().Text != "a2" {
		t.Error("per-session FIFO violated")
	}
	if first.SessionKey != "dm:alice" {
		t.Error("router must write the resolved session key back")
	}

	sessions := router.ListActiveSessions()
	if len(sessions) != 2 {
		t.Errorf("expected 2 active sessions, got %v", sessions)
	}
}

func TestInboxDropNewest(t *testing.T) {
	in := NewSessionInbox(2)
	for i := 0; i < 3; i++ {
		in.Put(userMsg(t, "alice", fmt.Sprintf("m%d", i)))
	}
	if in.Dropped() != 1 {
		t.Errorf("expected 1 inbox drop, got %d", in.Dropped())
	}
}

func TestRemoveSession(t *testing.T) {
	router := NewSessionRouter(NewInputBus(10), 16, "")
	router.Inbox("dm:alice")
	router.RemoveSession("dm:alice")
	if len(router.ListActiveSessions()) != 0 {
		t.Error("removed session still listed")
	}
	// A new event recreates the inbox.
	router.Inbox("dm:alice")
	if len(router.ListActiveSessions()) != 1 {
		t.Error("session not recreated")
	}
}
