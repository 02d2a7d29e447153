package gate

import (
	"fmt"
	"testing"

	"github.com/murphys7017/mk2/core"
)

func TestPoolRingOverwrite(t *testing.T) {
	p := NewPool("sink", 3)
	for i := 0; i < 5; i++ {
		obs := core.NewObservation()
		obs.Payload = &core.MessagePayload{Text: fmt.Sprintf("m%d", i)}
		p.Ingest(obs)
	}

	if p.Len() != 3 {
		t.Fatalf("expected len 3, got %d", p.Len())
	}
	if p.IngestedTotal() != 5 {
		t.Errorf("expected 5 total, got %d", p.IngestedTotal())
	}

	snap := p.Snapshot()
	if snap[0].Message().Text != "m2" || snap[2].Message().Text != "m4" {
		t.Errorf("oldest-first snapshot wrong: %s..%s",
			snap[0].Message().Text, snap[2].Message().Text)
	}
}

func TestPoolDefaultCapacity(t *testing.T) {
	p := NewPool("drop", 0)
	if len(p.buf) != DefaultPoolCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultPoolCapacity, len(p.buf))
	}
}
