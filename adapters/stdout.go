package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/murphys7017/mk2/core"
)

// StdoutAdapter writes deliverables to a writer, one line per
// observation. It is the default egress adapter for interactive runs.
type StdoutAdapter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewStdoutAdapter writes to os.Stdout.
func NewStdoutAdapter() *StdoutAdapter {
	return &StdoutAdapter{writer: os.Stdout}
}

// NewWriterAdapter writes to an arbitrary writer.
func NewWriterAdapter(w io.Writer) *StdoutAdapter {
	return &StdoutAdapter{writer: w}
}

func (a *StdoutAdapter) Send(_ context.Context, obs *core.Observation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case obs.Message() != nil:
		_, err := fmt.Fprintf(a.writer, "[%s] %s\n", obs.SessionKey, obs.Message().Text)
		return err
	case obs.Control() != nil:
		cp := obs.Control()
		_, err := fmt.Fprintf(a.writer, "[%s] control %s: %v\n", obs.SessionKey, cp.Kind, cp.Data)
		return err
	default:
		_, err := fmt.Fprintf(a.writer, "[%s] %s from %s\n", obs.SessionKey, obs.ObsType, obs.SourceName)
		return err
	}
}
