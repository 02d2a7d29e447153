// Package adapters provides the built-in input and output adapters:
// stdin/stdout for interactive use and a timer tick source for the
// system session.
package adapters

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/murphys7017/mk2/core"
)

// StdinAdapter reads lines from a reader and publishes them as user
// MESSAGE observations. Publish failures raise pain alerts through the
// same publish function.
type StdinAdapter struct {
	reader  io.Reader
	actorID string
	logger  core.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewStdinAdapter reads from os.Stdin as the given actor.
func NewStdinAdapter(actorID string, logger core.Logger) *StdinAdapter {
	return NewReaderAdapter(os.Stdin, actorID, logger)
}

// NewReaderAdapter reads from an arbitrary reader; tests use this with
// a strings.Reader.
func NewReaderAdapter(r io.Reader, actorID string, logger core.Logger) *StdinAdapter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &StdinAdapter{
		reader:  r,
		actorID: actorID,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (a *StdinAdapter) Name() string { return "text_input" }

// Start begins the read loop in its own goroutine.
func (a *StdinAdapter) Start(publish func(*core.Observation) core.PublishResult) error {
	go a.run(publish)
	return nil
}

func (a *StdinAdapter) run(publish func(*core.Observation) core.PublishResult) {
	scanner := bufio.NewScanner(a.reader)
	for scanner.Scan() {
		select {
		case <-a.done:
			return
		default:
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		obs, err := core.NewMessage(a.Name(), "", a.actorID, text)
		if err != nil {
			a.logger.Warn("Dropping invalid input line", map[string]interface{}{
				"adapter": a.Name(),
				"error":   err.Error(),
			})
			publish(core.MakePainAlert("adapter", a.Name(), core.SeverityLow, err.Error(),
				core.WithExceptionType("validation")))
			continue
		}

		result := publish(obs)
		if result.Dropped || result.Closed {
			a.logger.Warn("Input publish rejected", map[string]interface{}{
				"adapter": a.Name(),
				"reason":  result.Reason,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		publish(core.MakePainAlert("adapter", a.Name(), core.SeverityMedium, err.Error(),
			core.WithExceptionType("read")))
	}
}

// Stop ends the read loop. The blocked Scan call finishes with the
// current line; nothing more is published after that.
func (a *StdinAdapter) Stop() error {
	a.stopOnce.Do(func() { close(a.done) })
	return nil
}
