package adapters

import (
	"sync"
	"time"

	"github.com/murphys7017/mk2/core"
)

// TimerAdapter publishes SCHEDULE ticks to the system session. The
// runtime's system handler uses them to run drop-overload inspection
// and TTL maintenance.
type TimerAdapter struct {
	interval time.Duration
	logger   core.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewTimerAdapter ticks at the given interval (default 10s).
func NewTimerAdapter(interval time.Duration, logger core.Logger) *TimerAdapter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &TimerAdapter{
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (a *TimerAdapter) Name() string { return "timer" }

func (a *TimerAdapter) Start(publish func(*core.Observation) core.PublishResult) error {
	go a.run(publish)
	return nil
}

func (a *TimerAdapter) run(publish func(*core.Observation) core.PublishResult) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-a.done:
			return
		case now := <-ticker.C:
			seq++
			obs := core.NewObservation()
			obs.ObsType = core.ObsSchedule
			obs.SourceName = a.Name()
			obs.SourceKind = core.SourceSystem
			obs.SessionKey = core.SystemSessionKey
			obs.Actor = core.Actor{ActorID: "system", ActorType: core.ActorSystem}
			obs.Payload = &core.SchedulePayload{
				ScheduleID: "tick",
				Data: map[string]any{
					"seq": seq,
					"ts":  now.UTC().Format(time.RFC3339Nano),
				},
			}
			if result := publish(obs); result.Closed {
				return
			}
		}
	}
}

func (a *TimerAdapter) Stop() error {
	a.stopOnce.Do(func() { close(a.done) })
	return nil
}
