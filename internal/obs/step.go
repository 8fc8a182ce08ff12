package obs

import (
	"context"
	"time"
)

// StepEvent is the structured record emitted once per scenario step.
type StepEvent struct {
	Name     string
	Outcome  string
	Duration time.Duration
	Err      error
}

// LogStep emits one structured step event, at Info for passes and Error for failures.
func LogStep(ctx context.Context, pkg string, ev StepEvent) {
	durMS := float64(ev.Duration.Microseconds()) / 1000.0
	l := From(ctx).With("pkg", pkg)
	if ev.Err != nil {
		l.Error("step_done", "name", ev.Name, "outcome", ev.Outcome, "dur_ms", durMS, "error", ev.Err.Error())
		return
	}
	l.Info("step_done", "name", ev.Name, "outcome", ev.Outcome, "dur_ms", durMS)
}
