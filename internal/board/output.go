package board

import (
	"io"
	"log/slog"

	"sensorless/internal/fix16"
)

// Output adapts a PowerWriter to the controller's actuator contract: the
// duty is clamped to [0, 1], unchanged values are not written again, and
// write errors are logged since the control loop has no error path.
type Output struct {
	w   PowerWriter
	log *slog.Logger

	last    fix16.Fix16
	primed  bool
	failing bool

	writes   uint64
	failures uint64
}

func NewOutput(w PowerWriter, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Output{w: w, log: logger}
}

func (o *Output) SetPower(duty fix16.Fix16) {
	duty = fix16.Clamp(duty, 0, fix16.One)
	if o.primed && duty == o.last {
		return
	}

	if err := o.w.WritePower(duty); err != nil {
		o.failures++
		if !o.failing {
			o.log.Warn("power write failed", "duty", duty.Float32(), "error", err)
			o.failing = true
		}
		return
	}
	if o.failing {
		o.log.Info("power writes recovered", "failed_writes", o.failures)
		o.failing = false
	}

	o.last = duty
	o.primed = true
	o.writes++
}

// Last returns the last duty that reached the power stage.
func (o *Output) Last() (fix16.Fix16, bool) { return o.last, o.primed }

// Writes returns the number of successful writes.
func (o *Output) Writes() uint64 { return o.writes }

// Failures returns the number of failed writes.
func (o *Output) Failures() uint64 { return o.failures }
