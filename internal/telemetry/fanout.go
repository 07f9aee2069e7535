package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.uber.org/multierr"

	"sensorless/internal/controller"
)

// Sink receives status snapshots. Publish is called from a single goroutine.
type Sink interface {
	Publish(controller.Snapshot) error
	Close() error
}

type namedSink struct {
	name    string
	sink    Sink
	failing bool
}

// Fanout forwards every snapshot to all sinks. A failing sink is logged once
// per failure streak and does not stop the others.
type Fanout struct {
	log   *slog.Logger
	sinks []*namedSink
}

func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fanout{log: logger}
}

func (f *Fanout) Add(name string, s Sink) {
	f.sinks = append(f.sinks, &namedSink{name: name, sink: s})
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Publish(s controller.Snapshot) error {
	var errs error
	for _, ns := range f.sinks {
		err := ns.sink.Publish(s)
		switch {
		case err != nil && !ns.failing:
			ns.failing = true
			f.log.Warn("telemetry sink failed", "sink", ns.name, "error", err)
		case err == nil && ns.failing:
			ns.failing = false
			f.log.Info("telemetry sink recovered", "sink", ns.name)
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Run publishes snapshots from ch until ctx is done or ch is closed.
func (f *Fanout) Run(ctx context.Context, ch <-chan controller.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			_ = f.Publish(s)
		}
	}
}

func (f *Fanout) Close() error {
	var errs error
	for _, ns := range f.sinks {
		errs = multierr.Append(errs, ns.sink.Close())
	}
	return errs
}
