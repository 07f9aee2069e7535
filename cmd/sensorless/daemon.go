package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"sensorless/internal/bench"
	"sensorless/internal/board"
	"sensorless/internal/calibrator"
	"sensorless/internal/controller"
	"sensorless/internal/store"
	"sensorless/internal/telemetry"
)

const shutdownTimeout = 2 * time.Second

// ============================================================================
// Daemon
// ============================================================================
//
// Goroutines under one errgroup:
//   - source reader: board samples -> Sampler (sampling context)
//   - control loop: the only owner of the core
//   - ws hub, snapshot fanout, HTTP server
//   - bench socket, when the sim backend is driven from simctl
//
// Any of them failing cancels the rest. After the control loop has returned
// the daemon drives the output to zero, then closes the board.
// ============================================================================

type daemon struct {
	cfg Config
	log *slog.Logger

	store *store.File
	board board.Board
	ctrl  *controller.Controller

	fanout  *telemetry.Fanout
	hub     *telemetry.Hub
	metrics *telemetry.Metrics

	listener net.Listener
	server   *http.Server

	bench *bench.Server
}

// newDaemon opens every resource. On error everything opened so far is
// closed again.
func newDaemon(cfg Config, logger *slog.Logger) (d *daemon, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d = &daemon{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, d.close())
			d = nil
		}
	}()

	d.store, err = store.OpenFile(ExpandPath(cfg.Store.Path), logger.With("component", "store"))
	if err != nil {
		return d, err
	}

	d.board, err = board.Open(cfg.Board, logger.With("component", "board"))
	if err != nil {
		return d, fmt.Errorf("open board: %w", err)
	}

	var clock calibrator.Clock = controller.NewWallClock()
	if cfg.ClockKind() == clockSample {
		clock = controller.NewSampleClock(cfg.Board.Sim.Plant.SampleRate)
	}

	out := board.NewOutput(d.board, logger.With("component", "output"))
	d.ctrl, err = controller.New(cfg.ControllerConfig(), d.store, out, clock, logger.With("component", "controller"))
	if err != nil {
		return d, err
	}

	d.fanout = telemetry.NewFanout(logger.With("component", "telemetry"))
	d.hub = telemetry.NewHub(logger.With("component", "ws"), cfg.Telemetry.Hub)
	d.metrics = telemetry.NewMetrics()
	d.fanout.Add("ws", d.hub)
	d.fanout.Add("metrics", d.metrics)

	if cfg.Telemetry.MQTT.Enabled {
		m, err := telemetry.DialMQTT(cfg.Telemetry.MQTT, logger.With("component", "mqtt"))
		if err != nil {
			// Status output is optional; the motor still runs.
			logger.Warn("mqtt disabled", "error", err)
		} else {
			d.fanout.Add("mqtt", m)
		}
	}

	if cfg.Bench.Socket != "" {
		sim, ok := d.board.(*board.Sim)
		if !ok {
			return d, fmt.Errorf("bench socket needs the sim backend, got %s", d.board.Name())
		}
		d.bench = bench.NewServer(sim.Motor(), cfg.Board.Sim.Knob, logger.With("component", "bench"))
	}

	if cfg.Telemetry.Listen != "" {
		mux := http.NewServeMux()
		d.hub.Register(mux, cfg.Telemetry.WSPath)
		d.metrics.Register(mux, cfg.Telemetry.MetricsPath)

		d.listener, err = net.Listen("tcp", cfg.Telemetry.Listen)
		if err != nil {
			return d, fmt.Errorf("telemetry listen %s: %w", cfg.Telemetry.Listen, err)
		}
		d.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return d, nil
}

// addr returns the bound telemetry address, or "" when HTTP is disabled.
func (d *daemon) addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// run blocks until ctx is canceled or a component fails.
func (d *daemon) run(ctx context.Context) error {
	d.ctrl.Boot()

	d.log.Info("listening",
		"board", d.board.Name(),
		"store", ExpandPath(d.cfg.Store.Path),
		"telemetry", d.addr(),
		"sinks", d.fanout.Len())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.board.ReadSamples(gctx, d.ctrl.Sampler().Consume); err != nil {
			return fmt.Errorf("sample source: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return d.ctrl.Run(gctx)
	})

	g.Go(func() error {
		d.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return d.fanout.Run(gctx, d.ctrl.Snapshots())
	})

	if d.bench != nil {
		g.Go(func() error {
			return d.bench.Run(gctx, ExpandPath(d.cfg.Bench.Socket))
		})
	}

	if d.server != nil {
		g.Go(func() error {
			if err := d.server.Serve(d.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return d.server.Shutdown(shutCtx)
		})
	}

	err := g.Wait()

	// The control loop has returned; nothing else owns the core now.
	d.ctrl.PowerOff()
	d.log.Info("power off")

	return multierr.Append(err, d.close())
}

func (d *daemon) close() error {
	var errs error
	if d.fanout != nil {
		errs = multierr.Append(errs, d.fanout.Close())
	}
	if d.board != nil {
		errs = multierr.Append(errs, d.board.Close())
	}
	if d.listener != nil && d.server == nil {
		errs = multierr.Append(errs, d.listener.Close())
	}
	return errs
}
