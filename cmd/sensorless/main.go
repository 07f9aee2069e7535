package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("sensorless v%s\n", version)
	fmt.Println("Sensorless speed controller for single-phase brushed motors")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sensorless [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Regulates motor speed from the commutation ripple in the supply")
	fmt.Println("  current. Speed is measured with a fixed-point FFT and held by an")
	fmt.Println("  ADRC loop. A knob gesture (three quick dials) starts auto-calibration.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (optional; flags override file values)")
	fmt.Println()
	fmt.Println("  -board string")
	fmt.Println("        Board backend: sim, serial, linux (default \"sim\")")
	fmt.Println()
	fmt.Println("  -serial-port string")
	fmt.Println("        Serial port of the MCU bridge (default \"/dev/ttyACM0\")")
	fmt.Println()
	fmt.Println("  -serial-baud int")
	fmt.Println("        Serial baud rate (default 921600)")
	fmt.Println()
	fmt.Println("  -sim-knob float")
	fmt.Println("        Simulated knob position in [0, 1] (default 0)")
	fmt.Println()
	fmt.Println("  -store string")
	fmt.Println("        Calibration store file (default \"~/.config/sensorless/calibration.yaml\")")
	fmt.Println()
	fmt.Println("  -listen string")
	fmt.Println("        Telemetry HTTP address for /ws/status and /metrics; empty disables (default \"127.0.0.1:3002\")")
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        MQTT broker URL; setting it enables status publishing")
	fmt.Println()
	fmt.Println("  -bench-socket string")
	fmt.Println("        Unix socket for simctl (sim backend only; empty disables)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Simulated motor with the knob at half scale")
	fmt.Println("  sensorless -sim-knob 0.5")
	fmt.Println()
	fmt.Println("  # Simulated motor driven from simctl")
	fmt.Println("  sensorless -bench-socket /tmp/sensorless-bench.sock")
	fmt.Println("  simctl -socket /tmp/sensorless-bench.sock gesture")
	fmt.Println()
	fmt.Println("  # MCU bridge on a USB serial port")
	fmt.Println("  sensorless -board serial -serial-port /dev/ttyUSB0")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Until a calibration is stored the motor runs open loop at low power")
	fmt.Println("  - Calibration gesture: from rest, dial the knob above 5% and back three")
	fmt.Println("    times, holding each position 200..1000 ms")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "YAML config file")
		backend     = flag.String("board", "", "Board backend: sim, serial, linux")
		serialPort  = flag.String("serial-port", "", "Serial port of the MCU bridge")
		serialBaud  = flag.Int("serial-baud", 0, "Serial baud rate")
		simKnob     = flag.Float64("sim-knob", 0, "Simulated knob position in [0, 1]")
		storePath   = flag.String("store", "", "Calibration store file")
		listen      = flag.String("listen", "", "Telemetry HTTP address")
		mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL")
		benchSocket = flag.String("bench-socket", "", "Bench control socket for the sim backend")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		_           = flag.Bool("version", false, "Print version and exit")
		_           = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "board":
			o.Backend = backend
		case "serial-port":
			o.SerialPort = serialPort
		case "serial-baud":
			o.SerialBaud = serialBaud
		case "sim-knob":
			o.SimKnob = simKnob
		case "store":
			o.StorePath = storePath
		case "listen":
			o.Listen = listen
		case "mqtt-broker":
			o.MQTTBroker = mqttBroker
		case "bench-socket":
			o.BenchSocket = benchSocket
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger := setupLogger(logLevel)
	logger.Debug("starting sensorless", "version", version)
	logger.Debug("configuration",
		"board", cfg.Board.Backend,
		"store", cfg.Store.Path,
		"listen", cfg.Telemetry.Listen,
		"mqtt", cfg.Telemetry.MQTT.Enabled,
		"poles", cfg.Motor.Poles,
		"min_rpm", cfg.Motor.MinRPM,
		"max_rpm", cfg.Motor.MaxRPM)

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.run(ctx); err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
