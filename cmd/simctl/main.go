package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"sensorless/internal/bench"
)

// ============================================================================
// simctl - bench control for the simulated motor
// ============================================================================
// Talks to a daemon started with -board sim -bench-socket PATH.
//
// Usage:
//   simctl knob 0.5
//   simctl load 0.8
//   simctl gesture [-dials 3] [-hold-ms 400] [-level 0.5]
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/sensorless-bench.sock)
// ============================================================================

const defaultSocket = "/tmp/sensorless-bench.sock"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, bench.Send))
}

type sender func(socketPath string, cmd bench.Command) error

func run(args []string, stdout, stderr io.Writer, send sender) int {
	socketPath := defaultSocket

	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(stderr, "error: -socket requires an argument\n")
			return 1
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}

	cmd, err := parseCommand(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if cmd == nil {
		printUsage(stdout)
		return 0
	}

	if err := send(socketPath, *cmd); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

// parseCommand returns nil for help.
func parseCommand(args []string, stderr io.Writer) (*bench.Command, error) {
	var (
		typ  string
		data any
	)

	switch args[0] {
	case "knob":
		v, err := floatArg(args, "knob requires a value in [0, 1]")
		if err != nil {
			return nil, err
		}
		typ, data = bench.TypeKnob, bench.KnobData{Value: v}

	case "load":
		f, err := floatArg(args, "load requires a factor (1 = unloaded)")
		if err != nil {
			return nil, err
		}
		typ, data = bench.TypeLoad, bench.LoadData{Factor: f}

	case "gesture":
		fs := flag.NewFlagSet("gesture", flag.ContinueOnError)
		fs.SetOutput(stderr)
		dials := fs.Int("dials", 0, "Number of dials (default 3)")
		holdMs := fs.Int("hold-ms", 0, "Hold time of each position in ms (default 400)")
		level := fs.Float64("level", 0, "Knob level of the high positions (default 0.5)")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		typ, data = bench.TypeGesture, bench.GestureData{Dials: *dials, HoldMs: *holdMs, Level: *level}

	case "help", "-h", "--help":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}

	cmd, err := bench.NewCommand(typ, data)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func floatArg(args []string, missing string) (float64, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s", missing)
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	return v, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `simctl - bench control for the sensorless simulator

Usage:
  simctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  knob VALUE              Set the knob to VALUE in [0, 1]
  load FACTOR             Scale the reachable speed (1 = unloaded)
  gesture [flags]         Play the calibration gesture
      -dials N            Number of dials (default 3)
      -hold-ms MS         Hold time of each position (default 400)
      -level VALUE        High knob position (default 0.5)
  help, -h, --help        Show this help message

Examples:
  simctl knob 0.6
  simctl gesture
  simctl -socket /run/sensorless-bench.sock load 0.7
`, defaultSocket)
}
