package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"sensorless/internal/store"
)

// ============================================================================
// storectl - calibration store inspector
// ============================================================================
// Usage:
//   storectl dump
//   storectl get adrc_kp
//   storectl set calibration_done 0
//
// Options:
//   -store PATH    Store file (default: ~/.config/sensorless/calibration.yaml)
// ============================================================================

const defaultStorePath = "~/.config/sensorless/calibration.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	storePath := defaultStorePath

	if len(args) > 0 && (args[0] == "-store" || args[0] == "--store") {
		if len(args) < 2 {
			fmt.Fprintf(stderr, "error: -store requires an argument\n")
			return 1
		}
		storePath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch args[0] {
	case "dump", "ls":
		st, err := store.OpenFile(expandPath(storePath), logger)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		dump(stdout, st.Snapshot())

	case "get":
		if len(args) < 2 {
			fmt.Fprintf(stderr, "error: get requires a key\n")
			return 1
		}
		k, err := store.ParseKey(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		st, err := store.OpenFile(expandPath(storePath), logger)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		raw, ok := st.Snapshot()[k]
		if !ok {
			fmt.Fprintf(stderr, "error: %s is not set\n", k)
			return 1
		}
		fmt.Fprintln(stdout, store.FormatValue(k, raw))

	case "set":
		if len(args) < 3 {
			fmt.Fprintf(stderr, "error: set requires a key and a value\n")
			return 1
		}
		k, err := store.ParseKey(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		raw, err := store.ParseValue(k, args[2])
		if err != nil {
			fmt.Fprintf(stderr, "error: invalid value: %v\n", err)
			return 1
		}
		st, err := store.OpenFile(expandPath(storePath), logger)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		if err := st.Put(k, raw); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "ok")

	case "help", "-h", "--help":
		printUsage(stdout)

	default:
		fmt.Fprintf(stderr, "error: unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
	return 0
}

func dump(w io.Writer, values map[store.Key]uint32) {
	for _, k := range store.Keys() {
		raw, ok := values[k]
		if !ok {
			fmt.Fprintf(w, "%d %-26s -\n", uint8(k), k)
			continue
		}
		fmt.Fprintf(w, "%d %-26s %s (raw 0x%08X)\n", uint8(k), k, store.FormatValue(k, raw), raw)
	}
}

func expandPath(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + p[1:]
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "storectl - sensorless calibration store inspector")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  storectl [-store PATH] COMMAND")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  dump              Print every known key")
	fmt.Fprintln(w, "  get KEY           Print one key")
	fmt.Fprintln(w, "  set KEY VALUE     Write one key")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "KEYS:")
	for _, k := range store.Keys() {
		kind := "u32"
		if k.IsFloat() {
			kind = "f32"
		}
		fmt.Fprintf(w, "  %d %-26s %s\n", uint8(k), k, kind)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  # Force recalibration on next boot")
	fmt.Fprintln(w, "  storectl set calibration_done 0")
}
