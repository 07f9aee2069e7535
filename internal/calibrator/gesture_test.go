package calibrator

import (
	"testing"

	"sensorless/internal/fix16"
)

type segment struct {
	high bool
	ms   uint32
}

// playGesture feeds the knob pattern at 10 ms resolution and returns the
// times at which the gesture completed.
func playGesture(g *gesture, segs []segment) []uint32 {
	var hits []uint32
	var now uint32
	for _, s := range segs {
		knob := fix16.Fix16(0)
		if s.high {
			knob = fix16.F(0.5)
		}
		for t := uint32(0); t < s.ms; t += 10 {
			if g.tick(now, knob) {
				hits = append(hits, now)
			}
			now += 10
		}
	}
	return hits
}

func dials(n int, high, low uint32) []segment {
	var out []segment
	for i := 0; i < n; i++ {
		out = append(out, segment{true, high}, segment{false, low})
	}
	return out
}

func TestGesture_ThreeDialsComplete(t *testing.T) {
	g := newGesture(DefaultConfig())
	segs := append([]segment{{false, 300}}, dials(3, 400, 400)...)

	hits := playGesture(&g, segs)
	if len(hits) != 1 {
		t.Fatalf("expected 1 completion, got %d (%v)", len(hits), hits)
	}
	// The third high interval ends at 300 + 400*5 ms.
	if hits[0] != 2300 {
		t.Errorf("expected completion at 2300ms, got %d", hits[0])
	}
}

func TestGesture_Rejects(t *testing.T) {
	tests := []struct {
		name string
		segs []segment
	}{
		{
			name: "rest too short",
			segs: append([]segment{{false, 100}}, dials(3, 400, 400)...),
		},
		{
			name: "high interval too long",
			segs: append([]segment{{false, 300}, {true, 1200}, {false, 400}}, dials(2, 400, 400)...),
		},
		{
			name: "high interval too short",
			segs: append([]segment{{false, 300}, {true, 100}, {false, 400}}, dials(2, 400, 400)...),
		},
		{
			name: "low interval too long",
			segs: []segment{{false, 300}, {true, 400}, {false, 1500}, {true, 400}, {false, 400}, {true, 400}, {false, 50}},
		},
		{
			name: "only two dials",
			segs: append([]segment{{false, 300}}, dials(2, 400, 400)...),
		},
		{
			name: "knob never low",
			segs: []segment{{true, 5000}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGesture(DefaultConfig())
			if hits := playGesture(&g, tt.segs); len(hits) != 0 {
				t.Errorf("expected no completion, got %v", hits)
			}
		})
	}
}

func TestGesture_RearmsAfterCompletion(t *testing.T) {
	g := newGesture(DefaultConfig())
	once := append([]segment{{false, 300}}, dials(3, 400, 400)...)
	segs := append(append([]segment{}, once...), once...)

	hits := playGesture(&g, segs)
	if len(hits) != 2 {
		t.Fatalf("expected 2 completions, got %d (%v)", len(hits), hits)
	}
}

func TestGesture_BelowThresholdIsLow(t *testing.T) {
	g := newGesture(DefaultConfig())
	// Wiggles under 5% of the knob are not dials.
	var now uint32
	for i := 0; i < 400; i++ {
		knob := fix16.F(0.04)
		if (i/40)%2 == 0 {
			knob = 0
		}
		if g.tick(now, knob) {
			t.Fatalf("expected no completion at %dms", now)
		}
		now += 10
	}
}
