package board

import (
	"testing"

	"sensorless/internal/fix16"
	"sensorless/internal/sampler"
)

func collect(d *FrameDecoder, chunks ...[]byte) []sampler.Raw {
	var out []sampler.Raw
	for _, c := range chunks {
		d.Feed(c, func(r sampler.Raw) { out = append(out, r) })
	}
	return out
}

func TestFrameDecoder_SplitReads(t *testing.T) {
	var stream []byte
	want := []sampler.Raw{{Current: 1, Knob: 2}, {Current: 4095, Knob: 0}, {Current: 2048, Knob: 1234}}
	for _, r := range want {
		stream = append(stream, EncodeFrame(r)...)
	}

	var d FrameDecoder
	got := collect(&d, stream[:3], stream[3:7], stream[7:])
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if d.Skipped() != 0 {
		t.Errorf("expected no skipped bytes, got %d", d.Skipped())
	}
}

func TestFrameDecoder_ResyncsAfterGarbage(t *testing.T) {
	stream := []byte{0x00, 0x13, 0x37}
	stream = append(stream, EncodeFrame(sampler.Raw{Current: 100, Knob: 200})...)

	var d FrameDecoder
	got := collect(&d, stream)
	if len(got) != 1 || got[0].Current != 100 || got[0].Knob != 200 {
		t.Fatalf("expected one frame {100 200}, got %+v", got)
	}
	if d.Skipped() != 3 {
		t.Errorf("expected 3 skipped bytes, got %d", d.Skipped())
	}
}

func TestFrameDecoder_RejectsOutOfRangeReading(t *testing.T) {
	// A sync byte followed by an impossible 16-bit reading is not a frame.
	stream := []byte{frameSync, 0xFF, 0xFF, 0x00, 0x00}
	stream = append(stream, EncodeFrame(sampler.Raw{Current: 7, Knob: 8})...)

	var d FrameDecoder
	got := collect(&d, stream)
	if len(got) != 1 || got[0].Current != 7 {
		t.Fatalf("expected one frame after resync, got %+v", got)
	}
}

func TestFrameDecoder_KeepsPartialTail(t *testing.T) {
	frame := EncodeFrame(sampler.Raw{Current: 9, Knob: 9})

	var d FrameDecoder
	if got := collect(&d, frame[:4]); len(got) != 0 {
		t.Fatalf("expected no frame from a partial read, got %+v", got)
	}
	if got := collect(&d, frame[4:]); len(got) != 1 {
		t.Fatalf("expected the frame to complete, got %+v", got)
	}
}

func TestEncodePower(t *testing.T) {
	b := EncodePower(fix16.F(0.5))
	want := []byte{'P', 0x00, 0x80, 0x00, 0x00}
	if string(b) != string(want) {
		t.Fatalf("expected %v, got %v", want, b)
	}

	duty, ok := DecodePower(b)
	if !ok || duty != fix16.F(0.5) {
		t.Errorf("expected 0.5, got %v (ok=%v)", duty.Float64(), ok)
	}
	if _, ok := DecodePower([]byte{'X', 0, 0, 0, 0}); ok {
		t.Errorf("expected unknown command to be rejected")
	}
}
