package board

import (
	"errors"
	"testing"

	"sensorless/internal/fix16"
)

type recordingWriter struct {
	writes []fix16.Fix16
	err    error
}

func (w *recordingWriter) WritePower(d fix16.Fix16) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, d)
	return nil
}

func TestOutput_ClampsAndSuppressesRepeats(t *testing.T) {
	w := &recordingWriter{}
	o := NewOutput(w, nil)

	o.SetPower(fix16.F(1.5))
	o.SetPower(fix16.One)
	o.SetPower(fix16.F(-0.2))
	o.SetPower(0)
	o.SetPower(fix16.F(0.3))

	want := []fix16.Fix16{fix16.One, 0, fix16.F(0.3)}
	if len(w.writes) != len(want) {
		t.Fatalf("expected %d writes, got %d (%v)", len(want), len(w.writes), w.writes)
	}
	for i := range want {
		if w.writes[i] != want[i] {
			t.Errorf("write %d: expected %v, got %v", i, want[i].Float64(), w.writes[i].Float64())
		}
	}
	if o.Writes() != 3 {
		t.Errorf("expected 3 counted writes, got %d", o.Writes())
	}
}

func TestOutput_RetriesAfterFailure(t *testing.T) {
	w := &recordingWriter{err: errors.New("port gone")}
	o := NewOutput(w, nil)

	o.SetPower(fix16.F(0.4))
	o.SetPower(fix16.F(0.4))
	if o.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", o.Failures())
	}
	if _, ok := o.Last(); ok {
		t.Fatalf("expected no duty to have reached the power stage")
	}

	// The same value is written again once the stage is back.
	w.err = nil
	o.SetPower(fix16.F(0.4))
	if len(w.writes) != 1 || w.writes[0] != fix16.F(0.4) {
		t.Fatalf("expected one successful write of 0.4, got %v", w.writes)
	}
	if last, ok := o.Last(); !ok || last != fix16.F(0.4) {
		t.Errorf("expected last 0.4, got %v (ok=%v)", last.Float64(), ok)
	}
}
