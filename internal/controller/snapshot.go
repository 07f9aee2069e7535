package controller

import "time"

// Snapshot is a read-only copy of the core state for status sinks.
type Snapshot struct {
	TS time.Time `json:"ts"`

	FrequencyHz uint32 `json:"frequency_hz"`
	RPM         uint32 `json:"rpm"`
	Magnitude2  uint32 `json:"magnitude2"`

	Setpoint      float32 `json:"setpoint"`
	Power         float32 `json:"power"`
	SpeedEstimate float32 `json:"speed_estimate"`
	Disturbance   float32 `json:"disturbance"`

	RegulatorEnabled bool   `json:"regulator_enabled"`
	Calibrating      bool   `json:"calibrating"`
	CalibrationDone  bool   `json:"calibration_done"`
	Phase            string `json:"phase"`

	Measurements   uint64 `json:"measurements"`
	DroppedSamples uint64 `json:"dropped_samples"`
}

// Snapshot copies the current state. Main loop only.
func (c *Controller) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		TS:               now,
		FrequencyHz:      c.meter.Frequency,
		RPM:              c.meter.RPM(c.cfg.Regulator.Poles),
		Magnitude2:       c.meter.Magnitude2,
		Setpoint:         c.regulator.Setpoint.Float32(),
		Power:            c.out.last.Float32(),
		SpeedEstimate:    c.regulator.Estimate().Float32(),
		Disturbance:      c.regulator.Disturbance().Float32(),
		RegulatorEnabled: c.regulator.Enabled(),
		Calibrating:      c.calibrator.Active,
		CalibrationDone:  c.calibrator.Done,
		Phase:            c.calibrator.Step(),
		Measurements:     c.measurements,
		DroppedSamples:   c.sampler.Dropped() + c.staleDropped,
	}
}
