package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sensorless/internal/controller"
)

const namespace = "sensorless"

// Metrics mirrors the latest snapshot into Prometheus gauges on a private
// registry.
type Metrics struct {
	reg *prometheus.Registry

	frequency  prometheus.Gauge
	rpm        prometheus.Gauge
	magnitude  prometheus.Gauge
	setpoint   prometheus.Gauge
	power      prometheus.Gauge
	estimate   prometheus.Gauge
	disturb    prometheus.Gauge
	enabled    prometheus.Gauge
	calibrate  prometheus.Gauge
	calibrated prometheus.Gauge
	measures   prometheus.Gauge
	dropped    prometheus.Gauge
	phase      *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Metrics{
		reg:        prometheus.NewRegistry(),
		frequency:  gauge("frequency_hz", "Dominant current frequency from the last measurement."),
		rpm:        gauge("speed_rpm", "Motor speed derived from the dominant frequency."),
		magnitude:  gauge("magnitude2", "Squared magnitude of the dominant bin."),
		setpoint:   gauge("setpoint", "Normalised speed setpoint."),
		power:      gauge("power", "Last commanded triac duty."),
		estimate:   gauge("speed_estimate", "Observer speed estimate."),
		disturb:    gauge("disturbance", "Observer disturbance estimate."),
		enabled:    gauge("regulator_enabled", "1 while the regulator drives the output."),
		calibrate:  gauge("calibrating", "1 while calibration owns the output."),
		calibrated: gauge("calibration_done", "1 once calibration data is stored."),
		measures:   gauge("measurements", "Completed speed measurements since start."),
		dropped:    gauge("dropped_samples", "Samples discarded as stale."),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_step",
			Help:      "Current calibration step, 1 for the active label.",
		}, []string{"step"}),
	}
	m.reg.MustRegister(
		m.frequency, m.rpm, m.magnitude, m.setpoint, m.power, m.estimate, m.disturb,
		m.enabled, m.calibrate, m.calibrated, m.measures, m.dropped, m.phase,
	)
	return m
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *Metrics) Publish(s controller.Snapshot) error {
	m.frequency.Set(float64(s.FrequencyHz))
	m.rpm.Set(float64(s.RPM))
	m.magnitude.Set(float64(s.Magnitude2))
	m.setpoint.Set(float64(s.Setpoint))
	m.power.Set(float64(s.Power))
	m.estimate.Set(float64(s.SpeedEstimate))
	m.disturb.Set(float64(s.Disturbance))
	m.enabled.Set(boolGauge(s.RegulatorEnabled))
	m.calibrate.Set(boolGauge(s.Calibrating))
	m.calibrated.Set(boolGauge(s.CalibrationDone))
	m.measures.Set(float64(s.Measurements))
	m.dropped.Set(float64(s.DroppedSamples))

	m.phase.Reset()
	if s.Phase != "" {
		m.phase.WithLabelValues(s.Phase).Set(1)
	}
	return nil
}

func (m *Metrics) Close() error { return nil }

// Register mounts the scrape endpoint on mux.
func (m *Metrics) Register(mux *http.ServeMux, path string) {
	mux.Handle(path, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}
