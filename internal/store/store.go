// Package store holds the persisted controller configuration: a small
// key/value space of 32-bit words addressed by integer keys.
//
// Readers pass a default that is returned for keys never written. Writers
// never see an error: backends either commit a value completely or keep the
// previous one, and report failures through their own logger.
package store

import (
	"fmt"
	"math"
)

// Key identifies one persisted value.
type Key uint8

const (
	KeyRPMMax                  Key = 1
	KeyCalibrationDone         Key = 2
	KeyMagnitudeNoiseThreshold Key = 3
	KeyMinPowerThreshold       Key = 4
	KeyKp                      Key = 5
	KeyKObservers              Key = 6
	KeyPCorrCoeff              Key = 7
)

// Defaults for keys read as floats.
const (
	DefaultRPMMax     float32 = 30000.0
	DefaultKp         float32 = 1.0
	DefaultKObservers float32 = 1.0
	DefaultPCorrCoeff float32 = 0.0
)

var keyNames = map[Key]string{
	KeyRPMMax:                  "rpm_max",
	KeyCalibrationDone:         "calibration_done",
	KeyMagnitudeNoiseThreshold: "magnitude_noise_threshold",
	KeyMinPowerThreshold:       "min_power_threshold",
	KeyKp:                      "adrc_kp",
	KeyKObservers:              "adrc_kobservers",
	KeyPCorrCoeff:              "adrc_p_corr_coeff",
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("key_%d", uint8(k))
}

// IsFloat reports whether the key holds an IEEE-754 value.
func (k Key) IsFloat() bool {
	switch k {
	case KeyRPMMax, KeyKp, KeyKObservers, KeyPCorrCoeff:
		return true
	}
	return false
}

// Keys lists all known keys in ascending order.
func Keys() []Key {
	return []Key{
		KeyRPMMax,
		KeyCalibrationDone,
		KeyMagnitudeNoiseThreshold,
		KeyMinPowerThreshold,
		KeyKp,
		KeyKObservers,
		KeyPCorrCoeff,
	}
}

// ParseKey accepts a key name or its number.
func ParseKey(s string) (Key, error) {
	for k, name := range keyNames {
		if name == s {
			return k, nil
		}
	}
	var n uint8
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		if _, ok := keyNames[Key(n)]; ok {
			return Key(n), nil
		}
	}
	return 0, fmt.Errorf("unknown store key %q", s)
}

// Store is the persisted configuration contract used by the controller.
type Store interface {
	Uint32(key Key, def uint32) uint32
	SetUint32(key Key, v uint32)
	Float32(key Key, def float32) float32
	SetFloat32(key Key, v float32)
}

// words is the shared 32-bit word backend used by Memory and File.
type words interface {
	load(key Key) (uint32, bool)
	save(key Key, v uint32)
}

func readUint32(w words, key Key, def uint32) uint32 {
	if v, ok := w.load(key); ok {
		return v
	}
	return def
}

func readFloat32(w words, key Key, def float32) float32 {
	if v, ok := w.load(key); ok {
		return math.Float32frombits(v)
	}
	return def
}
