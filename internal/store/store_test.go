package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_DefaultsForUnsetKeys(t *testing.T) {
	m := NewMemory()

	assert.Equal(t, DefaultRPMMax, m.Float32(KeyRPMMax, DefaultRPMMax))
	assert.Equal(t, uint32(0), m.Uint32(KeyCalibrationDone, 0))
	assert.Equal(t, uint32(7), m.Uint32(KeyMagnitudeNoiseThreshold, 7))
	assert.False(t, m.Has(KeyKp))
}

func TestMemory_LastWriteWins(t *testing.T) {
	m := NewMemory()

	m.SetFloat32(KeyKp, 2.5)
	m.SetFloat32(KeyKp, 3.25)
	m.SetUint32(KeyCalibrationDone, 1)

	assert.Equal(t, float32(3.25), m.Float32(KeyKp, DefaultKp))
	assert.Equal(t, uint32(1), m.Uint32(KeyCalibrationDone, 0))
}

func TestMemory_SkipsRedundantWrites(t *testing.T) {
	m := NewMemory()

	m.SetUint32(KeyMinPowerThreshold, 100)
	m.SetUint32(KeyMinPowerThreshold, 100)
	m.SetUint32(KeyMinPowerThreshold, 101)

	assert.Equal(t, 2, m.Writes())
}

func TestFile_RoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")

	f, err := OpenFile(path, nil)
	require.NoError(t, err)

	f.SetFloat32(KeyRPMMax, 28500)
	f.SetFloat32(KeyKObservers, 0.75)
	f.SetUint32(KeyCalibrationDone, 1)

	g, err := OpenFile(path, nil)
	require.NoError(t, err)

	assert.Equal(t, float32(28500), g.Float32(KeyRPMMax, DefaultRPMMax))
	assert.Equal(t, float32(0.75), g.Float32(KeyKObservers, DefaultKObservers))
	assert.Equal(t, uint32(1), g.Uint32(KeyCalibrationDone, 0))
	assert.Equal(t, DefaultKp, g.Float32(KeyKp, DefaultKp))
}

func TestFile_MissingFileIsEmpty(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Empty(t, f.Snapshot())
}

func TestFile_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nentries: []\nbogus: true\n"), 0o644))

	_, err := OpenFile(path, nil)
	assert.Error(t, err)
}

func TestFile_RejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 9\nentries: []\n"), 0o644))

	_, err := OpenFile(path, nil)
	assert.Error(t, err)
}

func TestFile_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "store.yaml"), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		f.SetUint32(KeyMagnitudeNoiseThreshold, uint32(i))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "store.yaml", entries[0].Name())
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("adrc_kp")
	require.NoError(t, err)
	assert.Equal(t, KeyKp, k)

	k, err = ParseKey("2")
	require.NoError(t, err)
	assert.Equal(t, KeyCalibrationDone, k)

	_, err = ParseKey("nope")
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "1", FormatValue(KeyCalibrationDone, 1))
	assert.Equal(t, "0.5", FormatValue(KeyKp, 0x3F000000))
}

func TestParseValue(t *testing.T) {
	raw, err := ParseValue(KeyKp, "0.5")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x3F000000), raw)

	raw, err = ParseValue(KeyMagnitudeNoiseThreshold, "700")
	require.NoError(t, err)
	assert.Equal(t, uint32(700), raw)

	_, err = ParseValue(KeyCalibrationDone, "-1")
	assert.Error(t, err)
	_, err = ParseValue(KeyRPMMax, "fast")
	assert.Error(t, err)
}

func TestFile_PutCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.yaml")
	f, err := OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, f.Put(KeyCalibrationDone, 1))

	again, err := OpenFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), again.Uint32(KeyCalibrationDone, 0))
}
