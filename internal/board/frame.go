package board

import (
	"bytes"
	"encoding/binary"

	"sensorless/internal/fix16"
	"sensorless/internal/sampler"
)

// Wire format shared by the serial bridge and the sample device.
//
//	sample frame:  0xA5, current u16 LE, knob u16 LE
//	power command: 'P', duty u32 LE (raw Q16.16)
const (
	frameSync byte = 0xA5
	powerCmd  byte = 'P'
)

const (
	adcMax     = 4095
	maxPending = 4096
)

type sampleFrame struct {
	Sync    uint8
	Current uint16
	Knob    uint16
}

var frameSize = binary.Size(sampleFrame{})

// FrameDecoder splits a byte stream into sample frames. Garbage and frames
// with out-of-range readings are skipped a byte at a time until the stream
// is back in sync.
type FrameDecoder struct {
	pending []byte
	reader  *bytes.Reader
	skipped uint64
}

// Feed consumes p and calls emit for every complete frame.
func (d *FrameDecoder) Feed(p []byte, emit func(sampler.Raw)) {
	if d.reader == nil {
		d.reader = bytes.NewReader(nil)
	}
	d.pending = append(d.pending, p...)

	buf := d.pending
	for len(buf) >= frameSize {
		if buf[0] != frameSync {
			buf = buf[1:]
			d.skipped++
			continue
		}

		d.reader.Reset(buf[:frameSize])
		var f sampleFrame
		if err := binary.Read(d.reader, binary.LittleEndian, &f); err != nil || f.Current > adcMax || f.Knob > adcMax {
			buf = buf[1:]
			d.skipped++
			continue
		}

		emit(sampler.Raw{Current: f.Current, Knob: f.Knob})
		buf = buf[frameSize:]
	}

	// Keep the tail for the next read, compacted to the front.
	if len(buf) > maxPending {
		d.skipped += uint64(len(buf) - frameSize)
		buf = buf[len(buf)-frameSize:]
	}
	d.pending = append(d.pending[:0], buf...)
}

// Skipped returns the number of bytes discarded while resyncing.
func (d *FrameDecoder) Skipped() uint64 { return d.skipped }

// EncodeFrame is the inverse of FrameDecoder, used by bridges and tests.
func EncodeFrame(r sampler.Raw) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, sampleFrame{Sync: frameSync, Current: r.Current, Knob: r.Knob})
	return b.Bytes()
}

// EncodePower builds the power command for duty.
func EncodePower(duty fix16.Fix16) []byte {
	out := make([]byte, 5)
	out[0] = powerCmd
	binary.LittleEndian.PutUint32(out[1:], uint32(duty))
	return out
}

// DecodePower parses a power command.
func DecodePower(p []byte) (fix16.Fix16, bool) {
	if len(p) != 5 || p[0] != powerCmd {
		return 0, false
	}
	return fix16.Fix16(binary.LittleEndian.Uint32(p[1:])), true
}
