// Package favero decodes and builds the wire records emitted by Favero
// FA-05 style fencing scoring machines over their serial line.
package favero

import (
	"errors"
	"fmt"
	"strings"
)

/*
FA-05 Telemetry Record Structure

The scoring machine emits one fixed-size 10-byte record roughly once per
second over a 9600 8N1 serial line. Every record carries the complete
observable match state; there is no delta encoding and no sequencing.

RECORD STRUCTURE (10 bytes total):
├── Byte 0: start marker (0xFF)
├── Byte 1: right fencer score
├── Byte 2: left fencer score
├── Byte 3: match clock seconds component
├── Byte 4: match clock minutes component
├── Byte 5: indicator lights bitfield (see Light* constants)
├── Byte 6: match number
├── Byte 7: reserved
├── Byte 8: penalty card flags
└── Byte 9: checksum - sum of bytes 0..8 modulo 256

A record that fails the length, marker, or checksum check is rejected
outright; there is no partial decode. Decoding is pure and never logs -
the transport layer decides whether a rejection is worth reporting.
*/

// Wire format constants.
const (
	// RecordLen is the fixed length of one telemetry record.
	RecordLen = 10

	// StartMarker is the value of byte 0 in every valid record.
	StartMarker = 0xFF
)

// Indicator light bits carried in byte 5 of the record. Bits 6 and 7 are
// reserved by the apparatus and ignored.
const (
	LightLeftOffTarget  = 1 << 0 // left white light
	LightRightOffTarget = 1 << 1 // right white light
	LightLeftHit        = 1 << 2 // left valid hit (red)
	LightRightHit       = 1 << 3 // right valid hit (green)
	LightRightCaution   = 1 << 4 // right yellow card
	LightLeftCaution    = 1 << 5 // left yellow card
)

// Decode rejection causes. Callers that silently discard bad records can
// still distinguish causes with errors.Is for counters and tests.
var (
	ErrLength   = errors.New("favero: record length mismatch")
	ErrMarker   = errors.New("favero: missing start marker")
	ErrChecksum = errors.New("favero: checksum mismatch")
)

// Snapshot is the decoded state of one telemetry record. It is a plain
// comparable value: two snapshots are equal iff every field matches, which
// is how repeated telemetry is de-duplicated upstream.
type Snapshot struct {
	RightScore   uint8
	LeftScore    uint8
	ClockSeconds uint8
	ClockMinutes uint8
	Lights       uint8
	MatchNumber  uint8
	Penalties    uint8
}

// Decode validates a raw record and returns its Snapshot. The returned
// error is one of ErrLength, ErrMarker or ErrChecksum (wrapped with
// detail); the Snapshot is the zero value on rejection.
func Decode(record []byte) (Snapshot, error) {
	if len(record) != RecordLen {
		return Snapshot{}, fmt.Errorf("%w: got %d bytes", ErrLength, len(record))
	}
	if record[0] != StartMarker {
		return Snapshot{}, fmt.Errorf("%w: byte 0 = 0x%02X", ErrMarker, record[0])
	}
	if sum := Checksum(record[:RecordLen-1]); sum != record[RecordLen-1] {
		return Snapshot{}, fmt.Errorf("%w: computed 0x%02X, record carries 0x%02X", ErrChecksum, sum, record[RecordLen-1])
	}

	return Snapshot{
		RightScore:   record[1],
		LeftScore:    record[2],
		ClockSeconds: record[3],
		ClockMinutes: record[4],
		Lights:       record[5],
		MatchNumber:  record[6],
		Penalties:    record[8],
	}, nil
}

// Checksum computes the additive checksum over payload bytes: the sum of
// all bytes modulo 256.
func Checksum(payload []byte) byte {
	var sum int
	for _, b := range payload {
		sum += int(b)
	}
	return byte(sum % 256)
}

// MarshalRecord builds the wire record for s, including marker and
// checksum, such that Decode(s.MarshalRecord()) returns s. The reserved
// byte 7 is emitted as zero.
func (s Snapshot) MarshalRecord() []byte {
	record := make([]byte, RecordLen)
	record[0] = StartMarker
	record[1] = s.RightScore
	record[2] = s.LeftScore
	record[3] = s.ClockSeconds
	record[4] = s.ClockMinutes
	record[5] = s.Lights
	record[6] = s.MatchNumber
	record[8] = s.Penalties
	record[9] = Checksum(record[:RecordLen-1])
	return record
}

// Clock returns the combined match clock in seconds.
func (s Snapshot) Clock() uint16 {
	return uint16(s.ClockMinutes)*60 + uint16(s.ClockSeconds)
}

// ClockString formats the match clock as M:SS.
func (s Snapshot) ClockString() string {
	return fmt.Sprintf("%d:%02d", s.ClockMinutes, s.ClockSeconds)
}

// HitDetected reports whether either valid-hit light is lit.
func (s Snapshot) HitDetected() bool {
	return s.Lights&(LightLeftHit|LightRightHit) != 0
}

// LightNames returns the lit indicators as a human-readable list, e.g.
// "RED, Left Off-target". Empty string when no light is lit.
func (s Snapshot) LightNames() string {
	var names []string
	if s.Lights&LightLeftHit != 0 {
		names = append(names, "RED")
	}
	if s.Lights&LightRightHit != 0 {
		names = append(names, "GREEN")
	}
	if s.Lights&LightLeftOffTarget != 0 {
		names = append(names, "Left Off-target")
	}
	if s.Lights&LightRightOffTarget != 0 {
		names = append(names, "Right Off-target")
	}
	if s.Lights&LightRightCaution != 0 {
		names = append(names, "Right Yellow")
	}
	if s.Lights&LightLeftCaution != 0 {
		names = append(names, "Left Yellow")
	}
	return strings.Join(names, ", ")
}

// String renders the snapshot for logs: scores, clock, match and lights.
func (s Snapshot) String() string {
	out := fmt.Sprintf("match %d L%d-R%d @ %s", s.MatchNumber, s.LeftScore, s.RightScore, s.ClockString())
	if lights := s.LightNames(); lights != "" {
		out += " [" + lights + "]"
	}
	return out
}
