// Package gatt implements the binary wire formats of the standard GATT
// characteristics the session engine consumes: Heart Rate Measurement
// (0x2A37) and Battery Level (0x2A19).
//
// All functions are pure: no I/O, no hidden state, deterministic for a
// given input. The capture timestamp is passed in by the caller so that
// decoding stays reproducible in tests.
package gatt

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Heart Rate Measurement flags field, per the Heart Rate Service spec.
//
//	| 0x10 | 0x08 | 0x04  0x02 | 0x01 |
//	|  rr  | nrg  |  scs   cnt |  fmt |
const (
	flagHR16Bit          = 0x01 // heart rate value is uint16 LE, uint8 otherwise
	flagContactDetected  = 0x02 // meaningful only when contact is supported
	flagContactSupported = 0x04
	flagEnergyExpended   = 0x08 // uint16 LE cumulative kJ follows
	flagRRPresent        = 0x10 // uint16 LE RR intervals consume the remainder
)

// rrUnit is the resolution of an RR-interval value: 1/1024 of a second.
const rrUnit = time.Second / 1024

// Measurement is one decoded Heart Rate Measurement notification.
type Measurement struct {
	Timestamp        time.Time
	BPM              uint16
	ContactSupported bool
	ContactDetected  bool
	EnergyExpended   *uint16         // cumulative kJ, nil when not transmitted
	RRIntervals      []time.Duration // empty iff the RR flag is clear
}

// DecodeErrorKind classifies wire-format decode failures.
type DecodeErrorKind string

const (
	// Truncated means the payload ended before the fields implied by its
	// own flags byte were complete.
	Truncated DecodeErrorKind = "truncated"
	// Malformed means the payload shape contradicts the flags byte in a
	// way that is not a simple truncation.
	Malformed DecodeErrorKind = "malformed"
)

// DecodeError reports a payload that could not be decoded.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare DecodeError values by Kind.
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel decode errors for errors.Is checks.
var (
	ErrTruncated = &DecodeError{Kind: Truncated}
	ErrMalformed = &DecodeError{Kind: Malformed}
)

func truncated(format string, args ...interface{}) error {
	return &DecodeError{Kind: Truncated, Msg: fmt.Sprintf(format, args...)}
}

func malformed(format string, args ...interface{}) error {
	return &DecodeError{Kind: Malformed, Msg: fmt.Sprintf(format, args...)}
}

// DecodeHeartRate decodes a Heart Rate Measurement payload captured at the
// given instant. The decode consumes exactly the bytes the flags byte
// implies: a payload that ends early is Truncated, trailing garbage or an
// odd RR remainder is Malformed. A failed decode never yields a partial
// Measurement.
func DecodeHeartRate(data []byte, at time.Time) (Measurement, error) {
	if len(data) == 0 {
		return Measurement{}, truncated("empty payload")
	}

	flags := data[0]
	offset := 1

	m := Measurement{
		Timestamp:        at,
		ContactSupported: flags&flagContactSupported != 0,
		ContactDetected:  flags&flagContactSupported != 0 && flags&flagContactDetected != 0,
	}

	if flags&flagHR16Bit != 0 {
		if len(data) < offset+2 {
			return Measurement{}, truncated("flags 0x%02x imply 16-bit heart rate, payload is %d bytes", flags, len(data))
		}
		m.BPM = binary.LittleEndian.Uint16(data[offset:])
		offset += 2
	} else {
		if len(data) < offset+1 {
			return Measurement{}, truncated("flags 0x%02x imply 8-bit heart rate, payload is %d bytes", flags, len(data))
		}
		m.BPM = uint16(data[offset])
		offset++
	}

	if flags&flagEnergyExpended != 0 {
		if len(data) < offset+2 {
			return Measurement{}, truncated("flags 0x%02x imply energy expended, payload ends at %d bytes", flags, len(data))
		}
		energy := binary.LittleEndian.Uint16(data[offset:])
		m.EnergyExpended = &energy
		offset += 2
	}

	if flags&flagRRPresent != 0 {
		// An empty RR tail is tolerated: some straps set the RR flag on
		// notifications that carry no interval, e.g. right after contact
		// is regained.
		rest := data[offset:]
		if len(rest)%2 != 0 {
			return Measurement{}, malformed("RR interval remainder is %d bytes, not a multiple of 2", len(rest))
		}
		m.RRIntervals = make([]time.Duration, 0, len(rest)/2)
		for i := 0; i < len(rest); i += 2 {
			m.RRIntervals = append(m.RRIntervals, time.Duration(binary.LittleEndian.Uint16(rest[i:]))*rrUnit)
		}
	} else if offset != len(data) {
		return Measurement{}, malformed("%d trailing bytes after flags 0x%02x fields", len(data)-offset, flags)
	}

	return m, nil
}

// EncodeHeartRate encodes a Measurement into its canonical wire form: the
// 16-bit heart rate format is used only when the value does not fit in one
// byte, the contact-detected bit is set only when contact is supported, and
// optional fields appear iff they are present in the Measurement.
func EncodeHeartRate(m Measurement) []byte {
	var flags byte
	if m.BPM > 0xff {
		flags |= flagHR16Bit
	}
	if m.ContactSupported {
		flags |= flagContactSupported
		if m.ContactDetected {
			flags |= flagContactDetected
		}
	}
	if m.EnergyExpended != nil {
		flags |= flagEnergyExpended
	}
	if len(m.RRIntervals) > 0 {
		flags |= flagRRPresent
	}

	buf := make([]byte, 0, 1+2+2+2*len(m.RRIntervals))
	buf = append(buf, flags)
	if flags&flagHR16Bit != 0 {
		buf = binary.LittleEndian.AppendUint16(buf, m.BPM)
	} else {
		buf = append(buf, byte(m.BPM))
	}
	if m.EnergyExpended != nil {
		buf = binary.LittleEndian.AppendUint16(buf, *m.EnergyExpended)
	}
	for _, rr := range m.RRIntervals {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(rr/rrUnit))
	}
	return buf
}
