// Package advert locates the environmental sensing service data in raw BLE
// advertisements and decodes the readings carried by Xiaomi thermometers
// running the custom 0x181A firmware.
package advert

import (
	"encoding/binary"
	"log/slog"
)

const (
	// ServiceDataType is the AD type "Service Data - 16-bit UUID"
	ServiceDataType = 0x16
	// EnvironmentalSensing is the 16-bit service UUID the sensor broadcasts
	EnvironmentalSensing uint16 = 0x181A

	// length byte, type byte and two UUID bytes, plus at least one data byte
	minServiceRecordSize = 5
	// records of this size or shorter do not carry a sensor frame
	maxShortFrameSize = 18

	// Offsets are counted from the start of the whole advertisement.
	temperatureOffset = 10
	humidityOffset    = 12
)

// Outcome describes what OnAdvertisement did with a payload
type Outcome int

const (
	OutcomeNoServiceData Outcome = iota
	OutcomeMalformed
	OutcomeShortFrame
	OutcomeDecoded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoServiceData:
		return "no_service_data"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeShortFrame:
		return "short_frame"
	case OutcomeDecoded:
		return "decoded"
	}
	return "unknown"
}

// Setter receives decoded readings
type Setter interface {
	SetValue(v float64)
}

// FindServiceData walks the AD structures in the first length bytes of buf
// and returns the record carrying 0x181A service data, including its length
// byte, together with the record size. The returned slice aliases buf.
// A record that runs past length stops the walk.
func FindServiceData(buf []byte, length int) ([]byte, int, bool) {
	record, status := findServiceData(buf, length)
	if status != OutcomeDecoded {
		return nil, 0, false
	}
	return record, len(record), true
}

func findServiceData(buf []byte, length int) ([]byte, Outcome) {
	if length > len(buf) {
		length = len(buf)
	}
	pos := 0
	for pos < length {
		size := int(buf[pos]) + 1
		if size > length-pos {
			return nil, OutcomeMalformed
		}
		if size >= minServiceRecordSize &&
			buf[pos+1] == ServiceDataType &&
			binary.LittleEndian.Uint16(buf[pos+2:pos+4]) == EnvironmentalSensing {
			return buf[pos : pos+size], OutcomeDecoded
		}
		pos += size
	}
	return nil, OutcomeNoServiceData
}

// Option configures a Scanner
type Option func(*Scanner)

// WithHumidity also decodes relative humidity into h
func WithHumidity(h Setter) Option {
	return func(s *Scanner) {
		s.humidity = h
	}
}

// WithLogger sets the logger used for discarded advertisements
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// Scanner decodes sensor advertisements into a temperature sink.
// It keeps no state between calls.
type Scanner struct {
	temperature Setter
	humidity    Setter
	logger      *slog.Logger
}

// NewScanner returns a Scanner pushing temperatures into t
func NewScanner(t Setter, opts ...Option) *Scanner {
	s := &Scanner{
		temperature: t,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnAdvertisement scans the first length bytes of buf and, when they carry a
// full sensor frame, updates the sinks. Every other payload is dropped
// without touching them.
func (s *Scanner) OnAdvertisement(buf []byte, length int) Outcome {
	if length > len(buf) {
		length = len(buf)
	}
	record, outcome := findServiceData(buf, length)
	if outcome != OutcomeDecoded {
		s.logger.Debug("Discarding advertisement", "reason", outcome.String(), "length", length)
		return outcome
	}
	if len(record) <= maxShortFrameSize {
		s.logger.Debug("Discarding short service data", "recordSize", len(record))
		return OutcomeShortFrame
	}

	// A record longer than 18 bytes inside length guarantees the fixed
	// offsets below are in range.
	t := float64(int16(binary.LittleEndian.Uint16(buf[temperatureOffset:]))) / 100.0
	s.temperature.SetValue(t)

	if s.humidity != nil {
		h := float64(binary.LittleEndian.Uint16(buf[humidityOffset:])) / 100.0
		s.humidity.SetValue(h)
	}
	return OutcomeDecoded
}
