package advert

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// FrameSize is the size of a custom-format record, length byte included
const FrameSize = maxShortFrameSize + 1

// ErrShortFrame is returned when a record cannot hold a full frame
var ErrShortFrame = errors.New("advert: short frame")

// Frame is a custom-format 0x181A record decoded relative to its own start.
//
//	00 01 02 03 04..09 10 11 12 13 14 15 16 17 18
//	LN 16 1A 18 MAC    T1 T2 H1 H2 V1 V2 BP CN FL
type Frame struct {
	MAC            string
	Temperature    float64
	Humidity       float64
	BatteryMV      int
	BatteryPercent int
	Counter        uint8
	Flags          uint8
}

// String converts a Frame to a string
func (f *Frame) String() string {
	return fmt.Sprintf("MAC: %s; Temperature: %.2f; Humidity: %.2f; Battery: %d%% (%dmV); Counter: %d",
		f.MAC, f.Temperature, f.Humidity, f.BatteryPercent, f.BatteryMV, f.Counter)
}

// DecodeFrame decodes a record returned by FindServiceData
func DecodeFrame(record []byte) (*Frame, error) {
	if len(record) < FrameSize {
		return nil, errors.Wrapf(ErrShortFrame, "expecting %d bytes, got %d", FrameSize, len(record))
	}
	if record[1] != ServiceDataType || binary.LittleEndian.Uint16(record[2:4]) != EnvironmentalSensing {
		return nil, errors.Errorf("advert: not a 0x%04X service data record", EnvironmentalSensing)
	}
	// The address is broadcast least significant byte first
	mac := record[4:10]
	return &Frame{
		MAC:            fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", mac[5], mac[4], mac[3], mac[2], mac[1], mac[0]),
		Temperature:    float64(int16(binary.LittleEndian.Uint16(record[10:12]))) / 100.0,
		Humidity:       float64(binary.LittleEndian.Uint16(record[12:14])) / 100.0,
		BatteryMV:      int(binary.LittleEndian.Uint16(record[14:16])),
		BatteryPercent: int(record[16]),
		Counter:        record[17],
		Flags:          record[18],
	}, nil
}
