package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/r0bj/miadv-exporter/internal/advert"
	"github.com/r0bj/miadv-exporter/internal/sensor"
)

// Station holds the latest readings of one thermometer
type Station struct {
	Name        string
	Addr        string
	Temperature *sensor.Value
	Humidity    *sensor.Value
	Scanner     *advert.Scanner
}

// NewStation returns a Station decoding into fresh readings
func NewStation(name, addr string) *Station {
	s := &Station{
		Name:        name,
		Addr:        addr,
		Temperature: sensor.NewDefault(),
		Humidity:    sensor.NewDefault(),
	}
	s.Scanner = advert.NewScanner(s.Temperature,
		advert.WithHumidity(s.Humidity),
		advert.WithLogger(slog.Default().With("device", name)))
	return s
}

// String converts a Station to a string
func (s *Station) String() string {
	return fmt.Sprintf("Temperature: %s; Humidity: %s", s.Temperature, s.Humidity)
}

// Stations tracks thermometers by address. Configured devices are known up
// front, anything else is added once it broadcasts a sensor frame.
// Stations is only used from the advertisement handler.
type Stations struct {
	byAddr map[string]*Station
}

// NewStations returns Stations seeded with the configured devices
func NewStations(devices []Device) *Stations {
	s := &Stations{byAddr: make(map[string]*Station)}
	for _, d := range devices {
		s.Add(d.Name, d.Addr)
	}
	return s
}

// Lookup returns the Station for addr, or nil
func (s *Stations) Lookup(addr string) *Station {
	return s.byAddr[strings.ToUpper(addr)]
}

// Add registers a Station for addr, named after the address if name is empty
func (s *Stations) Add(name, addr string) *Station {
	addr = strings.ToUpper(addr)
	if name == "" {
		name = addr
	}
	st := NewStation(name, addr)
	s.byAddr[addr] = st
	return st
}

// Len returns the number of known stations
func (s *Stations) Len() int {
	return len(s.byAddr)
}
