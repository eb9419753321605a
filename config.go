package main

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const (
	defaultScanDuration    = 5 * time.Second
	defaultAllowDuplicates = true
)

// Device is a thermometer given a friendly name in the configuration
type Device struct {
	Name string
	Addr string
}

// Config represents a configuration
type Config struct {
	Devices         []Device
	ScanDuration    time.Duration
	AllowDuplicates bool
}

// NewConfig returns a new Config
func NewConfig(file string) (*Config, error) {
	slog.Info("Loading configuration", "file", file)
	cfg, err := ini.Load(file)
	if err != nil {
		return &Config{}, err
	}

	devices := []Device{}
	seen := make(map[string]string)
	if sec, err := cfg.GetSection("Devices"); err == nil {
		for i, name := range sec.KeyStrings() {
			addr, err := normalizeAddr(sec.Key(name).String())
			if err != nil {
				return &Config{}, fmt.Errorf("device %s: %w", name, err)
			}
			if other, ok := seen[addr]; ok {
				return &Config{}, fmt.Errorf("device %s: address %s already used by %s", name, addr, other)
			}
			seen[addr] = name
			slog.Info("Configured device", "index", i, "device", name, "address", addr)
			devices = append(devices, Device{
				Name: name,
				Addr: addr,
			})
		}
	}

	scanner := cfg.Section("Scanner")
	duration := scanner.Key("duration").MustDuration(defaultScanDuration)
	if duration <= 0 {
		return &Config{}, fmt.Errorf("scanner duration must be positive, got %s", duration)
	}

	return &Config{
		Devices:         devices,
		ScanDuration:    duration,
		AllowDuplicates: scanner.Key("allow_duplicates").MustBool(defaultAllowDuplicates),
	}, nil
}

// normalizeAddr validates a MAC address and returns it in upper case
func normalizeAddr(addr string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(addr))
	if err != nil {
		return "", err
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid bluetooth address %q", addr)
	}
	return strings.ToUpper(hw.String()), nil
}
