package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/currantlabs/ble/linux"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

const (
	ver string = "1.0"
)

var (
	configFile      = flag.String("config-file", "config.ini", "Config file location")
	listenAddress   = flag.String("web.listen-address", ":8080", "Address to listen on for web interface and telemetry")
	scanDuration    = flag.Duration("scan-duration", defaultScanDuration, "Length of a single scan cycle")
	allowDuplicates = flag.Bool("allow-duplicates", defaultAllowDuplicates, "Report repeated advertisements of the same device")
	logFormat       = flag.String("log-format", "json", "Log format: json or text")
	verbose         = flag.Bool("verbose", false, "Enable verbose output")
)

var (
	scanErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mi_scan_errors_total",
		Help: "BLE scan errors",
	})
	deviceResetsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mi_device_resets_total",
		Help: "BLE device resets",
	})
)

// Global BLE device and mutex for synchronization
var (
	bleMutex            sync.Mutex
	bleDevice           *linux.Device
	resetBLEDeviceMutex sync.Mutex
)

// newLogger returns the text handler from tint or the JSON handler
func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	if format == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// openBLEDevice creates the HCI device used for scanning
func openBLEDevice() error {
	d, err := linux.NewDevice()
	if err != nil {
		return err
	}
	bleDevice = d
	return nil
}

// closeBLEDevice stops the current HCI device, if any
func closeBLEDevice() {
	if bleDevice != nil {
		slog.Info("Stopping existing BLE device")
		if err := bleDevice.Stop(); err != nil {
			slog.Warn("Error stopping BLE device", "error", err)
		}
		bleDevice = nil
	}
}

// resetBLEDevice recreates the BLE device to recover from persistent errors
func resetBLEDevice() error {
	resetBLEDeviceMutex.Lock()
	defer resetBLEDeviceMutex.Unlock()

	slog.Warn("Starting BLE device reset process")
	deviceResetsCounter.Inc()

	// Use a timeout when acquiring the mutex to prevent deadlocks
	timeout := time.After(*scanDuration + 10*time.Second)
	done := make(chan bool, 1)

	go func() {
		bleMutex.Lock()
		done <- true
	}()

	select {
	case <-done:
		slog.Info("Acquired BLE mutex for device reset")
		defer bleMutex.Unlock()
	case <-timeout:
		// The scan cycle never returned; the device goes away underneath it
		slog.Error("Timeout waiting for BLE mutex during device reset, forcing reset")
		go func() {
			<-done
			bleMutex.Unlock()
		}()
	}

	closeBLEDevice()

	slog.Info("Creating new BLE device")
	if err := openBLEDevice(); err != nil {
		slog.Error("Failed to create new BLE device", "error", err)
		return err
	}

	ResetErrors()
	slog.Info("BLE device reset completed successfully")
	ClearBLEDeviceResetRequest()
	return nil
}

// monitorBLEDevice resets the BLE device whenever a reset has been requested
func monitorBLEDevice(ctx context.Context) {
	checkInterval := 5 * time.Second

	for {
		if IsBLEDeviceResetRequested() {
			slog.Info("BLE device reset requested, attempting reset")
			if err := resetBLEDevice(); err != nil {
				slog.Error("BLE device reset failed", "error", err)
				// If reset fails, wait a bit longer before trying again
				checkInterval = 10 * time.Second
			} else {
				slog.Info("BLE device reset successful")
				checkInterval = 5 * time.Second
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(checkInterval):
		}
	}
}

func main() {
	flag.Parse()

	var loggingLevel = new(slog.LevelVar)
	slog.SetDefault(newLogger(os.Stdout, *logFormat, loggingLevel))

	if *verbose {
		loggingLevel.Set(slog.LevelDebug)
		slog.Debug("Debug logging enabled")
	}

	slog.Info("Starting", "version", ver)

	slog.Info("Reading configuration")
	config, err := NewConfig(*configFile)
	if err != nil {
		slog.Error("Unable to parse configuration", "error", err)
		os.Exit(1)
	}
	if flag.CommandLine.Changed("scan-duration") {
		config.ScanDuration = *scanDuration
	}
	if flag.CommandLine.Changed("allow-duplicates") {
		config.AllowDuplicates = *allowDuplicates
	}
	*scanDuration = config.ScanDuration

	slog.Info("Starting Linux Device")
	if err := openBLEDevice(); err != nil {
		slog.Error("Failed to initialize BLE device", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go monitorBLEDevice(ctx)

	http.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *listenAddress}
	go func() {
		slog.Info("Starting HTTP server", "address", *listenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	stations := NewStations(config.Devices)
	ScanLoop(ctx, config.ScanDuration, config.AllowDuplicates, handlerPublisher(stations))

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	bleMutex.Lock()
	closeBLEDevice()
	bleMutex.Unlock()
}
