package main

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/currantlabs/ble"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

const (
	// Scan failures in a row before the BLE device is recreated
	maxConsecutiveErrors = 3
	maxBackoff           = 30 * time.Second
)

var (
	// Use atomic for thread safety
	deviceResetNeeded int32 = 0
	consecutiveErrors int32 = 0
)

// RequestBLEDeviceReset marks the BLE device for reset
func RequestBLEDeviceReset() {
	slog.Warn("Explicitly requesting BLE device reset")
	atomic.StoreInt32(&deviceResetNeeded, 1)
}

// IsBLEDeviceResetRequested checks if a reset has been requested
func IsBLEDeviceResetRequested() bool {
	return atomic.LoadInt32(&deviceResetNeeded) == 1
}

// ClearBLEDeviceResetRequest clears the reset request
func ClearBLEDeviceResetRequest() {
	atomic.StoreInt32(&deviceResetNeeded, 0)
}

// IncrementErrors counts a failed scan cycle and requests a reset once
// too many have failed in a row
func IncrementErrors() int {
	current := int(atomic.AddInt32(&consecutiveErrors, 1))

	if current >= maxConsecutiveErrors {
		slog.Warn("Scanner has accumulated too many errors, requesting reset",
			"errorCount", current)
		RequestBLEDeviceReset()
	}

	return current
}

// ResetErrors resets the consecutive error counter
func ResetErrors() {
	atomic.StoreInt32(&consecutiveErrors, 0)
}

// calculateWaitTime determines the wait time before the next scan cycle
// after failures consecutive errors
func calculateWaitTime(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	backoff := 1 * time.Second
	for i := 1; i < failures; i++ {
		backoff *= 3 // Exponential backoff
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// scanCycle scans for d, handing every advertisement to h.
// Reaching the end of the cycle is not an error.
func scanCycle(parent context.Context, d time.Duration, allowDup bool, h ble.AdvHandler) error {
	bleMutex.Lock()
	defer bleMutex.Unlock()

	if bleDevice == nil {
		return errors.New("no BLE device")
	}

	ctx := ble.WithSigHandler(context.WithTimeout(parent, d))
	err := bleDevice.Scan(ctx, allowDup, h)
	switch errors.Cause(err) {
	case nil, context.DeadlineExceeded:
		return nil
	case context.Canceled:
		return context.Canceled
	}
	return errors.Wrap(err, "can't scan")
}

// ScanLoop runs scan cycles until ctx is cancelled or an interrupt arrives
func ScanLoop(ctx context.Context, d time.Duration, allowDup bool, h ble.AdvHandler) {
	slog.Info("Starting scan loop", "cycle", d, "allowDuplicates", allowDup)

	for {
		err := scanCycle(ctx, d, allowDup, h)
		if err == context.Canceled {
			slog.Info("Scanning canceled")
			return
		}
		if err == nil {
			ResetErrors()
			continue
		}

		scanErrorsCounter.Inc()
		failures := IncrementErrors()
		waitTime := calculateWaitTime(failures)
		slog.Error("Scan error",
			"error", err,
			"consecutiveErrors", failures,
			"waitTime", waitTime)

		select {
		case <-ctx.Done():
			slog.Info("Scanning canceled")
			return
		case <-time.After(waitTime):
		}
	}
}
