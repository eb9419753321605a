package main

import (
	"context"
	"testing"
	"time"

	"github.com/currantlabs/ble"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCalculateWaitTime(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 3 * time.Second},
		{3, 9 * time.Second},
		{4, 27 * time.Second},
		{5, maxBackoff},
		{50, maxBackoff},
	}
	for _, tt := range tests {
		if got := calculateWaitTime(tt.failures); got != tt.want {
			t.Errorf("calculateWaitTime(%d) = %s; want %s", tt.failures, got, tt.want)
		}
	}
}

func TestIncrementErrorsRequestsReset(t *testing.T) {
	ResetErrors()
	ClearBLEDeviceResetRequest()
	t.Cleanup(func() {
		ResetErrors()
		ClearBLEDeviceResetRequest()
	})

	for i := 1; i < maxConsecutiveErrors; i++ {
		if got := IncrementErrors(); got != i {
			t.Fatalf("IncrementErrors() = %d; want %d", got, i)
		}
		if IsBLEDeviceResetRequested() {
			t.Fatalf("reset requested after %d errors", i)
		}
	}

	IncrementErrors()
	if !IsBLEDeviceResetRequested() {
		t.Fatalf("reset not requested after %d errors", maxConsecutiveErrors)
	}

	ClearBLEDeviceResetRequest()
	if IsBLEDeviceResetRequested() {
		t.Error("reset still requested after clearing")
	}

	ResetErrors()
	if got := IncrementErrors(); got != 1 {
		t.Errorf("IncrementErrors() after reset = %d; want 1", got)
	}
}

func TestScanCycleWithoutDevice(t *testing.T) {
	err := scanCycle(context.Background(), time.Millisecond, true, func(ble.Advertisement) {})
	if err == nil {
		t.Fatal("scanCycle() error = nil; want an error without a device")
	}
}

func TestScanLoopStopsOnCancel(t *testing.T) {
	ResetErrors()
	ClearBLEDeviceResetRequest()
	t.Cleanup(func() {
		ResetErrors()
		ClearBLEDeviceResetRequest()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := testutil.ToFloat64(scanErrorsCounter)
	done := make(chan struct{})
	go func() {
		ScanLoop(ctx, time.Millisecond, true, func(ble.Advertisement) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ScanLoop did not return after cancel")
	}
	if got := testutil.ToFloat64(scanErrorsCounter) - before; got != 1 {
		t.Errorf("scan errors = %v; want 1", got)
	}
}
