package messaging

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeChecker struct {
	err   error
	delay time.Duration
}

func (f fakeChecker) CheckHealth(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestCheckClientHealth(t *testing.T) {
	tests := []struct {
		name          string
		checker       HealthChecker
		wantConnected bool
		wantError     string
	}{
		{
			name:          "healthy",
			checker:       fakeChecker{},
			wantConnected: true,
		},
		{
			name:      "unhealthy",
			checker:   fakeChecker{err: errors.New("not connected to message broker")},
			wantError: "not connected to message broker",
		},
		{
			name:      "nil checker",
			checker:   nil,
			wantError: "client is nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := CheckClientHealth(context.Background(), tt.checker)
			if status.Connected != tt.wantConnected {
				t.Errorf("Connected = %v, want %v", status.Connected, tt.wantConnected)
			}
			if status.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", status.Error, tt.wantError)
			}
		})
	}
}

func TestCheckClientHealth_Timeout(t *testing.T) {
	start := time.Now()
	status := CheckClientHealth(context.Background(), fakeChecker{delay: time.Minute})

	if status.Connected {
		t.Error("Connected = true, want false for a hung broker")
	}
	if status.Error == "" {
		t.Error("expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("health check took %v, want it bounded", elapsed)
	}
}

func TestMessage_ZeroValue(t *testing.T) {
	var msg Message

	if msg.Subject != "" {
		t.Errorf("expected empty Subject, got %q", msg.Subject)
	}
	if msg.Data != nil {
		t.Errorf("expected nil Data, got %v", msg.Data)
	}
	if msg.Metadata != nil {
		t.Errorf("expected nil Metadata, got %v", msg.Metadata)
	}
	if !msg.Timestamp.IsZero() {
		t.Errorf("expected zero Timestamp, got %v", msg.Timestamp)
	}
}
