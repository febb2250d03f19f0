package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "postgres", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "valid sqlite config",
			config:  Config{Backend: "sqlite", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "sqlite with empty DataDir is valid at config level",
			config:  Config{Backend: "sqlite", DataDir: ""},
			wantErr: nil,
		},
		{
			name:    "per_type dispatch mode is valid",
			config:  Config{Backend: "sqlite", DispatchMode: DispatchPerType},
			wantErr: nil,
		},
		{
			name:    "unknown dispatch mode",
			config:  Config{Backend: "sqlite", DispatchMode: "pooled"},
			wantErr: ErrDispatchModeUnknown,
		},
		{
			name:    "negative max workers",
			config:  Config{Backend: "sqlite", MaxWorkers: -1},
			wantErr: ErrMaxWorkersInvalid,
		},
		{
			name:    "negative watch interval",
			config:  Config{Backend: "sqlite", WatchInterval: -time.Second},
			wantErr: ErrWatchIntervalInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigGetDispatchMode(t *testing.T) {
	if got := (Config{}).GetDispatchMode(); got != DispatchPerCall {
		t.Errorf("default dispatch mode = %q, want %q", got, DispatchPerCall)
	}
	if got := (Config{DispatchMode: DispatchPerType}).GetDispatchMode(); got != DispatchPerType {
		t.Errorf("dispatch mode = %q, want %q", got, DispatchPerType)
	}
}
