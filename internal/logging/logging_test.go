package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zap.DebugLevel, false},
		{"", zap.InfoLevel, false},
		{"INFO", zap.InfoLevel, false},
		{"warning", zap.WarnLevel, false},
		{" error ", zap.ErrorLevel, false},
		{"verbose", zap.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New("warn", false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("warn レベルで info が有効になっています")
	}
	if !logger.Core().Enabled(zap.WarnLevel) {
		t.Error("warn レベルで warn が無効になっています")
	}

	dev, err := New("debug", true)
	if err != nil {
		t.Fatalf("New(development) failed: %v", err)
	}
	if !dev.Core().Enabled(zap.DebugLevel) {
		t.Error("debug レベルで debug が無効になっています")
	}

	if _, err := New("loud", false); err == nil {
		t.Error("Expected error for unknown level")
	}
}
