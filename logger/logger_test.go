package logger

import (
	"testing"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Level != "info" || cfg.Format != "console" || cfg.Output != "stderr" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Timestamp {
		t.Fatal("timestamp should default on")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid json", Config{Level: "debug", Format: "json"}, false},
		{"valid console", Config{Level: "info", Format: "console"}, false},
		{"bad level", Config{Level: "verbose", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestFields(t *testing.T) {
	m := Fields("stage", "transform", "domain", "DM", "rows", 42)
	if m["stage"] != "transform" || m["domain"] != "DM" || m["rows"] != 42 {
		t.Fatalf("unexpected map: %v", m)
	}
	// Odd trailing key is dropped.
	m = Fields("only")
	if len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
}

func TestWithComponent(t *testing.T) {
	log := NewDefault("sdtmforge")
	child := log.WithComponent("engine").WithRun("run-7")
	if child == log {
		t.Fatal("expected a derived logger")
	}
	// Must not panic with nil fields maps.
	child.Info("hello")
	child.Debug("world", Fields("k", "v"))
}
