package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.AppointmentsTable != "appointments" {
		t.Fatalf("expected default appointments table, got %s", cfg.AppointmentsTable)
	}
	if cfg.TranscriptTTL != 72*time.Hour {
		t.Fatalf("expected default transcript TTL, got %s", cfg.TranscriptTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("APPOINTMENTS_TABLE", "appts_test")
	t.Setenv("TRANSCRIPT_TTL", "30m")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Fatalf("expected port override, got %s", cfg.Port)
	}
	if cfg.AppointmentsTable != "appts_test" {
		t.Fatalf("expected table override, got %s", cfg.AppointmentsTable)
	}
	if cfg.TranscriptTTL != 30*time.Minute {
		t.Fatalf("expected TTL override, got %s", cfg.TranscriptTTL)
	}
	if !cfg.RedisTLS {
		t.Fatal("expected RedisTLS override")
	}
}
