package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("METRICS_TTL_SECONDS", "not-a-number")
	t.Setenv("EXPIRY_WINDOW_DAYS", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg := Load()
	if cfg.MetricsTTLSeconds != 20 {
		t.Fatalf("expected metrics ttl fallback 20, got %d", cfg.MetricsTTLSeconds)
	}
	if cfg.ExpiryWindowDays != 30 {
		t.Fatalf("expected expiry window fallback 30, got %d", cfg.ExpiryWindowDays)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
