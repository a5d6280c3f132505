package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:8080" || cfg.WeekStart != "monday" {
		t.Fatalf("default config = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file perms = %o, want 600", perm)
	}
}

func TestLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "0.0.0.0:9999"
	cfg.WeekStart = "sunday"
	cfg.HiddenRetentionMonths = 5
	cfg.FeatureICalExport = true
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Listen != "0.0.0.0:9999" || got.WeekStart != "sunday" ||
		got.HiddenRetentionMonths != 5 || !got.FeatureICalExport {
		t.Fatalf("reloaded config = %+v", got)
	}
}

func TestLoadPartialConfigNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: 127.0.0.1:7000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:7000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.WeekStart != "monday" || cfg.MinYear != 2017 || cfg.SessionTTLHours != 744 {
		t.Errorf("normalization left gaps: %+v", cfg)
	}
}

func TestNormalizeRejectsBadValues(t *testing.T) {
	cfg := &Config{
		WeekStart:      "wednesday",
		CookieSameSite: "sideways",
		MinYear:        2050,
		MaxYear:        2020, // below MinYear
	}
	cfg.Normalize()

	if cfg.WeekStart != "monday" {
		t.Errorf("week_start = %q", cfg.WeekStart)
	}
	if cfg.CookieSameSite != "lax" {
		t.Errorf("cookie_samesite = %q", cfg.CookieSameSite)
	}
	if cfg.MaxYear < cfg.MinYear {
		t.Errorf("year bounds not repaired: %d..%d", cfg.MinYear, cfg.MaxYear)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid YAML loaded without error")
	}
}
