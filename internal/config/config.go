package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone name stamped into exported ICS events.
	// It is stored and passed through as-is; the engine performs no
	// timezone conversion.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday is treated as the first day of the
	// week in calendar grids handed to the UI. Supported values:
	//   - "monday" (default)
	//   - "sunday"
	// Recurrence rules are always evaluated against Monday-based weekday
	// indices regardless of this setting; see internal/recurrence.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DataDir is the directory holding one <calendar_id>.json per calendar.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// UsersFile is the path of the users database (users.json).
	UsersFile string `yaml:"users_file" json:"users_file"`

	// PasswordSalt is appended to plaintext passwords before hashing.
	PasswordSalt string `yaml:"password_salt" json:"password_salt"`

	// MinYear / MaxYear bound month navigation links.
	MinYear int `yaml:"min_year" json:"min_year"`
	MaxYear int `yaml:"max_year" json:"max_year"`

	// HiddenRetentionMonths is how many whole past months of
	// hidden-repetition entries are kept on save. 0 keeps only the current
	// month onwards.
	HiddenRetentionMonths int `yaml:"hidden_retention_months" json:"hidden_retention_months"`

	// SessionTTLHours is the lifetime of a login session.
	SessionTTLHours int `yaml:"session_ttl_hours" json:"session_ttl_hours"`

	// FailedLoginDelayBase produces (base ^ attempts) second delays
	// between failed logins for the same username.
	FailedLoginDelayBase int `yaml:"failed_login_delay_base" json:"failed_login_delay_base"`

	// CookieSecure marks the session cookie HTTPS-only.
	CookieSecure bool `yaml:"cookie_secure" json:"cookie_secure"`

	// CookieSameSite is the session cookie SameSite policy:
	// "lax" (default), "strict" or "none".
	CookieSameSite string `yaml:"cookie_samesite" json:"cookie_samesite"`

	// FeatureICalExport enables the ICS export endpoint and subcommand.
	FeatureICalExport bool `yaml:"feature_ical_export" json:"feature_ical_export"`

	// MonthsToExport is how many months ahead the ICS export covers.
	MonthsToExport int `yaml:"months_to_export" json:"months_to_export"`

	// GCCron is a cron-style schedule for the calendar GC sweep
	// (re-saving every calendar so compaction and hidden-entry retention
	// run even for untouched files).
	GCCron string `yaml:"gc_cron" json:"gc_cron"`

	// SessionSweepCron is a cron-style schedule for evicting expired
	// sessions.
	SessionSweepCron string `yaml:"session_sweep_cron" json:"session_sweep_cron"`

	// LogLevel is the minimum log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		Timezone:              "Europe/Madrid",
		WeekStart:             "monday",
		DataDir:               "data",
		UsersFile:             "users/users.json",
		PasswordSalt:          "",
		MinYear:               2017,
		MaxYear:               2100,
		HiddenRetentionMonths: 2,
		SessionTTLHours:       744, // 31 days
		FailedLoginDelayBase:  2,
		CookieSecure:          false,
		CookieSameSite:        "lax",
		FeatureICalExport:     false,
		MonthsToExport:        6,
		GCCron:                "0 3 * * *",
		SessionSweepCron:      "*/10 * * * *",
		LogLevel:              "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.UsersFile == "" {
		c.UsersFile = def.UsersFile
	}
	if c.MinYear <= 0 {
		c.MinYear = def.MinYear
	}
	if c.MaxYear <= 0 || c.MaxYear < c.MinYear {
		c.MaxYear = def.MaxYear
	}
	if c.HiddenRetentionMonths < 0 {
		c.HiddenRetentionMonths = def.HiddenRetentionMonths
	}
	if c.SessionTTLHours <= 0 {
		c.SessionTTLHours = def.SessionTTLHours
	}
	if c.FailedLoginDelayBase <= 0 {
		c.FailedLoginDelayBase = def.FailedLoginDelayBase
	}
	switch c.CookieSameSite {
	case "lax", "strict", "none":
	default:
		c.CookieSameSite = "lax"
	}
	if c.MonthsToExport <= 0 {
		c.MonthsToExport = def.MonthsToExport
	}
	if c.GCCron == "" {
		c.GCCron = def.GCCron
	}
	if c.SessionSweepCron == "" {
		c.SessionSweepCron = def.SessionSweepCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600 (the file holds the
//     password salt).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
