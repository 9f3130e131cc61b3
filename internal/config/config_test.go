package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(mapLookup(nil))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	cfg.ApplyDefaults()

	if cfg.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.DatabaseDSN != filepath.Join(DefaultStateDir, DefaultDBFileName) {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if !strings.HasSuffix(cfg.WhatsAppDSN, DefaultWhatsAppDBFileName+"?_foreign_keys=on") {
		t.Errorf("WhatsAppDSN = %q", cfg.WhatsAppDSN)
	}
	if cfg.Destination != "me" || cfg.DestinationTransport != TransportWhatsApp {
		t.Errorf("destination defaults wrong: %q %q", cfg.Destination, cfg.DestinationTransport)
	}
	if !cfg.BackfillEnabled || cfg.BackfillHours != 24 || cfg.BackfillLimitPerChat != 500 {
		t.Errorf("backfill defaults wrong: %+v", cfg)
	}
	if cfg.MinDelay != 1500*time.Millisecond || cfg.ProximityChars != 80 {
		t.Errorf("pacing/proximity defaults wrong: %v %d", cfg.MinDelay, cfg.ProximityChars)
	}
	if cfg.FingerprintMaxChars != 2000 || cfg.SnippetMaxChars != 800 {
		t.Errorf("text limits wrong: %d %d", cfg.FingerprintMaxChars, cfg.SnippetMaxChars)
	}
	if cfg.BackfillWindow() != 24*time.Hour {
		t.Errorf("BackfillWindow = %v", cfg.BackfillWindow())
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"LEADPIPE_STATE_DIR":    "/srv/lp",
		"DATABASE_URL":          "postgres://u:p@db/lp",
		"MONITOR_CHAT_IDS":      "1@g.us, 2@g.us,,3@g.us",
		"BACKFILL_ENABLED":      "false",
		"MIN_DELAY_SECONDS":     "0.25",
		"DESTINATION_TRANSPORT": "TWILIO",
		"LOG_LEVEL":             "INFO",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	cfg.ApplyDefaults()

	if len(cfg.ChatIDs) != 3 || cfg.ChatIDs[2] != "3@g.us" {
		t.Errorf("ChatIDs = %v", cfg.ChatIDs)
	}
	if cfg.BackfillEnabled {
		t.Error("BackfillEnabled should be false")
	}
	if cfg.MinDelay != 250*time.Millisecond {
		t.Errorf("MinDelay = %v", cfg.MinDelay)
	}
	if cfg.WhatsAppDSN != "postgres://u:p@db/lp" {
		t.Errorf("Postgres DSN should be shared with the session store, got %q", cfg.WhatsAppDSN)
	}
	if cfg.DestinationTransport != TransportTwilio || cfg.LogLevel != "info" {
		t.Errorf("values not normalized: %q %q", cfg.DestinationTransport, cfg.LogLevel)
	}
	if cfg.KeywordsFile != "/srv/lp/keywords.yaml" {
		t.Errorf("KeywordsFile = %q", cfg.KeywordsFile)
	}
}

func TestFromEnv_BadValues(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{
		"BACKFILL_HOURS":    "lots",
		"MONITOR_ALL_CHATS": "sometimes",
	}))
	if err == nil {
		t.Fatal("expected parse errors")
	}
	for _, key := range []string{"BACKFILL_HOURS", "MONITOR_ALL_CHATS"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := FromEnv(mapLookup(map[string]string{"MONITOR_CHAT_IDS": "1@g.us"}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"monitor all without ids", func(c *Config) { c.MonitorAll = true; c.ChatIDs = nil }, ""},
		{"no chats", func(c *Config) { c.ChatIDs = nil }, "ChatIDs"},
		{"twilio without credentials", func(c *Config) { c.DestinationTransport = TransportTwilio }, "TwilioAccountSID"},
		{"unknown transport", func(c *Config) { c.DestinationTransport = "pigeon" }, "DestinationTransport"},
		{"proximity too large", func(c *Config) { c.ProximityChars = 5000 }, "ProximityChars"},
		{"negative delay", func(c *Config) { c.MinDelay = -time.Second }, "MinDelay"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "not an addr" }, "MetricsAddr"},
		{"metrics port only", func(c *Config) { c.MetricsAddr = ":9090" }, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadKeywords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.yaml")
	content := `exclude_platforms: [upwork]
exclude_keywords:
  - "we offer"
  - "offer(ing)? services"
role_keywords: [developer, designer]
seeking_keywords: ["looking for", "need"]
proximity_chars: 120
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	cfg := validConfig(t)
	cfg.KeywordsFile = path

	if err := cfg.LoadKeywords(); err != nil {
		t.Fatalf("LoadKeywords failed: %v", err)
	}
	if len(cfg.Keywords.ExcludeKeywords) != 2 || cfg.Keywords.RoleKeywords[1] != "designer" {
		t.Errorf("unexpected keywords: %+v", cfg.Keywords)
	}
	if cfg.ProximityChars != 120 {
		t.Errorf("ProximityChars = %d, want 120 from file", cfg.ProximityChars)
	}
}

func TestLoadKeywords_Errors(t *testing.T) {
	cfg := validConfig(t)
	cfg.KeywordsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if err := cfg.LoadKeywords(); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("role_keywords: [unclosed"), 0o644)
	cfg.KeywordsFile = bad
	if err := cfg.LoadKeywords(); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a, b\nc ,, ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("SplitList = %v", got)
	}
	if len(SplitList("")) != 0 {
		t.Error("empty input should yield no entries")
	}
}
