package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: info\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
slack:
  bot_token: xoxb-test
  app_token: xapp-test
  usergroup_id: S0123
anthropic:
  api_key: sk-test
standup:
  split_days: true
  prompt_time: "09:00"
log_level: debug
`
	os.WriteFile(path, []byte(content), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Slack.BotToken != "xoxb-test" {
		t.Errorf("Slack.BotToken = %q, want %q", cfg.Slack.BotToken, "xoxb-test")
	}
	if !cfg.Standup.SplitDays {
		t.Error("Standup.SplitDays = false, want true")
	}
	if cfg.Standup.PromptTime != "09:00" {
		t.Errorf("Standup.PromptTime = %q, want %q", cfg.Standup.PromptTime, "09:00")
	}
	// Defaults survive a partial file.
	if cfg.Anthropic.TimeoutSec != 60 {
		t.Errorf("Anthropic.TimeoutSec = %d, want 60", cfg.Anthropic.TimeoutSec)
	}
	if cfg.GitHub.CallbackAddr != ":3000" {
		t.Errorf("GitHub.CallbackAddr = %q, want %q", cfg.GitHub.CallbackAddr, ":3000")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("STANDUPD_TEST_KEY", "secret-value")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("anthropic:\n  api_key: ${STANDUPD_TEST_KEY}\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Anthropic.APIKey != "secret-value" {
		t.Errorf("APIKey = %q, want %q", cfg.Anthropic.APIKey, "secret-value")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"  debug  ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
