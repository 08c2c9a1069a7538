package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

const sample = `tracking_project = "TIME"
database = "/tmp/ts.db"

[jira]
url = "https://example.atlassian.net"
user = "ola@example.com"
token = "secret"

[sync]
interval = "5m"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Jira.URL != "https://example.atlassian.net" || cfg.Jira.Token != "secret" {
		t.Errorf("jira = %+v", cfg.Jira)
	}
	if cfg.TrackingProject != "TIME" || cfg.Database != "/tmp/ts.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SyncInterval() != 5*time.Minute {
		t.Errorf("SyncInterval() = %v, want 5m", cfg.SyncInterval())
	}
	// defaults
	if cfg.Jira.APIVersion != "latest" || cfg.Dashboard.Port != 8090 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.DefaultWindow() != 30*24*time.Hour || cfg.HTTPTimeout() != 30*time.Second {
		t.Errorf("DefaultWindow() = %v, HTTPTimeout() = %v", cfg.DefaultWindow(), cfg.HTTPTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
	err = cfg.Validate()
	if !errors.Is(err, types.ErrBadInput) {
		t.Fatalf("Validate() = %v, want ErrBadInput", err)
	}
	if !strings.Contains(err.Error(), "jira.url") || !strings.Contains(err.Error(), "jira.token") {
		t.Errorf("Validate() = %v, want missing keys named", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TIMESHEET_JIRA_TOKEN", "from-env")
	t.Setenv("TIMESHEET_SYNC_DEFAULT_WINDOW", "48h")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Jira.Token != "from-env" {
		t.Errorf("token = %q, want from-env", cfg.Jira.Token)
	}
	if cfg.DefaultWindow() != 48*time.Hour {
		t.Errorf("DefaultWindow() = %v, want 48h", cfg.DefaultWindow())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "syntax", content: "jira = ["},
		{name: "duration", content: "[sync]\ninterval = \"soon\"\n"},
		{name: "negative", content: "[http]\ntimeout = \"-1s\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); !errors.Is(err, types.ErrBadInput) {
				t.Errorf("Load() = %v, want ErrBadInput", err)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	cfg.Jira.URL = "https://jira.example.com"
	cfg.Jira.User = "kari"
	cfg.Jira.Token = "t0k"
	cfg.TrackingProject = "ADM"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if again.Jira != cfg.Jira || again.TrackingProject != "ADM" {
		t.Errorf("reloaded = %+v, want %+v", again, cfg)
	}

	if err := Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Errorf("second Remove() failed: %v", err)
	}
}

func TestEncode_RedactsToken(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	for _, format := range []string{FormatTOML, FormatYAML, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, cfg, format); err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}
			out := buf.String()
			if strings.Contains(out, "secret") {
				t.Errorf("token leaked:\n%s", out)
			}
			if !strings.Contains(out, "ola@example.com") {
				t.Errorf("user missing:\n%s", out)
			}
		})
	}
	if cfg.Jira.Token != "secret" {
		t.Error("Encode() modified the config")
	}

	var buf bytes.Buffer
	if err := Encode(&buf, cfg, "xml"); !errors.Is(err, types.ErrBadInput) {
		t.Errorf("Encode(xml) = %v, want ErrBadInput", err)
	}
}

func TestJiraClient(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample+"\n[http]\ntimeout = \"10s\"\n"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	jc := cfg.JiraClient()
	if jc.BaseURL != cfg.Jira.URL || jc.User != cfg.Jira.User || jc.Token != "secret" {
		t.Errorf("JiraClient() = %+v", jc)
	}
	if jc.Timeout != 10*time.Second || jc.APIVersion != "latest" {
		t.Errorf("JiraClient() timeout = %v, version = %q", jc.Timeout, jc.APIVersion)
	}
}

func TestMissing(t *testing.T) {
	cfg := &Config{Jira: JiraConfig{URL: "https://x"}}
	got := strings.Join(cfg.Missing(), ",")
	if got != "jira.user,jira.token,tracking_project" {
		t.Errorf("Missing() = %q", got)
	}
}

func TestValidateURL(t *testing.T) {
	for in, ok := range map[string]bool{
		"https://example.atlassian.net": true,
		"http://localhost:8080":         true,
		"example.atlassian.net":         false,
		"ftp://x":                       false,
		"":                              false,
	} {
		if err := ValidateURL(in); (err == nil) != ok {
			t.Errorf("ValidateURL(%q) = %v, want ok=%v", in, err, ok)
		}
	}
}
