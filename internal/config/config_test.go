package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "SESSION_TTL", "ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("expected default session TTL 30m, got %s", cfg.SessionTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected default origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("HTTP_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("MAX_RETRIES", "notanumber")

	cfg := Load()

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.HTTPTimeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.HTTPTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://staging.example.com" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("unparseable int should fall back to the default, got %d", cfg.MaxRetries)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `# comment line
DOTENV_TEST_A=hello
export DOTENV_TEST_B="quoted value"

not a valid line
DOTENV_TEST_EXISTING=from-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	t.Setenv("DOTENV_TEST_A", "")
	t.Setenv("DOTENV_TEST_B", "")
	t.Setenv("DOTENV_TEST_EXISTING", "from-env")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := os.Getenv("DOTENV_TEST_A"); got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_B"); got != "quoted value" {
		t.Errorf("export prefix and quotes should be stripped, got %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_EXISTING"); got != "from-env" {
		t.Errorf("existing env must win over the file, got %q", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
