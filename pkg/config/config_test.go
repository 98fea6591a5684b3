package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.NICLookupDebounce() != 400*time.Millisecond {
		t.Errorf("expected 400ms debounce, got %v", cfg.NICLookupDebounce())
	}
	if cfg.DraftIdleTTL() != 2*time.Hour {
		t.Errorf("expected 2h draft ttl, got %v", cfg.DraftIdleTTL())
	}
	if cfg.LoanEventsExchange != "loan_events" {
		t.Errorf("unexpected exchange %q", cfg.LoanEventsExchange)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("NIC_LOOKUP_DEBOUNCE_MS", "250")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.ServerPort)
	}
	if cfg.NICLookupDebounce() != 250*time.Millisecond {
		t.Errorf("expected 250ms debounce, got %v", cfg.NICLookupDebounce())
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", origins)
	}
}

func TestLoadConfig_FailsWithoutSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig("")
	if err == nil {
		t.Fatal("expected missing secret error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected error to mention JWT_SECRET, got %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	path := filepath.Join(t.TempDir(), "loandesk.env")
	content := "JWT_SECRET=file-secret\nDATABASE_PATH=/var/lib/loandesk.db\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_PATH", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JWTSecret != "file-secret" {
		t.Errorf("expected secret from file, got %q", cfg.JWTSecret)
	}
}
