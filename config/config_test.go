package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaultsWhenAbsent(t *testing.T) {
	c := New()
	if got := c.GetString("database_server", "tcp://localhost:3306"); got != "tcp://localhost:3306" {
		t.Fatalf("expected default, got %q", got)
	}
	if got := c.GetInt("database_save_delay", 5000); got != 5000 {
		t.Fatalf("expected default 5000, got %d", got)
	}
}

func TestLoadOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poseidon.yaml")
	body := "database_server: tcp://db.internal:3306\ndatabase_save_delay: 1500\ndatabase_debug: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.GetString("database_server", "tcp://localhost:3306"); got != "tcp://db.internal:3306" {
		t.Fatalf("got %q", got)
	}
	if got := c.GetInt("database_save_delay", 5000); got != 1500 {
		t.Fatalf("got %d", got)
	}
	if got := c.GetBool("database_debug", false); !got {
		t.Fatalf("expected true")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	c, err := Load("/nonexistent/path/poseidon.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.GetString("database_name", "test"); got != "test" {
		t.Fatalf("got %q", got)
	}
}

func TestTypeMismatchFallsBackToDefault(t *testing.T) {
	c := New()
	c.Set("database_save_delay", "not-a-number")
	if got := c.GetInt("database_save_delay", 5000); got != 5000 {
		t.Fatalf("expected fallback default, got %d", got)
	}
}
