package config

import (
	"os"
	"testing"
)

func TestLoadPostgresDSNDefaultsWhenUnset(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "placeholder")
	os.Unsetenv("POSTGRES_DSN")

	if got := Load().PostgresDSN; got != "postgres://localhost:5432/doc-chat?sslmode=disable" {
		t.Fatalf("unexpected default DSN: %q", got)
	}
}

func TestLoadPostgresDSNMemorySelection(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "memory")
	if got := Load().PostgresDSN; got != "" {
		t.Fatalf("POSTGRES_DSN=memory should yield an empty DSN, got %q", got)
	}

	t.Setenv("POSTGRES_DSN", "")
	if got := Load().PostgresDSN; got != "" {
		t.Fatalf("empty POSTGRES_DSN should yield an empty DSN, got %q", got)
	}
}

func TestLoadPostgresDSNExplicitValue(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://db:5432/docs")
	if got := Load().PostgresDSN; got != "postgres://db:5432/docs" {
		t.Fatalf("unexpected DSN: %q", got)
	}
}
