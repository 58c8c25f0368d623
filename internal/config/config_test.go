package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/querent-ai/querent/internal/domain"
)

func TestLoadAppliesDefaultsWithNoEnv(t *testing.T) {
	t.Setenv(EnvNodeConfig, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvListenAddress, "")

	n, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n.ListenAddress != ":8080" {
		t.Fatalf("expected default listen address, got %q", n.ListenAddress)
	}
	if n.Qdrant.Dimensions != 768 {
		t.Fatalf("expected default dimensions, got %d", n.Qdrant.Dimensions)
	}
}

func TestLoadReadsYAMLConfigAndAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	yamlBody := `
listen_address: ":9090"
neo4j:
  url: "neo4j://graph:7687"
  user: "neo4j"
  password: "secret"
qdrant:
  address: "vector:6334"
  collection: "field-a"
  dimensions: 384
postgres:
  dsn: "postgres://index:5432/querent"
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvNodeConfig, path)
	t.Setenv(EnvListenAddress, ":7070")

	n, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n.ListenAddress != ":7070" {
		t.Fatalf("expected env override to win, got %q", n.ListenAddress)
	}
	if n.Neo4j.URL != "neo4j://graph:7687" {
		t.Fatalf("expected yaml neo4j url, got %q", n.Neo4j.URL)
	}
	if n.Qdrant.Dimensions != 384 {
		t.Fatalf("expected yaml dimensions, got %d", n.Qdrant.Dimensions)
	}
}

func TestLoadRejectsMissingPostgresDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	if err := os.WriteFile(path, []byte("postgres:\n  dsn: \"\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvNodeConfig, path)

	_, err := Load()
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadRejectsUnreadableConfigFile(t *testing.T) {
	t.Setenv(EnvNodeConfig, filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	_, err := Load()
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}
