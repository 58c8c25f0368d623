// Package config loads a node's static configuration: connection strings
// for every backing store, the HTTP listen address, and data directory.
// Adapted from the teacher's cmd/api/main.go loadConfig/envOr pair,
// generalized from a flat env-var struct into a YAML node config file
// (QUERENT_NODE_CONFIG) with optional env-var overrides, matching
// how a multi-store node is actually deployed rather than a single
// stateless API process.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/querent-ai/querent/internal/domain"
)

// Node is a fully-resolved node configuration.
type Node struct {
	ListenAddress string        `yaml:"listen_address"`
	DataDir       string        `yaml:"data_dir"`
	CORSOrigin    string        `yaml:"cors_origin"`
	DiscoveryTTL  time.Duration `yaml:"discovery_ttl"`

	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	Model    ModelConfig    `yaml:"model"`
}

type Neo4jConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type QdrantConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type ModelConfig struct {
	EmbedURL     string `yaml:"embed_url"`
	ChatURL      string `yaml:"chat_url"`
	HealthTarget string `yaml:"health_target"`
}

// EnvNodeConfig, EnvDataDir and EnvListenAddress are the three env vars
// that locate and override the YAML node config file.
const (
	EnvNodeConfig    = "QUERENT_NODE_CONFIG"
	EnvDataDir       = "QUERENT_DATA_DIR"
	EnvListenAddress = "QUERENT_LISTEN_ADDRESS"
)

// Load reads the YAML node config named by QUERENT_NODE_CONFIG, then
// applies QUERENT_DATA_DIR/QUERENT_LISTEN_ADDRESS as overrides so a
// deployment can keep one config file across environments and vary only
// the per-instance bits.
func Load() (Node, error) {
	var n Node
	n.applyDefaults()

	if path := os.Getenv(EnvNodeConfig); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Node{}, fmt.Errorf("%w: read node config %s: %v", domain.ErrConfigInvalid, path, err)
		}
		if err := yaml.Unmarshal(raw, &n); err != nil {
			return Node{}, fmt.Errorf("%w: parse node config %s: %v", domain.ErrConfigInvalid, path, err)
		}
	}

	if v := os.Getenv(EnvDataDir); v != "" {
		n.DataDir = v
	}
	if v := os.Getenv(EnvListenAddress); v != "" {
		n.ListenAddress = v
	}

	return n, n.Validate()
}

func (n *Node) applyDefaults() {
	n.ListenAddress = ":8080"
	n.DataDir = "/var/lib/querent"
	n.CORSOrigin = "*"
	n.DiscoveryTTL = 24 * time.Hour
	n.Neo4j = Neo4jConfig{URL: "neo4j://localhost:7687", User: "neo4j", Password: "password"}
	n.Qdrant = QdrantConfig{Address: "localhost:6334", Collection: "querent", Dimensions: 768}
	n.Postgres = PostgresConfig{DSN: "postgres://localhost:5432/querent"}
	n.NATS = NATSConfig{URL: "nats://localhost:4222"}
	n.Model = ModelConfig{EmbedURL: "http://localhost:11434", ChatURL: "http://localhost:11434", HealthTarget: "localhost:50051"}
}

// Validate enforces the handful of fields a node genuinely cannot run
// without.
func (n Node) Validate() error {
	if n.ListenAddress == "" {
		return fmt.Errorf("%w: listen_address is required", domain.ErrConfigInvalid)
	}
	if n.Neo4j.URL == "" {
		return fmt.Errorf("%w: neo4j.url is required", domain.ErrConfigInvalid)
	}
	if n.Qdrant.Address == "" {
		return fmt.Errorf("%w: qdrant.address is required", domain.ErrConfigInvalid)
	}
	if n.Qdrant.Dimensions <= 0 {
		return fmt.Errorf("%w: qdrant.dimensions must be positive", domain.ErrConfigInvalid)
	}
	if n.Postgres.DSN == "" {
		return fmt.Errorf("%w: postgres.dsn is required", domain.ErrConfigInvalid)
	}
	return nil
}
