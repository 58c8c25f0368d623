package index

import "testing"

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "localhost" || cfg.Port != 5432 || cfg.Database != "querent" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Host: "localhost", Database: "querent", MaxConns: 10}, false},
		{"missing host", Config{Database: "querent", MaxConns: 10}, true},
		{"missing database", Config{Host: "localhost", MaxConns: 10}, true},
		{"zero max conns", Config{Host: "localhost", Database: "querent", MaxConns: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db.internal", Port: 5432, User: "querent", Password: "secret", Database: "querent", SSLMode: "disable"}
	dsn := cfg.DSN()
	want := "host=db.internal port=5432 user=querent password=secret dbname=querent sslmode=disable"
	if dsn != want {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
}
