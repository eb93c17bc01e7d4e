package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9999
auth:
  access_key: AK
  secret_key: SK
datasource:
  engine: postgres
  host: db.internal
  port: 5433
  db: objects
  user: svc
  password: hunter2
  schema: s3
  max_connections: 20
  min_connections: 5
  test_before_acquire: true
  acquire_slow_threshold: 250
storage:
  root: /var/data
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9999 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Auth.AccessKey != "AK" || cfg.Auth.SecretKey != "SK" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	ds := cfg.Datasource
	if ds.Host != "db.internal" || ds.Port != 5433 || ds.DB != "objects" ||
		ds.User != "svc" || ds.Password != "hunter2" || ds.Schema != "s3" {
		t.Errorf("datasource = %+v", ds)
	}
	if ds.MaxConnections != 20 || ds.MinConnections != 5 || !ds.TestBeforeAcquire || ds.AcquireSlowThreshold != 250 {
		t.Errorf("pool settings = %+v", ds)
	}
	if cfg.Storage.Root != "/var/data" {
		t.Errorf("storage root = %q", cfg.Storage.Root)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
datasource:
  host: db.internal
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8014 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Datasource.Port != 5432 || cfg.Datasource.MaxConnections != 10 ||
		cfg.Datasource.MinConnections != 1 || cfg.Datasource.AcquireSlowThreshold != 1000 {
		t.Errorf("datasource defaults = %+v", cfg.Datasource)
	}
	if cfg.Datasource.Host != "db.internal" {
		t.Errorf("explicit value overridden: %q", cfg.Datasource.Host)
	}
	if cfg.Datasource.Engine != "postgres" {
		t.Errorf("engine default = %q", cfg.Datasource.Engine)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load should fail when no config file exists")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("Load should fail on malformed YAML")
	}
}
