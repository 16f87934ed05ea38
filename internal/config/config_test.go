package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 || cfg.Game.TickInterval != time.Second || cfg.Game.CheckpointEvery != 10 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.NATS.SubjectPrefix != "milsim" || cfg.Log.Level != "info" || cfg.Auth.TokenDuration != 24*time.Hour {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
  allowed_origins: ["https://field.example"]
database:
  path: /tmp/x.db
game:
  tick_interval: 500ms
  position_points_per_tick: 3
nats:
  embedded: true
log:
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9000 || len(cfg.Server.AllowedOrigins) != 1 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Game.TickInterval != 500*time.Millisecond || cfg.Game.PositionPointsPerTick != 3 {
		t.Fatalf("game = %+v", cfg.Game)
	}
	if !cfg.NATS.Embedded || cfg.NATS.EmbeddedPort != 4222 {
		t.Fatalf("nats = %+v", cfg.NATS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MILSIM_JWT_SECRET", "from-env")
	t.Setenv("MILSIM_DB_PATH", "/env/milsim.db")
	path := writeConfig(t, "auth:\n  jwt_secret: from-file\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" || cfg.Database.Path != "/env/milsim.db" {
		t.Fatalf("auth = %+v, db = %+v", cfg.Auth, cfg.Database)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Fatal("bad yaml accepted")
	}
	if _, err := Load(writeConfig(t, "log:\n  format: xml\n")); err == nil {
		t.Fatal("bad log format accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.JWTSecret = "s3cret"
	cfg.Server.AllowedOrigins = []string{"https://a.example"}
	path := filepath.Join(t.TempDir(), "etc", "milsim.yml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Auth.JWTSecret != "s3cret" || got.Game.TickInterval != time.Second || got.Server.AllowedOrigins[0] != "https://a.example" {
		t.Fatalf("round trip = %+v", got)
	}
}
