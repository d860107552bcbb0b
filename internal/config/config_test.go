package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points HOME and cwd at fresh temp dirs so no user config leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	work := t.TempDir()
	oldCwd, _ := os.Getwd()
	t.Cleanup(func() { os.Chdir(oldCwd) })
	if err := os.Chdir(work); err != nil {
		t.Fatal(err)
	}
	return home
}

func TestFindEnvLocal_InParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	childDir := filepath.Join(tmpDir, "child")
	if err := os.Mkdir(childDir, 0755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(tmpDir, ".env.local")
	if err := os.WriteFile(envPath, []byte("HL_ONS_DB=parent"), 0644); err != nil {
		t.Fatal(err)
	}

	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(childDir); err != nil {
		t.Fatal(err)
	}

	result := findEnvLocal()
	if result == "" {
		t.Fatal("expected to find .env.local in parent directory")
	}
	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedResolved, _ := filepath.EvalSymlinks(envPath)
	resultResolved, _ := filepath.EvalSymlinks(result)
	if resultResolved != expectedResolved {
		t.Errorf("expected %s, got %s", expectedResolved, resultResolved)
	}
}

func TestFindEnvLocal_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}

	result := findEnvLocal()
	if result != "" {
		t.Errorf("expected empty string when no .env.local found, got %s", result)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.BatchSize)
	}
	if cfg.TablePrefix != "dbo." {
		t.Errorf("TablePrefix = %q, want dbo.", cfg.TablePrefix)
	}
	if cfg.OrphanPolicy != "promote" {
		t.Errorf("OrphanPolicy = %q, want promote", cfg.OrphanPolicy)
	}
	if cfg.SourceHost != "localhost" {
		t.Errorf("SourceHost = %q, want localhost", cfg.SourceHost)
	}
}

func TestLoad_Precedence(t *testing.T) {
	home := isolate(t)

	yamlDir := filepath.Join(home, ".config", "hlmigrate")
	if err := os.MkdirAll(yamlDir, 0755); err != nil {
		t.Fatal(err)
	}
	yamlBody := "source_host: yaml-host\nsource_db: yamldb\nbatch_size: 250\nretry_max_elapsed: 5s\nstages: [users, categories]\n"
	if err := os.WriteFile(filepath.Join(yamlDir, "config.yaml"), []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HL_ONS_HOST", "env-host")
	t.Setenv("HL_ORPHAN_POLICY", "skip")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SourceHost != "env-host" {
		t.Errorf("SourceHost = %q, want env-host (env beats yaml)", cfg.SourceHost)
	}
	if cfg.SourceDB != "yamldb" {
		t.Errorf("SourceDB = %q, want yamldb", cfg.SourceDB)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("BatchSize = %d, want 250", cfg.BatchSize)
	}
	if cfg.RetryMaxElapsed != 5*time.Second {
		t.Errorf("RetryMaxElapsed = %v, want 5s", cfg.RetryMaxElapsed)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[0] != "users" {
		t.Errorf("Stages = %v, want [users categories]", cfg.Stages)
	}
	if cfg.OrphanPolicy != "skip" {
		t.Errorf("OrphanPolicy = %q, want skip", cfg.OrphanPolicy)
	}
}

func TestLoad_PasswordFile(t *testing.T) {
	isolate(t)

	pwPath := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(pwPath, []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HL_ONS_PW_FILE", pwPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SourcePassword != "s3cret" {
		t.Errorf("SourcePassword = %q, want s3cret", cfg.SourcePassword)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "mysql driver", mutate: func(c *Config) { c.SourceDriver = "mysql" }, wantErr: false},
		{name: "unknown driver", mutate: func(c *Config) { c.SourceDriver = "oracle" }, wantErr: true},
		{name: "unknown orphan policy", mutate: func(c *Config) { c.OrphanPolicy = "drop" }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: true},
		{name: "negative workers", mutate: func(c *Config) { c.AttachmentWorkers = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
