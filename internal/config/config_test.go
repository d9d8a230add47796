package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchInterval != 30*time.Second {
		t.Fatalf("batch interval default mismatch: %s", cfg.BatchInterval)
	}
	if cfg.MaxBatchSize != 10 {
		t.Fatalf("max batch size default mismatch: %d", cfg.MaxBatchSize)
	}
	if cfg.MaxAttempts != 5 || cfg.MaxWindowAttempts != 3 {
		t.Fatalf("attempt defaults mismatch: %d/%d", cfg.MaxAttempts, cfg.MaxWindowAttempts)
	}
	if cfg.FeeCeilingGwei != 50 {
		t.Fatalf("fee ceiling default mismatch: %d", cfg.FeeCeilingGwei)
	}
	if cfg.ConfirmTimeout != 2*time.Minute || cfg.PollInterval != 3*time.Second {
		t.Fatalf("confirmation defaults mismatch: %s/%s", cfg.ConfirmTimeout, cfg.PollInterval)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level default mismatch: %s", cfg.LogLevel)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("rpc: \"https://rpc-a.example, https://rpc-b.example\"\nmax-batch-size: 25\ncontract: \"0x00000000000000000000000000000000000000fe\"\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://rpc-a.example", "https://rpc-b.example"}
	if !reflect.DeepEqual(cfg.RPCURLs, want) {
		t.Fatalf("rpc urls mismatch: %v", cfg.RPCURLs)
	}
	if cfg.MaxBatchSize != 25 {
		t.Fatalf("override mismatch: %d", cfg.MaxBatchSize)
	}
	if cfg.Contract != "0x00000000000000000000000000000000000000fe" {
		t.Fatalf("contract mismatch: %s", cfg.Contract)
	}
	// Untouched keys keep their defaults.
	if cfg.BatchInterval != 30*time.Second {
		t.Fatalf("default lost on partial config: %s", cfg.BatchInterval)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatalf("expected error for an explicitly named missing file")
	}
}

func TestSplitAndClean(t *testing.T) {
	got := splitAndClean(" a, ,b ,, c")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("split mismatch: %v", got)
	}
	if splitAndClean("") != nil {
		t.Fatalf("empty input must yield nil")
	}
}
