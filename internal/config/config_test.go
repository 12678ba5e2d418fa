package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DetectorConfidence != 0.5 {
		t.Errorf("DetectorConfidence = %v, want 0.5", cfg.DetectorConfidence)
	}
	if cfg.IoUDedupThreshold != 0.5 {
		t.Errorf("IoUDedupThreshold = %v, want 0.5", cfg.IoUDedupThreshold)
	}
	if cfg.BurstWindowSeconds != 5 {
		t.Errorf("BurstWindowSeconds = %v, want 5", cfg.BurstWindowSeconds)
	}
	if cfg.ReIDThreshold != 0.70 {
		t.Errorf("ReIDThreshold = %v, want 0.70", cfg.ReIDThreshold)
	}
	if cfg.ProfileEMAAlpha != 0.3 {
		t.Errorf("ProfileEMAAlpha = %v, want 0.3", cfg.ProfileEMAAlpha)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() should validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	cfg := DefaultConfig()

	os.Setenv("DB_HOST", "testhost")
	os.Setenv("REID_THRESHOLD", "0.82")
	defer os.Unsetenv("DB_HOST")
	defer os.Unsetenv("REID_THRESHOLD")

	cfg.LoadFromEnv()

	if cfg.Database.Host != "testhost" {
		t.Errorf("Database.Host = %v, want testhost", cfg.Database.Host)
	}
	if cfg.ReIDThreshold != 0.82 {
		t.Errorf("ReIDThreshold = %v, want 0.82", cfg.ReIDThreshold)
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	content := `
image_root: /data/images
detector_confidence: 0.6
reid_threshold: 0.75
database:
  host: dbhost
  port: 5432
  database: trailcam
  username: trailcam
redis:
  addr: redis:6379
`
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DetectorConfidence != 0.6 {
		t.Errorf("DetectorConfidence = %v, want 0.6", cfg.DetectorConfidence)
	}
	if cfg.ReIDThreshold != 0.75 {
		t.Errorf("ReIDThreshold = %v, want 0.75", cfg.ReIDThreshold)
	}
	// Defaults not present in the file survive.
	if cfg.BurstWindowSeconds != 5 {
		t.Errorf("BurstWindowSeconds = %v, want default 5", cfg.BurstWindowSeconds)
	}
}

func TestValidateRejectsUnbalancedEnsembleWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnsemblePrimaryW = 0.9
	cfg.EnsembleAuxiliaryW = 0.4
	if err := Validate(cfg); err == nil {
		t.Error("expected error for ensemble weights not summing to 1")
	}
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectorConfidence = 1.5
	if err := Validate(cfg); err == nil {
		t.Error("expected error for detector_confidence > 1")
	}
}

func TestLiveConfigSwap(t *testing.T) {
	lc := NewLiveConfig(DefaultConfig())
	if lc.Get().ReIDThreshold != 0.70 {
		t.Fatalf("initial ReIDThreshold = %v, want 0.70", lc.Get().ReIDThreshold)
	}
	updated := DefaultConfig()
	updated.ReIDThreshold = 0.9
	lc.ptr.Store(updated)
	if lc.Get().ReIDThreshold != 0.9 {
		t.Errorf("after swap ReIDThreshold = %v, want 0.9", lc.Get().ReIDThreshold)
	}
}
