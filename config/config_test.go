package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "REDIS_ADDR=redis:6380\nENABLED_TFS=60, 900,bad,-5\nARCHIVE_OUTPUTS=true\nPEL_MIN_IDLE=90\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// the environment wins over the file
	t.Setenv("REDIS_ADDR", "override:6379")
	t.Setenv("WARMUP_CHUNK", "250")
	t.Setenv("PEL_RECLAIM_INTERVAL", "5s")

	cfg := Load(envFile)
	t.Cleanup(func() {
		for _, k := range []string{"ENABLED_TFS", "ARCHIVE_OUTPUTS", "PEL_MIN_IDLE"} {
			os.Unsetenv(k)
		}
	})

	if cfg.RedisAddr != "override:6379" {
		t.Errorf("redis addr %q", cfg.RedisAddr)
	}
	if tfs := cfg.ParseTFs(); len(tfs) != 2 || tfs[0] != 60 || tfs[1] != 900 {
		t.Errorf("tfs %v", tfs)
	}
	if !cfg.ArchiveOutputs || cfg.WarmupChunk != 250 {
		t.Errorf("archive %v chunk %d", cfg.ArchiveOutputs, cfg.WarmupChunk)
	}
	if cfg.PELInterval != 5*time.Second || cfg.PELMinIdle != 90*time.Second {
		t.Errorf("pel %s / %s", cfg.PELInterval, cfg.PELMinIdle)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HISTORY_SOURCE", "")
	t.Setenv("WARMUP_CHUNK", "lots")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.HistorySource != "sqlite" || cfg.WarmupChunk != 5000 || !cfg.ExternalBackend {
		t.Errorf("defaults %+v", cfg)
	}
}

func TestParseSymbols(t *testing.T) {
	cfg := &Config{Symbols: " SBIN, ,INFY "}
	got := cfg.ParseSymbols()
	if len(got) != 2 || got[0] != "SBIN" || got[1] != "INFY" {
		t.Errorf("symbols %v", got)
	}
}
