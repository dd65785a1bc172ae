package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"PredictLedger/internal/config"
	"PredictLedger/internal/errs"
)

const (
	authority = "11111111-1111-4111-8111-111111111111"
	treasury  = "22222222-2222-4222-8222-222222222222"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "predict.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func mustLoad(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

// ============================================================================
// Test: Defaults
// ============================================================================

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Processor.PersistFlushTimeout.Duration != 10*time.Millisecond {
		t.Errorf("flush timeout: got %v", cfg.Processor.PersistFlushTimeout)
	}
}

// ============================================================================
// Test: Load
// ============================================================================

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
log_level = "debug"

[postgres]
dsn = "postgres://file"

[processor]
persist_batch_size = 200
persist_flush_timeout = "25ms"

[redis]
enabled = true
lease_ttl = "30s"

[genesis]
enabled = true
authority = "`+authority+`"
treasury = "`+treasury+`"
swap_fee_bps = 50
`)
	t.Setenv("PREDICT_POSTGRES_DSN", "postgres://env")
	t.Setenv("PREDICT_PERSIST_BATCH_SIZE", "not-a-number")
	t.Setenv("PREDICT_SWEEPER_INTERVAL", "90s")

	cfg := mustLoad(t, path)

	if cfg.Postgres.DSN != "postgres://env" {
		t.Errorf("env should override file: dsn = %s", cfg.Postgres.DSN)
	}
	if cfg.Processor.PersistBatchSize != 200 {
		t.Errorf("unparseable env must be ignored: batch size = %d", cfg.Processor.PersistBatchSize)
	}
	if cfg.Processor.PersistFlushTimeout.Duration != 25*time.Millisecond {
		t.Errorf("flush timeout: got %v", cfg.Processor.PersistFlushTimeout)
	}
	if cfg.Sweeper.Interval.Duration != 90*time.Second {
		t.Errorf("sweeper interval: got %v", cfg.Sweeper.Interval)
	}
	if cfg.LogLevel != "debug" || !cfg.Redis.Enabled || cfg.Redis.LeaseTTL.Duration != 30*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.HTTPAddr != ":8080" || cfg.Genesis.MinTrade != 1_000_000 {
		t.Errorf("defaults lost: http=%s min_trade=%d", cfg.Server.HTTPAddr, cfg.Genesis.MinTrade)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_Rejects(t *testing.T) {
	if _, err := config.Load(writeFile(t, "[postgres]\ndsnn = \"typo\"\n")); err == nil ||
		!strings.Contains(err.Error(), "dsnn") {
		t.Errorf("unknown key: err = %v", err)
	}
	if _, err := config.Load(writeFile(t, "[processor]\npersist_flush_timeout = \"soon\"\n")); err == nil {
		t.Error("bad duration should fail to decode")
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("PREDICT_HTTP_ADDR", ":18080")
	cfg := mustLoad(t, "")
	if cfg.Server.HTTPAddr != ":18080" {
		t.Errorf("http addr: got %s", cfg.Server.HTTPAddr)
	}
}

// ============================================================================
// Test: Validate
// ============================================================================

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.Postgres.DSN = ""
	cfg.Processor.PersistBatchSize = 0
	cfg.Sweeper.Operator = "nobody"
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"postgres.dsn", "persist_batch_size", "sweeper.operator", "s3.bucket"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

// ============================================================================
// Test: Genesis
// ============================================================================

func TestGenesisCommand(t *testing.T) {
	g := config.Defaults().Genesis
	g.Enabled = true
	g.Authority = authority
	g.Treasury = treasury

	first, err := g.Command(1_700_000_000)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	second, err := g.Command(1_800_000_000)
	if err != nil {
		t.Fatalf("command: %v", err)
	}

	if first.IdempotencyKey() != second.IdempotencyKey() {
		t.Errorf("genesis command id must be stable across restarts")
	}
	if first.Time() != 1_700_000_000 {
		t.Errorf("timestamp: got %d", first.Time())
	}
	params := first.Params()
	if params.Authority.String() != authority || params.Treasury.String() != treasury {
		t.Errorf("params = %+v", params)
	}
	if params.SwapFeeBps != 30 || params.ChallengePeriodSeconds != 86_400 {
		t.Errorf("defaults not carried: %+v", params)
	}
}

func TestGenesisPlatform_Invalid(t *testing.T) {
	g := config.Defaults().Genesis
	g.Authority = authority
	g.Treasury = treasury
	g.TreasuryRakeBps = 9_000
	g.CreatorRakeBps = 2_000

	if _, err := g.Platform(); !errors.Is(err, errs.ErrInvalidRakeBps) {
		t.Errorf("err = %v, want ErrInvalidRakeBps", err)
	}

	g.TreasuryRakeBps = 200
	g.Treasury = "treasury"
	if _, err := g.Platform(); err == nil {
		t.Error("non-uuid treasury should fail")
	}
}
