package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigFile names the optional TOML file.
const EnvConfigFile = "PREDICT_CONFIG_FILE"

// Load merges, in order: defaults, the TOML file at path (skipped when path
// is empty), a .env file if present, and PREDICT_* environment variables.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads with the file named by PREDICT_CONFIG_FILE.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()
	return Load(os.Getenv(EnvConfigFile))
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "PREDICT_LOG_LEVEL")
	setInt32(&cfg.DisplayDecimals, "PREDICT_DISPLAY_DECIMALS")

	setStr(&cfg.Postgres.DSN, "PREDICT_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "PREDICT_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "PREDICT_POSTGRES_MAX_IDLE_CONNS")

	setStr(&cfg.NATS.URL, "PREDICT_NATS_URL")
	setBool(&cfg.NATS.Enabled, "PREDICT_NATS_ENABLED")

	setStr(&cfg.Server.GRPCAddr, "PREDICT_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "PREDICT_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "PREDICT_METRICS_ADDR")

	setInt(&cfg.Processor.QueueSize, "PREDICT_QUEUE_SIZE")
	setInt(&cfg.Processor.PersistChanSize, "PREDICT_PERSIST_CHAN_SIZE")
	setInt(&cfg.Processor.ProjectionChanSize, "PREDICT_PROJECTION_CHAN_SIZE")
	setInt(&cfg.Processor.PublishChanSize, "PREDICT_PUBLISH_CHAN_SIZE")
	setInt(&cfg.Processor.PersistBatchSize, "PREDICT_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Processor.PersistFlushTimeout, "PREDICT_PERSIST_FLUSH_TIMEOUT")
	setInt(&cfg.Processor.IdempotencyLRUCapacity, "PREDICT_IDEMPOTENCY_LRU_CAPACITY")
	setInt64(&cfg.Processor.SnapshotInterval, "PREDICT_SNAPSHOT_INTERVAL")

	setBool(&cfg.Sweeper.Enabled, "PREDICT_SWEEPER_ENABLED")
	setDuration(&cfg.Sweeper.Interval, "PREDICT_SWEEPER_INTERVAL")
	setStr(&cfg.Sweeper.Operator, "PREDICT_SWEEPER_OPERATOR")

	setBool(&cfg.Redis.Enabled, "PREDICT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICT_REDIS_DB")
	setStr(&cfg.Redis.LeaseKey, "PREDICT_REDIS_LEASE_KEY")
	setDuration(&cfg.Redis.LeaseTTL, "PREDICT_REDIS_LEASE_TTL")

	setBool(&cfg.S3.Enabled, "PREDICT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PREDICT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PREDICT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PREDICT_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Genesis.Enabled, "PREDICT_GENESIS_ENABLED")
	setStr(&cfg.Genesis.Authority, "PREDICT_GENESIS_AUTHORITY")
	setStr(&cfg.Genesis.Treasury, "PREDICT_GENESIS_TREASURY")
}

// Each setter only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
