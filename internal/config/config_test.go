package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.CacheTTL != 30*time.Second || cfg.RedisAddr != "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("CACHE_TTL", "5s")
	t.Setenv("POSITION_MAX_AGE", "90s")
	t.Setenv("MIGRATE", "TRUE")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers %v", cfg.KafkaBrokers)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CacheTTL != 5*time.Second || cfg.PositionMaxAge != 90*time.Second || !cfg.RunMigrations {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadServerConfigErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("POSITION_MAX_AGE", "-1m")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"JWT_SECRET", "HTTP_READ_TIMEOUT", "POSITION_MAX_AGE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestPollInterval(t *testing.T) {
	for d, ok := range map[time.Duration]bool{
		10 * time.Second: false,
		15 * time.Second: true,
		30 * time.Second: true,
		time.Minute:      false,
	} {
		if err := ValidatePollInterval(d); (err == nil) != ok {
			t.Errorf("ValidatePollInterval(%s) = %v", d, err)
		}
	}

	t.Setenv("POLL_INTERVAL", "45s")
	if _, err := LoadPollerConfig(); err == nil {
		t.Fatal("expected out-of-range poll interval to fail")
	}
}

func TestConsumerRetryAttempts(t *testing.T) {
	t.Setenv("CONSUMER_RETRY_ATTEMPTS", "0")
	if _, err := LoadConsumerConfig(); err == nil {
		t.Fatal("expected error for zero attempts")
	}
	t.Setenv("CONSUMER_RETRY_ATTEMPTS", "5")
	t.Setenv("KAFKA_GROUP", "g1")
	cfg, err := LoadConsumerConfig()
	if err != nil || cfg.RetryAttempts != 5 || cfg.KafkaGroup != "g1" {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("RIDE_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RIDE_TEST_DOTENV", "")
	os.Unsetenv("RIDE_TEST_DOTENV")
	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("RIDE_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("got %q", got)
	}
}
