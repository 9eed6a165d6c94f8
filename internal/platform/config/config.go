package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures all runtime configuration. FromEnv builds it from
// environment variables with defaults so main stays lean and tests can
// construct it directly.
type Config struct {
	Addr string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	OCR      OCRConfig
	Vision   VisionConfig
	Decision DecisionConfig
	Pipeline PipelineConfig
}

// PostgresConfig holds the connection string for the relational store.
// Empty DSN means in-memory stores are used.
type PostgresConfig struct {
	DSN string
}

// RedisConfig configures the lease/dedupe backend. Empty URL disables redis
// and falls back to in-memory implementations.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the decided-event publisher. No brokers means the
// no-op publisher is wired instead.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// OCRConfig configures the text extractor backend.
type OCRConfig struct {
	Endpoint        string
	APIKey          string
	Language        string
	Timeout         time.Duration
	MaxAttempts     int
	ConfidenceFloor float64
	RatePerMinute   int
}

// VisionConfig configures the structured extractor backend.
type VisionConfig struct {
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxAttempts   int
	RatePerMinute int
}

// DecisionConfig exposes the matching thresholds as tunable parameters.
type DecisionConfig struct {
	AutoApproveScore  float64
	ReviewScore       float64
	MinSeparation     float64
	RejectBelowReview bool
}

// PipelineConfig bounds the verification worker pool.
type PipelineConfig struct {
	Workers           int
	QueueSize         int
	SubmissionTimeout time.Duration
	LeaseTTL          time.Duration
	RequeueBackoff    time.Duration
	MaxImageBytes     int64
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr: envStr("PAYPROOF_ADDR", ":8080"),
		Postgres: PostgresConfig{
			DSN: os.Getenv("PAYPROOF_POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PAYPROOF_REDIS_URL"),
			PoolSize:     envInt("PAYPROOF_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PAYPROOF_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDur("PAYPROOF_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDur("PAYPROOF_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDur("PAYPROOF_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("PAYPROOF_KAFKA_BROKERS")),
			Topic:   envStr("PAYPROOF_KAFKA_TOPIC", "payproof.verification.decided"),
		},
		OCR: OCRConfig{
			Endpoint:        envStr("PAYPROOF_OCR_ENDPOINT", "https://api.ocr.space/parse/image"),
			APIKey:          os.Getenv("PAYPROOF_OCR_API_KEY"),
			Language:        envStr("PAYPROOF_OCR_LANGUAGE", "eng"),
			Timeout:         envDur("PAYPROOF_OCR_TIMEOUT", 15*time.Second),
			MaxAttempts:     envInt("PAYPROOF_OCR_MAX_ATTEMPTS", 3),
			ConfidenceFloor: envFloat("PAYPROOF_OCR_CONFIDENCE_FLOOR", 0.40),
			RatePerMinute:   envInt("PAYPROOF_OCR_RATE_PER_MINUTE", 60),
		},
		Vision: VisionConfig{
			APIKey:        os.Getenv("PAYPROOF_GEMINI_API_KEY"),
			Model:         envStr("PAYPROOF_GEMINI_MODEL", "gemini-1.5-flash"),
			Timeout:       envDur("PAYPROOF_VISION_TIMEOUT", 15*time.Second),
			MaxAttempts:   envInt("PAYPROOF_VISION_MAX_ATTEMPTS", 3),
			RatePerMinute: envInt("PAYPROOF_VISION_RATE_PER_MINUTE", 30),
		},
		Decision: DecisionConfig{
			AutoApproveScore:  envFloat("PAYPROOF_AUTO_APPROVE_SCORE", 90),
			ReviewScore:       envFloat("PAYPROOF_REVIEW_SCORE", 60),
			MinSeparation:     envFloat("PAYPROOF_MIN_SEPARATION", 10),
			RejectBelowReview: os.Getenv("PAYPROOF_REJECT_BELOW_REVIEW") == "true",
		},
		Pipeline: PipelineConfig{
			Workers:           envInt("PAYPROOF_WORKERS", 4),
			QueueSize:         envInt("PAYPROOF_QUEUE_SIZE", 256),
			SubmissionTimeout: envDur("PAYPROOF_SUBMISSION_TIMEOUT", 90*time.Second),
			LeaseTTL:          envDur("PAYPROOF_LEASE_TTL", 2*time.Minute),
			RequeueBackoff:    envDur("PAYPROOF_REQUEUE_BACKOFF", 10*time.Second),
			MaxImageBytes:     int64(envInt("PAYPROOF_MAX_IMAGE_BYTES", 5*1024*1024)),
		},
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
