// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment
// variables into a single immutable record read once at process boot.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConcurrencyConfig holds the worker-pool size for each job type.
type ConcurrencyConfig struct {
	Sync    int
	Fetch   int
	Parse   int
	Stitch  int
	Route   int
	Outbound int
}

// BlobConfig selects and configures the blob store backend.
type BlobConfig struct {
	Backend   string // "filesystem" or "s3"
	Root      string // filesystem root
	Endpoint  string // s3 endpoint
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// GoogleConfig holds the OAuth client used for the refresh-token grant.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
}

// Config holds all configuration for the ingestion core. It is loaded once
// at boot and passed by reference to every component; nothing re-reads it.
type Config struct {
	DatabaseURL string

	Blob BlobConfig

	// EncryptionKey is the 32-byte AES-GCM key used to encrypt mailbox
	// refresh credentials at rest, decoded from base64.
	EncryptionKey []byte

	RedisURL string

	Google GoogleConfig

	Concurrency ConcurrencyConfig

	VisibilityTimeout time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration

	CircuitBreakerThreshold int
	PauseWindow             time.Duration

	SyncCadence       time.Duration
	WatchRenewLead    time.Duration
	ReaperInterval    time.Duration
	DrainGracePeriod  time.Duration

	SanitizerRevision string
	ParserVersion     string

	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Blob struct {
		Backend   string `yaml:"backend"`
		Root      string `yaml:"root"`
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"blob"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		APIBaseURL   string `yaml:"api_base_url"`
	} `yaml:"google"`
	Concurrency struct {
		Sync     int `yaml:"sync"`
		Fetch    int `yaml:"fetch"`
		Parse    int `yaml:"parse"`
		Stitch   int `yaml:"stitch"`
		Route    int `yaml:"route"`
		Outbound int `yaml:"outbound"`
	} `yaml:"concurrency"`
	CircuitBreaker struct {
		Threshold   int    `yaml:"threshold"`
		PauseWindow string `yaml:"pause_window"`
	} `yaml:"circuit_breaker"`
	Sanitizer struct {
		Revision string `yaml:"revision"`
	} `yaml:"sanitizer"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for secrets and deployment overrides.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML before parsing.
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	keyRaw := envOrDefault("ENCRYPTION_KEY", "")
	key, err := decodeEncryptionKey(keyRaw)
	if err != nil {
		return nil, fmt.Errorf("decode ENCRYPTION_KEY: %w", err)
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(envOrDefault("DATABASE_URL", ""), raw.Database.URL),
		Blob: BlobConfig{
			Backend:   firstNonEmpty(envOrDefault("BLOB_BACKEND", ""), raw.Blob.Backend, "filesystem"),
			Root:      firstNonEmpty(envOrDefault("BLOB_ROOT", ""), raw.Blob.Root, "/var/lib/journalcore/blobs"),
			Endpoint:  firstNonEmpty(envOrDefault("BLOB_ENDPOINT", ""), raw.Blob.Endpoint),
			Bucket:    firstNonEmpty(envOrDefault("BLOB_BUCKET", ""), raw.Blob.Bucket, "journalcore"),
			AccessKey: firstNonEmpty(envOrDefault("BLOB_ACCESS_KEY", ""), raw.Blob.AccessKey),
			SecretKey: firstNonEmpty(envOrDefault("BLOB_SECRET_KEY", ""), raw.Blob.SecretKey),
			UseSSL:    raw.Blob.UseSSL,
		},
		EncryptionKey: key,
		RedisURL:      firstNonEmpty(envOrDefault("REDIS_URL", ""), raw.Redis.URL, "redis://localhost:6379/0"),
		Google: GoogleConfig{
			ClientID:     firstNonEmpty(envOrDefault("GOOGLE_CLIENT_ID", ""), raw.Google.ClientID),
			ClientSecret: firstNonEmpty(envOrDefault("GOOGLE_CLIENT_SECRET", ""), raw.Google.ClientSecret),
			APIBaseURL:   firstNonEmpty(envOrDefault("GMAIL_API_BASE_URL", ""), raw.Google.APIBaseURL, "https://gmail.googleapis.com"),
		},
		Concurrency: ConcurrencyConfig{
			Sync:     intOrDefault(raw.Concurrency.Sync, envOrDefaultInt("CONCURRENCY_SYNC", 2)),
			Fetch:    intOrDefault(raw.Concurrency.Fetch, envOrDefaultInt("CONCURRENCY_FETCH", 8)),
			Parse:    intOrDefault(raw.Concurrency.Parse, envOrDefaultInt("CONCURRENCY_PARSE", 8)),
			Stitch:   intOrDefault(raw.Concurrency.Stitch, envOrDefaultInt("CONCURRENCY_STITCH", 4)),
			Route:    intOrDefault(raw.Concurrency.Route, envOrDefaultInt("CONCURRENCY_ROUTE", 4)),
			Outbound: intOrDefault(raw.Concurrency.Outbound, envOrDefaultInt("CONCURRENCY_OUTBOUND", 2)),
		},
		VisibilityTimeout: envOrDefaultDuration("VISIBILITY_TIMEOUT", 5*time.Minute),
		BackoffBase:       envOrDefaultDuration("BACKOFF_BASE", 30*time.Second),
		BackoffCap:        envOrDefaultDuration("BACKOFF_CAP", 15*time.Minute),

		CircuitBreakerThreshold: intOrDefault(raw.CircuitBreaker.Threshold, envOrDefaultInt("CIRCUIT_BREAKER_THRESHOLD", 5)),
		PauseWindow:             durationOrDefault(raw.CircuitBreaker.PauseWindow, envOrDefaultDuration("PAUSE_WINDOW", 30*time.Minute)),

		SyncCadence:      envOrDefaultDuration("SYNC_CADENCE", 60*time.Second),
		WatchRenewLead:   envOrDefaultDuration("WATCH_RENEW_LEAD", 24*time.Hour),
		ReaperInterval:   envOrDefaultDuration("REAPER_INTERVAL", 30*time.Second),
		DrainGracePeriod: envOrDefaultDuration("DRAIN_GRACE_PERIOD", 20*time.Second),

		SanitizerRevision: firstNonEmpty(envOrDefault("SANITIZER_REVISION", ""), raw.Sanitizer.Revision, "v1"),
		ParserVersion:     envOrDefault("PARSER_VERSION", "v1"),

		Port: envOrDefaultInt("PORT", 8080),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required — check config.yaml and environment variables")
	}
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	return cfg, nil
}

func decodeEncryptionKey(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, fmt.Errorf("not set")
	}
	return base64.StdEncoding.DecodeString(b64)
}

func intOrDefault(yamlVal, fallback int) int {
	if yamlVal != 0 {
		return yamlVal
	}
	return fallback
}

func durationOrDefault(yamlDur string, fallback time.Duration) time.Duration {
	if yamlDur == "" {
		return fallback
	}
	if d, err := time.ParseDuration(yamlDur); err == nil {
		return d
	}
	return fallback
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
