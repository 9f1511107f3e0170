package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for all services
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Storage StorageConfig `yaml:"storage"`
	Upload  UploadConfig  `yaml:"upload"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection settings for the session store
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Type      string `yaml:"type"` // minio, s3
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	KeyPrefix string `yaml:"key_prefix"`
}

// UploadConfig holds upload session lifecycle settings
type UploadConfig struct {
	SessionTTL       time.Duration `yaml:"session_ttl"`
	PartURLTTL       time.Duration `yaml:"part_url_ttl"`
	DefaultChunkSize int64         `yaml:"default_chunk_size"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepRetryDelay  time.Duration `yaml:"sweep_retry_delay"`
	TerminalGrace    time.Duration `yaml:"terminal_grace"`
	HardCeiling      time.Duration `yaml:"hard_ceiling"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "minio"),
			Bucket:    getEnv("STORAGE_BUCKET", "chunkvault-uploads"),
			Region:    getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnv("STORAGE_SECRET_KEY", ""),
			UseSSL:    getEnvBool("STORAGE_USE_SSL", false),
			KeyPrefix: getEnv("STORAGE_KEY_PREFIX", "uploads/"),
		},
		Upload: UploadConfig{
			SessionTTL:       getEnvDuration("UPLOAD_SESSION_TTL", 7*24*time.Hour),
			PartURLTTL:       getEnvDuration("UPLOAD_PART_URL_TTL", time.Hour),
			DefaultChunkSize: getEnvInt64("UPLOAD_DEFAULT_CHUNK_SIZE", 10*1024*1024),
			SweepInterval:    getEnvDuration("UPLOAD_SWEEP_INTERVAL", 6*time.Hour),
			SweepRetryDelay:  getEnvDuration("UPLOAD_SWEEP_RETRY_DELAY", time.Minute),
			TerminalGrace:    getEnvDuration("UPLOAD_TERMINAL_GRACE", 48*time.Hour),
			HardCeiling:      getEnvDuration("UPLOAD_HARD_CEILING", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
