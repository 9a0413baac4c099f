package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretBytes = 32

type Config struct {
	ServerPort int
	Database   DatabaseConfig
	Auth       AuthConfig
	Log        LogConfig
	MQ         MQConfig
	Storage    StorageConfig
	Redis      RedisConfig
	SMTP       SMTPConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	UseSSL         bool
	MigrationsPath string
}

// AuthConfig configures token issuance and password hashing.
type AuthConfig struct {
	// JWTSecret is the HMAC signing key. It must never be logged.
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration

	// PasswordHash selects "bcrypt" or "argon2id".
	PasswordHash  string
	BcryptCost    int
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8

	// RecheckAccount makes the guard re-read account flags on every request.
	RecheckAccount bool
}

type LogConfig struct {
	Level  string
	Format string
}

// MQConfig selects the message broker used for outbound mail.
type MQConfig struct {
	Backend   string
	MailQueue string
	RabbitMQ  RabbitMQConfig
	PubSub    PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

// StorageConfig selects the object store for post images.
type StorageConfig struct {
	Backend string
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           getEnvInt("DB_PORT", 5432),
		User:           getEnv("DB_USER", "quillpress"),
		Password:       getEnv("DB_PASSWORD", "password"),
		DBName:         getEnv("DB_NAME", "quillpress_db"),
		UseSSL:         getEnvBool("DB_USE_SSL", false),
		MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "internal/db/migrations"),
	}

	authConfig := AuthConfig{
		JWTSecret:      strings.TrimSpace(getEnv("JWT_SECRET", "")),
		Issuer:         getEnv("JWT_ISSUER", "quillpress"),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 24*time.Hour),
		PasswordHash:   strings.ToLower(getEnv("PASSWORD_HASH", "bcrypt")),
		BcryptCost:     getEnvInt("BCRYPT_COST", 12),
		Argon2Time:     uint32(getEnvInt("ARGON2_TIME", 1)),
		Argon2Memory:   uint32(getEnvInt("ARGON2_MEMORY", 64*1024)),
		Argon2Threads:  uint8(getEnvInt("ARGON2_THREADS", 4)),
		RecheckAccount: getEnvBool("AUTH_RECHECK_ACCOUNT", true),
	}

	mqConfig := MQConfig{
		Backend:   strings.ToLower(getEnv("MQ_BACKEND", "memory")),
		MailQueue: getEnv("MQ_MAIL_QUEUE", "mail.outbound"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	storageConfig := StorageConfig{
		Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "none")),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "quillpress-images"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Auth:       authConfig,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		MQ:      mqConfig,
		Storage: storageConfig,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_ACCOUNT_TTL", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@quillpress.local"),
			Timeout:  getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		},
	}
}

// Validate reports every configuration problem found, joined into one error.
func (c Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.Auth.JWTSecret) < minSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretBytes))
	}
	if c.Auth.TokenTTL < time.Second {
		errs = append(errs, errors.New("TOKEN_TTL must be at least 1s"))
	}
	switch c.Auth.PasswordHash {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("unsupported PASSWORD_HASH %q", c.Auth.PasswordHash))
	}

	switch c.MQ.Backend {
	case "memory":
	case "rabbitmq":
		if strings.TrimSpace(c.MQ.RabbitMQ.URL) == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required for the rabbitmq backend"))
		}
	case "pubsub":
		if strings.TrimSpace(c.MQ.PubSub.ProjectID) == "" {
			errs = append(errs, errors.New("PUBSUB_PROJECT_ID is required for the pubsub backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported MQ_BACKEND %q", c.MQ.Backend))
	}

	switch c.Storage.Backend {
	case "none", "minio", "gcs":
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
