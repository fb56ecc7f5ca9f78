package flowengine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DatabaseName string
	SSLMode      string
}

type RedisConfig struct {
	// Empty Host means the in-memory queue backend is used.
	Host     string
	Port     string
	Password string
	DB       int
}

type NatsConfig struct {
	URL      string
	TenantID string
}

type EngineConfig struct {
	RunTimeout      time.Duration
	NodeTimeout     time.Duration
	StrictVariables bool
}

type SandboxConfig struct {
	Enabled        bool
	PythonEnabled  bool
	PythonPath     string
	TimeoutMs      int
	MaxOutputBytes int
}

type QueueConfig struct {
	Workers       int
	LeaseDuration time.Duration
	PollInterval  time.Duration
	ReapInterval  time.Duration
	MaxAttempts   int
}

type SchedulerConfig struct {
	Enabled    bool
	TickPeriod time.Duration
	// Upper bound of missed instants replayed per trigger after downtime.
	MaxCatchUp int
}

type AIConfig struct {
	Provider           string
	APIKey             string
	BaseURL            string
	DefaultModel       string
	TranscriptionModel string
}

type WebhookConfig struct {
	Tolerance     time.Duration
	PublicBaseURL string
}

type AppConfig struct {
	Mode         string
	ApiPort      string
	MainDatabase DatabaseConfig
	RedisConfig  RedisConfig
	NatsConfig   NatsConfig
	JWTConfig    struct {
		Secret string
	}
	Engine    EngineConfig
	Sandbox   SandboxConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	AI        AIConfig
	Webhook   WebhookConfig
}

// InitConfig loads the env file and reads every setting. Missing mandatory keys abort the process.
func InitConfig(envfile string) AppConfig {
	err := godotenv.Load(envfile)
	if err != nil {
		log.Fatal(fmt.Sprintf("Error loading %s file: %s", envfile, err))
	}
	return AppConfig{
		Mode:    getEnvOrPanic("RUN_MODE"),
		ApiPort: getEnvOrPanic("API_PORT"),
		MainDatabase: DatabaseConfig{
			Host:         getEnvOrPanic("DB_HOSTNAME"),
			Port:         getEnvOrPanic("DB_PORT"),
			User:         getEnvOrPanic("DB_USERNAME"),
			Password:     getEnvOrPanic("DB_PASSWORD"),
			DatabaseName: getEnvOrPanic("DB_NAME"),
			SSLMode:      getEnvOrPanic("DB_SSL_MODE"),
		},
		JWTConfig: struct {
			Secret string
		}{
			Secret: getEnvOrPanic("JWT_SECRET"),
		},
		RedisConfig: RedisConfig{
			Host:     GetEnv("REDIS_HOST", ""),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnvOrDefault("REDIS_DB", 0),
		},
		NatsConfig: NatsConfig{
			URL:      GetEnv("NATS_URL", ""),
			TenantID: GetEnv("TENANT_ID", "default"),
		},
		Engine: EngineConfig{
			RunTimeout:      getDurationEnvOrDefault("ENGINE_RUN_TIMEOUT", 5*time.Minute),
			NodeTimeout:     getDurationEnvOrDefault("ENGINE_NODE_TIMEOUT", 2*time.Minute),
			StrictVariables: getBoolEnvOrDefault("ENGINE_STRICT_VARIABLES", false),
		},
		Sandbox: SandboxConfig{
			Enabled:        getBoolEnvOrDefault("SANDBOX_ENABLED", true),
			PythonEnabled:  getBoolEnvOrDefault("SANDBOX_PYTHON_ENABLED", false),
			PythonPath:     GetEnv("SANDBOX_PYTHON_PATH", "python3"),
			TimeoutMs:      getIntEnvOrDefault("SANDBOX_TIMEOUT_MS", 5000),
			MaxOutputBytes: getIntEnvOrDefault("SANDBOX_MAX_OUTPUT_BYTES", 64000),
		},
		Queue: QueueConfig{
			Workers:       getIntEnvOrDefault("QUEUE_WORKERS", 4),
			LeaseDuration: getDurationEnvOrDefault("QUEUE_LEASE_DURATION", 2*time.Minute),
			PollInterval:  getDurationEnvOrDefault("QUEUE_POLL_INTERVAL", time.Second),
			ReapInterval:  getDurationEnvOrDefault("QUEUE_REAP_INTERVAL", 30*time.Second),
			MaxAttempts:   getIntEnvOrDefault("QUEUE_MAX_ATTEMPTS", 3),
		},
		Scheduler: SchedulerConfig{
			Enabled:    getBoolEnvOrDefault("SCHEDULER_ENABLED", true),
			TickPeriod: getDurationEnvOrDefault("SCHEDULER_TICK", 10*time.Second),
			MaxCatchUp: getIntEnvOrDefault("SCHEDULER_MAX_CATCH_UP", 10),
		},
		AI: AIConfig{
			Provider:           GetEnv("AI_PROVIDER", "openai"),
			APIKey:             GetEnv("AI_API_KEY", ""),
			BaseURL:            GetEnv("AI_BASE_URL", ""),
			DefaultModel:       GetEnv("AI_DEFAULT_MODEL", "gpt-4o-mini"),
			TranscriptionModel: GetEnv("AI_TRANSCRIPTION_MODEL", "whisper-1"),
		},
		Webhook: WebhookConfig{
			Tolerance:     getDurationEnvOrDefault("WEBHOOK_SIGNATURE_TOLERANCE", 5*time.Minute),
			PublicBaseURL: GetEnv("PUBLIC_BASE_URL", ""),
		},
	}
}

func getEnvOrPanic(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s must be set", key)
	}
	return value
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func ConnectToPostgres(cfg DatabaseConfig) *gorm.DB {
	var err error
	var db *gorm.DB
	var conn *sql.DB

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DatabaseName, cfg.Port, cfg.SSLMode)
	if db, err = gorm.Open(postgres.Open(dsn),
		&gorm.Config{
			Logger: logger.New(
				log.New(os.Stdout, "\r\n", log.LstdFlags),
				logger.Config{
					SlowThreshold: 0,
					LogLevel:      logger.Error,
				},
			),
			CreateBatchSize: 1000,
			TranslateError:  true,
			NowFunc: func() time.Time {
				return time.Now()
			},
			NamingStrategy: schema.NamingStrategy{
				SingularTable: true,
			}}); err != nil {
		panic(err)
	}
	if conn, err = db.DB(); err != nil {
		panic(err)
	}
	conn.SetMaxIdleConns(10)
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxLifetime(time.Hour)
	return db
}

func NewLogger(mode string) zerolog.Logger {
	if mode == "prod" {
		return zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}

	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// ConnectToRedis returns nil when no host is configured.
func ConnectToRedis(cfg RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	return client
}
