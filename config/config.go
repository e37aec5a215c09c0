package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// A missing .env is fine, the process environment still applies.
	_ = godotenv.Load()
}

// Config returns the raw value of an environment key.
func Config(key string) string {
	return os.Getenv(key)
}

// Settings is the typed view of the environment used to wire the service.
type Settings struct {
	ServerPort string
	CorsOrigin string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string

	EventMode     string
	EventQueueOut string
	EventQueueIn  string
	EventLogDir   string

	OtpIssuer      string
	RequestTimeout time.Duration
	TypingRate     float64

	LogPath  string
	LogLevel string
}

// Event modes.
const (
	EventModeDisable   = "DISABLE"
	EventModeSend      = "SEND"
	EventModeSendLog   = "SEND_LOG"
	EventModeReplayOut = "REPLAY_OUT"
)

func Load() *Settings {
	redisDB, _ := strconv.Atoi(fallback("REDIS_DB", "0"))

	timeout, err := time.ParseDuration(fallback("REQUEST_TIMEOUT", "5s"))
	if err != nil || timeout <= 0 {
		timeout = 5 * time.Second
	}

	typingRate, err := strconv.ParseFloat(fallback("TYPING_RATE", "5"), 64)
	if err != nil || typingRate <= 0 {
		typingRate = 5
	}

	return &Settings{
		ServerPort: fallback("SERVER_PORT", "5000"),
		CorsOrigin: fallback("CORS_ORIGIN", "*"),

		PostgresHost:     fallback("POSTGRES_HOST", "localhost"),
		PostgresPort:     fallback("POSTGRES_PORT", "5432"),
		PostgresUser:     Config("POSTGRES_USER"),
		PostgresPassword: Config("POSTGRES_PASSWORD"),
		PostgresDB:       fallback("POSTGRES_DB", "realtalk"),

		RedisHost:     fallback("REDIS_HOST", "localhost"),
		RedisPort:     fallback("REDIS_PORT", "6379"),
		RedisPassword: Config("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		RabbitMQHost:     fallback("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     fallback("RABBITMQ_PORT", "5672"),
		RabbitMQUser:     fallback("RABBITMQ_USER", "guest"),
		RabbitMQPassword: fallback("RABBITMQ_PASSWORD", "guest"),

		EventMode:     fallback("EVENT_MODE", EventModeDisable),
		EventQueueOut: fallback("EVENT_QUEUE_OUT", "realtalk.events"),
		EventQueueIn:  fallback("EVENT_QUEUE_IN", "api"),
		EventLogDir:   fallback("EVENT_LOG_DIR", "log"),

		OtpIssuer:      fallback("OTP_ISSUER", "realtalk"),
		RequestTimeout: timeout,
		TypingRate:     typingRate,

		LogPath:  Config("LOG_PATH"),
		LogLevel: fallback("LOG_LEVEL", "info"),
	}
}

func fallback(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
