package config

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds the project config values
type Config struct {
	URL          string
	DatabaseName string
	BaseURL      string
	Port         string
	Env          string

	// RedisAddr enables the socket.io redis adapter so rooms are shared
	// between api instances. Empty keeps rooms in process.
	RedisAddr   string
	RedisPrefix string

	QueryTimeout time.Duration
	PresenceCron string
}

// New sets up all config related services
func New() *Config {
	// a missing .env is fine, heroku injects the environment directly
	_ = godotenv.Load()

	env := getEnv("ENV", "production")

	//setup zap logger and replace default logger
	logger, err := setLogger(env)
	if err != nil {
		logger = zap.NewExample()
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	return &Config{
		URL:          os.Getenv("DB_URI"),
		DatabaseName: os.Getenv("DB_NAME"),
		BaseURL:      os.Getenv("BASE_URL"),
		Port:         getEnv("PORT", "8080"),
		Env:          env,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisPrefix:  getEnv("REDIS_PREFIX", "marketplace-chat"),
		QueryTimeout: getEnvDuration("QUERY_TIMEOUT", 10*time.Second),
		PresenceCron: getEnv("PRESENCE_CRON", "@every 1m"),
	}
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.WriteHeader(httpStatusCode)
	w.Write([]byte(fmt.Sprintf(`{"response": "%s, %v"}`, message, err)))
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		zap.S().Warnw("ignoring invalid duration", "key", key, "value", value)
		return defaultValue
	}
	return d
}
