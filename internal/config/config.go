package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Channels []string
	Group    string
	Consumer string

	AckTimeout   time.Duration
	PollInterval time.Duration
	BatchSize    int64
	Retries      int64
	MaxLen       int64
	Drain        time.Duration

	HTTPPort        string
	ReadyTimeout    time.Duration
	CollectInterval time.Duration
}

func Load() *Config {
	// .env опционален: в контейнере всё придёт из окружения
	_ = godotenv.Load()

	cfg := &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		Channels: splitList(getEnv("BROKER_CHANNELS", "messages")),
		Group:    getEnv("BROKER_GROUP", "broker-group"),
		Consumer: getEnv("BROKER_CONSUMER", ""),

		AckTimeout:   getEnvMillis("BROKER_ACK_TIMEOUT_MS", 10000),
		PollInterval: getEnvMillis("BROKER_POLL_INTERVAL_MS", 0),
		BatchSize:    int64(getEnvInt("BROKER_BATCH_SIZE", 1)),
		Retries:      int64(getEnvInt("BROKER_RETRIES", 3)),
		MaxLen:       int64(getEnvInt("BROKER_MAX_LEN", 5000)),
		Drain:        getEnvMillis("BROKER_DRAIN_MS", 60000),

		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadyTimeout:    getEnvMillis("STORE_READY_TIMEOUT_MS", 30000),
		CollectInterval: getEnvMillis("METRICS_COLLECT_INTERVAL_MS", 15000),
	}

	log.Println("config loaded")
	return cfg
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvMillis(key string, defMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defMillis)) * time.Millisecond
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
