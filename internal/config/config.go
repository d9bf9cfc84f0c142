package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	MetricsTTLSeconds     int
	ExpiryWindowDays      int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	metricsTTL, err := strconv.Atoi(getEnv("METRICS_TTL_SECONDS", "20"))
	if err != nil || metricsTTL < 1 {
		metricsTTL = 20
	}
	expiryWindow, err := strconv.Atoi(getEnv("EXPIRY_WINDOW_DAYS", "30"))
	if err != nil || expiryWindow < 1 {
		expiryWindow = 30
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		MetricsTTLSeconds:     metricsTTL,
		ExpiryWindowDays:      expiryWindow,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
