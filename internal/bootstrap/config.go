package bootstrap

import (
	"os"
	"strconv"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	TranscriptionURL string
	Language         string
	SampleRate       int

	TurnEndpoint string

	// Service credentials for the interview backend. When the OAuth2
	// client is not configured, ServiceToken is used as a static bearer.
	TokenURL     string
	ClientID     string
	ClientSecret string
	ServiceToken string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", "127.0.0.1:8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		TranscriptionURL: getEnv("TRANSCRIPTION_URL", "ws://localhost:9090/v1/transcribe"),
		Language:         getEnv("TRANSCRIPTION_LANGUAGE", "en"),
		SampleRate:       getEnvInt("CAPTURE_SAMPLE_RATE", 16000),

		TurnEndpoint: getEnv("TURN_ENDPOINT", "http://localhost:9091/v1/interview/turn"),

		TokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
		ClientID:     getEnv("OAUTH_CLIENT_ID", ""),
		ClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		ServiceToken: getEnv("SERVICE_TOKEN", ""),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
