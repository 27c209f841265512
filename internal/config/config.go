package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	PublicURL   string
	CORSOrigins []string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr string

	// JWT
	JWTSecret string

	// Live sessions
	ReferenceClock   string
	PointsPerCorrect int
	AutoAdvance      bool
	RevealDelay      time.Duration
	LeaderboardDelay time.Duration
	TransitionDelay  time.Duration
	LeaderboardTTL   time.Duration
	QuizCacheTTL     time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		PublicURL:   strings.TrimRight(getEnvOrDefault("PUBLIC_URL", "http://localhost:3000"), "/"),
		CORSOrigins: getEnvAsListOrDefault("CORS_ORIGINS", []string{"http://localhost:3000"}),

		DBHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("DB_PORT", "5432"),
		DBUser:     getEnvOrDefault("DB_USER", "postgres"),
		DBPassword: getEnvOrDefault("DB_PASSWORD", ""),
		DBName:     getEnvOrDefault("DB_NAME", "live_quiz"),

		RedisAddr: getEnvOrDefault("REDIS_ADDR", "localhost:6379"),

		JWTSecret: mustGetEnv("JWT_SECRET"),

		ReferenceClock:   getEnvOrDefault("REFERENCE_CLOCK", "database"),
		PointsPerCorrect: getEnvAsIntOrDefault("POINTS_PER_CORRECT", 1),
		AutoAdvance:      getEnvAsBoolOrDefault("AUTO_ADVANCE", true),
		RevealDelay:      getEnvAsDurationOrDefault("REVEAL_DELAY", 3*time.Second),
		LeaderboardDelay: getEnvAsDurationOrDefault("LEADERBOARD_DELAY", 5*time.Second),
		TransitionDelay:  getEnvAsDurationOrDefault("TRANSITION_DELAY", 2*time.Second),
		LeaderboardTTL:   getEnvAsDurationOrDefault("LEADERBOARD_TTL", 2*time.Hour),
		QuizCacheTTL:     getEnvAsDurationOrDefault("QUIZ_CACHE_TTL", 24*time.Hour),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDurationOrDefault accepts Go durations ("1500ms") or plain seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
