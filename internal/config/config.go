package config

import (
	"os"
	"strconv"
	"time"

	"studyhub-service/internal/paypal"
	"studyhub-service/internal/pkg/jwt"
)

type AppConfig struct {
	// Server
	HTTPAddr  string
	RedisAddr string
	RedisPass string
	RedisDB   int

	// JWT
	JWT jwt.Config

	// PayPal
	PayPal paypal.Config

	// Admin seed (created on startup when no admin exists)
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		JWT: jwt.Config{
			PrivPath: getEnv("JWT_PRIVATE_KEY_PATH", "/app/secrets/jwt_private.pem"),
			PubPath:  getEnv("JWT_PUBLIC_KEY_PATH", "/app/secrets/jwt_public.pem"),
			Issuer:   getEnv("JWT_ISSUER", "studyhub"),
			Audience: getEnv("JWT_AUDIENCE", "studyhub-api"),
			TTL:      getEnvDuration("JWT_TTL", 24*time.Hour),
			KID:      getEnv("JWT_KID", "studyhub-key"),
		},

		PayPal: paypal.Config{
			BaseURL:     getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ClientID:    getEnv("PAYPAL_CLIENT_ID", ""),
			Secret:      getEnv("PAYPAL_SECRET", ""),
			PlanMonthly: getEnv("PAYPAL_PLAN_MONTHLY", ""),
			PlanYearly:  getEnv("PAYPAL_PLAN_YEARLY", ""),
			ReturnURL:   getEnv("PAYPAL_RETURN_URL", "http://localhost:3000/billing/return"),
			CancelURL:   getEnv("PAYPAL_CANCEL_URL", "http://localhost:3000/billing/cancel"),
		},

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminName:     getEnv("ADMIN_NAME", "Administrator"),
	}
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
