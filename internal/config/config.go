package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting
// services. It is built once at process start and passed by reference to
// every component; nothing reads the environment after Load returns.
type Config struct {
	BotToken       string
	MySQLDSN       string
	JWTSecret      []byte
	FreeDailyLimit int
	StoreTimeout   time.Duration
	SessionTTL     time.Duration

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string
}

// Load reads configuration from environment variables, applying sane
// defaults. A .env file is overlaid when present but is not required.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		FreeDailyLimit:  getInt("FREE_DAILY_LIMIT", 3),
		StoreTimeout:    time.Second * time.Duration(getInt("STORE_TIMEOUT_SECONDS", 10)),
		SessionTTL:      time.Minute * time.Duration(getInt("SESSION_TTL_MINUTES", 30)),
		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "change-me"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")

	secret, err := jwtSecret()
	if err != nil {
		return Config{}, err
	}
	cfg.JWTSecret = secret

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// jwtSecret reads JWT_SECRET or generates a per-process secret when the
// variable is unset. A generated secret invalidates JWTs issued before
// the last restart; set JWT_SECRET to keep them verifiable.
func jwtSecret() ([]byte, error) {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		return []byte(v), nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	return []byte(base64.RawURLEncoding.EncodeToString(raw)), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
