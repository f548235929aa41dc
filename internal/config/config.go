package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string

	PortalBaseURL string
	QuoteBaseURL  string
	LoginDuration int

	SolverURL        string
	SolverTimeout    time.Duration
	SolverMaxRetries int
	CaptchaTimeout   time.Duration

	StoreMode      string
	CacheDir       string
	DatabaseURL    string
	StoreKey       string
	SessionTTL     time.Duration
	ValidityPolicy string

	MaxLoginRetries int
	RetryDelay      time.Duration

	AdminUsername string
	AdminPassword string
	JWTSecret     string

	TelegramBotToken string
	TelegramChatID   string
}

func Load() Config {
	return Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":18090"),
		PortalBaseURL:    getEnv("EMTL_PORTAL_URL", "https://jywg.18.cn"),
		QuoteBaseURL:     getEnv("EMTL_QUOTE_URL", "https://emhsmarketwg.eastmoneysec.com"),
		LoginDuration:    getInt("EMTL_LOGIN_DURATION", 180),
		SolverURL:        getEnv("EMTL_SOLVER_URL", ""),
		SolverTimeout:    getDuration("EMTL_SOLVER_TIMEOUT", 30*time.Second),
		SolverMaxRetries: getInt("EMTL_SOLVER_MAX_RETRIES", 2),
		CaptchaTimeout:   getDuration("EMTL_CAPTCHA_TIMEOUT", 60*time.Second),
		StoreMode:        getEnv("EMTL_STORE_MODE", "file"),
		CacheDir:         cacheDir(),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		StoreKey:         getEnv("EMTL_STORE_KEY", ""),
		SessionTTL:       getDuration("EMTL_SESSION_TTL", 30*time.Minute),
		ValidityPolicy:   getEnv("EMTL_VALIDITY_POLICY", "ttl"),
		MaxLoginRetries:  getInt("EMTL_MAX_LOGIN_RETRIES", 3),
		RetryDelay:       getDuration("EMTL_RETRY_DELAY", 0),
		AdminUsername:    getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:        getEnv("JWT_SECRET", "change-this-secret"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// cacheDir resolves the session store directory: the env override wins,
// then ~/.emtl, then a relative fallback when no home is known.
func cacheDir() string {
	if dir := os.Getenv("EMTL_CACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".emtl"
	}
	return filepath.Join(home, ".emtl")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
