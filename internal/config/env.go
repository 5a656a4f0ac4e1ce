package config

import (
	"os"
	"strings"
)

// Environment overrides. Secrets usually come from here (or a .env file) rather
// than the config file.
const (
	EnvTelegramToken = "REPOSTER_TELEGRAM_TOKEN"
	EnvStorageDSN    = "REPOSTER_STORAGE_DSN"
)

// ApplyEnv overrides secrets from the environment when set.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
	}
}
