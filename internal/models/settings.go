package models

import (
	"os"
	"strconv"
)

// Settings are the operator-tunable knobs stored in the durable document.
// Only the whitelisted keys can be changed through the chat config command.
type Settings struct {
	DialogMode           string `json:"dialog_mode"`   // "confirm" or "guided"
	SessionScope         string `json:"session_scope"` // "user" or "group"
	CollectWindowSeconds int    `json:"collect_window_seconds"`
	MaxPhotos            int    `json:"max_photos"`
}

// DefaultSettings returns the settings used for a fresh document. The env
// knobs only seed the first document; after that the persisted values win.
func DefaultSettings() Settings {
	return Settings{
		DialogMode:           "confirm",
		SessionScope:         "user",
		CollectWindowSeconds: envInt("COLLECT_WINDOW_SECONDS", 30),
		MaxPhotos:            envInt("MAX_PHOTOS_PER_SESSION", 12),
	}
}

// SettingKeys is the whitelist of keys the chat config command may change.
// Credentials and store paths are deliberately not here.
var SettingKeys = map[string]bool{
	"dialog_mode":            true,
	"session_scope":          true,
	"collect_window_seconds": true,
	"max_photos":             true,
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
