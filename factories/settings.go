// Package factories loads and validates the service's configuration.
package factories

import (
	"fmt"
	"os"

	"presentkit/conversation"
	"presentkit/playback"
	"presentkit/rag"
	"presentkit/segments"

	"github.com/bytedance/sonic"
)

// OpenAIConfig carries shared OpenAI client settings.
type OpenAIConfig struct {
	// BaseURL overrides the API endpoint, for proxies and compatible servers.
	BaseURL string `json:"base_url,omitempty"`
	// TranscriptionModel is the speech-to-text model for audio messages.
	TranscriptionModel string `json:"transcription_model,omitempty"`
}

// SettingsConfig is the top-level config loaded from settings.json. Every
// section has working defaults; an empty file yields a runnable service.
type SettingsConfig struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr"`
	// DeckPath is a pre-generated deck JSON file to serve. When empty and
	// PagesPath is set, the deck is generated at startup.
	DeckPath string `json:"deck_path,omitempty"`
	// PagesPath is an extracted-pages JSON file to generate a deck from.
	PagesPath string `json:"pages_path,omitempty"`
	// HistoryDir, when set, enables conversation history persistence.
	HistoryDir string `json:"history_dir,omitempty"`

	OpenAI     OpenAIConfig                  `json:"openai"`
	Playback   playback.Config               `json:"playback"`
	Controller conversation.ControllerConfig `json:"controller"`
	History    conversation.HistoryConfig    `json:"history"`
	RAG        rag.Config                    `json:"rag"`
	Generator  segments.GeneratorConfig      `json:"generator"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with component
// defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Addr:       ":8000",
		Playback:   playback.DefaultConfig(),
		Controller: conversation.DefaultControllerConfig(),
		History:    conversation.DefaultHistoryConfig(),
		RAG:        rag.DefaultConfig(),
		Generator:  segments.DefaultGeneratorConfig(),
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig, applying
// defaults first so omitted sections keep working values.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	cfg := DefaultSettingsConfig()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// APIKeys holds API credentials, kept out of settings.json so config files
// stay shareable. Load them from the environment and inject after parsing.
type APIKeys struct {
	OpenAI string
}

// APIKeysFromEnv reads credentials from the environment.
func APIKeysFromEnv() APIKeys {
	return APIKeys{
		OpenAI: os.Getenv("OPENAI_API_KEY"),
	}
}

// Validate checks that the credentials required by cfg are present.
func (k APIKeys) Validate() error {
	if k.OpenAI == "" {
		return fmt.Errorf("settings: OPENAI_API_KEY is required")
	}
	return nil
}
