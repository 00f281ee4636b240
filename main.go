package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presentkit/conversation"
	"presentkit/core"
	"presentkit/factories"
	"presentkit/playback"
	"presentkit/rag"
	"presentkit/segments"
	"presentkit/storage"
	websockettransport "presentkit/transports/websocket"
	"presentkit/voice"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}

	logger := core.GetLogger()
	settings := loadSettingsFromEnv(logger)

	apiKeys := factories.APIKeysFromEnv()
	if err := apiKeys.Validate(); err != nil {
		logger.Fatal("missing credentials", "error", err)
	}

	clientConfig := openai.DefaultConfig(apiKeys.OpenAI)
	if settings.OpenAI.BaseURL != "" {
		clientConfig.BaseURL = settings.OpenAI.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	store := loadDeck(settings, client, logger)

	history := conversation.NewHistory(settings.History, logger)
	engine := rag.NewEngine(client, nil, settings.RAG, logger)
	controller := conversation.NewController(store, engine, history, settings.Controller, logger)

	tasks := playback.NewTaskRegistry()
	driver := playback.NewDriver(controller, settings.Playback, logger)

	server := websockettransport.NewServer(controller, driver, tasks, websockettransport.DefaultServerConfig(), logger)
	voiceConfig := voice.DefaultConfig()
	if settings.OpenAI.TranscriptionModel != "" {
		voiceConfig.Model = settings.OpenAI.TranscriptionModel
	}
	server.WithTranscriber(voice.NewWhisperTranscriber(client, voiceConfig, logger))

	if settings.HistoryDir != "" {
		fileStore, err := storage.NewFileStore(settings.HistoryDir)
		if err != nil {
			logger.Warn("history persistence disabled", "error", err)
		} else {
			server.WithCloseHook(func(conversationID string) {
				saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := history.Save(saveCtx, conversationID, fileStore); err != nil {
					logger.Warn("history save failed", "conversation_id", conversationID, "error", err)
				}
			})
		}
	}

	httpServer := &http.Server{
		Addr:    settings.Addr,
		Handler: server.Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", settings.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// loadSettingsFromEnv loads SettingsConfig from SETTINGS_JSON_B64 or a settings file.
func loadSettingsFromEnv(logger *core.Logger) factories.SettingsConfig {
	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			logger.Error("failed to decode SETTINGS_JSON_B64", "error", err)
			return factories.DefaultSettingsConfig()
		}
		settings, err := factories.SettingsConfigFromJSON(data)
		if err != nil {
			logger.Error("failed to parse SETTINGS_JSON_B64", "error", err)
			return factories.DefaultSettingsConfig()
		}
		logger.Info("loaded settings from SETTINGS_JSON_B64")
		return settings
	}

	settingsPath := getEnv("SETTINGS_PATH", "./settings.json")
	settings, err := factories.SettingsConfigFromFile(settingsPath)
	if err != nil {
		logger.Warn("failed to load settings, using defaults", "path", settingsPath, "error", err)
		return factories.DefaultSettingsConfig()
	}
	return settings
}

// loadDeck returns the segment store: a pre-generated deck file when
// configured, a deck generated from extracted pages otherwise, or nil when
// neither is set. Without a deck every session runs in question mode only.
func loadDeck(settings factories.SettingsConfig, client *openai.Client, logger *core.Logger) segments.Store {
	if settings.DeckPath != "" {
		deck, err := segments.LoadDeckFile(settings.DeckPath)
		if err != nil {
			logger.Fatal("failed to load deck", "path", settings.DeckPath, "error", err)
		}
		logger.Info("deck loaded", "path", settings.DeckPath, "segments", len(deck.Segments))
		return segments.NewStaticStore(deck.Segments)
	}

	if settings.PagesPath != "" {
		pages, err := loadPages(settings.PagesPath)
		if err != nil {
			logger.Fatal("failed to load pages", "path", settings.PagesPath, "error", err)
		}
		generator := segments.NewGenerator(client, settings.Generator, logger)
		genCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		deck, err := generator.BuildDeck(genCtx, pages)
		if err != nil {
			logger.Fatal("deck generation failed", "error", err)
		}
		return segments.NewStaticStore(deck.Segments)
	}

	logger.Warn("no deck configured, sessions will run in question mode only")
	return nil
}

func loadPages(path string) ([]segments.PageContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return segments.ParsePages(data)
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
