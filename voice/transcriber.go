// Package voice provides speech-to-text for inbound audio messages.
package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"presentkit/core"

	openai "github.com/sashabaranov/go-openai"
)

// Config configures transcription.
type Config struct {
	Model string `json:"model"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Model: openai.Whisper1}
}

// transcriptionClient is the slice of the OpenAI client the transcriber
// needs. *openai.Client satisfies it.
type transcriptionClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperTranscriber converts base64-encoded audio to text with the OpenAI
// transcription API.
type WhisperTranscriber struct {
	client transcriptionClient
	config Config
	logger *core.Logger
}

// NewWhisperTranscriber creates a WhisperTranscriber. client is typically
// *openai.Client.
func NewWhisperTranscriber(client transcriptionClient, config Config, logger *core.Logger) *WhisperTranscriber {
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &WhisperTranscriber{
		client: client,
		config: config,
		logger: logger.With(map[string]any{"component": "voice"}),
	}
}

// Transcribe decodes the base64 payload and returns its transcript.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(audio)
	if err != nil {
		return "", fmt.Errorf("voice: decode audio: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("voice: empty audio payload")
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.config.Model,
		FilePath: "audio.webm",
		Reader:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("voice: transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("audio transcribed", "chars", len(text))
	return text, nil
}
