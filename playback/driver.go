package playback

import (
	"context"
	"strings"
	"time"

	"presentkit/core"
	"presentkit/protocol"
)

// Config tunes segment pacing.
type Config struct {
	// SpeakingRateWPM converts narration length to an estimated dwell time.
	SpeakingRateWPM int `json:"speaking_rate_wpm"`
	// FloorSeconds is the minimum dwell per segment before the buffer.
	FloorSeconds int `json:"floor_seconds"`
	// BufferSeconds is added on top of every dwell estimate.
	BufferSeconds int `json:"buffer_seconds"`
	// PollIntervalMs is how often live state is re-checked during a dwell.
	PollIntervalMs int `json:"poll_interval_ms"`
	// InitialDelayMs is the pause before the first fetch of a run.
	InitialDelayMs int `json:"initial_delay_ms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SpeakingRateWPM: 150,
		FloorSeconds:    1,
		BufferSeconds:   2,
		PollIntervalMs:  500,
		InitialDelayMs:  1000,
	}
}

func (c Config) pollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c Config) initialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// Sender transmits one outbound envelope to the session's receiver.
type Sender interface {
	Send(env protocol.ResponseEnvelope) error
}

// Source supplies segments and live playback state for a conversation. The
// conversation controller implements it; NextSegment is the single place the
// playback cursor advances, so at most one driver task may run per session.
type Source interface {
	// NextSegment returns the next segment envelope and advances the cursor,
	// or nil when the session is inactive or no content provider is attached.
	// The error is non-nil only when the conversation no longer exists.
	NextSegment(ctx context.Context, conversationID string) (*protocol.ResponseEnvelope, error)
	// PresentationActive reports whether the session is in presentation mode
	// and not paused.
	PresentationActive(conversationID string) bool
}

// Driver streams presentation segments with timing and interruption checks.
// One Run per session at a time; start it through a TaskRegistry.
type Driver struct {
	source Source
	config Config
	logger *core.Logger
}

// NewDriver creates a Driver over source.
func NewDriver(source Source, config Config, logger *core.Logger) *Driver {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Driver{
		source: source,
		config: config,
		logger: logger.With(map[string]any{"component": "driver"}),
	}
}

// Run streams segments until the deck is exhausted, the session leaves
// presentation mode, a send fails, or ctx is cancelled. It never mutates the
// cursor itself; advancement is a side effect of each successful fetch.
func (d *Driver) Run(ctx context.Context, conversationID string, sender Sender) {
	logger := d.logger.With(map[string]any{"conversation_id": conversationID})

	select {
	case <-ctx.Done():
		return
	case <-time.After(d.config.initialDelay()):
	}

	for {
		if ctx.Err() != nil || !d.source.PresentationActive(conversationID) {
			logger.Debug("playback no longer active, stopping")
			return
		}

		env, err := d.source.NextSegment(ctx, conversationID)
		if err != nil {
			// Vanished session: stop gracefully.
			logger.Debug("segment fetch ended playback", "error", err)
			return
		}
		if env == nil {
			// Controller saw an inactive state or has no content provider.
			return
		}

		if err := sender.Send(*env); err != nil {
			logger.Error("transport send failed, stopping playback", "error", err)
			return
		}

		if env.SegmentID == nil {
			// Closing message after exhaustion.
			logger.Info("presentation complete")
			return
		}

		logger.Debug("segment sent", "segment_id", *env.SegmentID)
		if !d.dwell(ctx, conversationID, d.estimateDwell(env.Text)) {
			logger.Info("interrupted during dwell", "segment_id", *env.SegmentID)
			return
		}
	}
}

// estimateDwell estimates how long the receiver needs to present text.
func (d *Driver) estimateDwell(text string) time.Duration {
	rate := d.config.SpeakingRateWPM
	if rate <= 0 {
		rate = DefaultConfig().SpeakingRateWPM
	}
	secs := len(strings.Fields(text)) * 60 / rate
	if secs < d.config.FloorSeconds {
		secs = d.config.FloorSeconds
	}
	return time.Duration(secs+d.config.BufferSeconds) * time.Second
}

// dwell waits out the estimate, re-checking live state every poll interval.
// Returns false if playback should stop.
func (d *Driver) dwell(ctx context.Context, conversationID string, total time.Duration) bool {
	deadline := time.Now().Add(total)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d.config.pollInterval()):
		}
		if !d.source.PresentationActive(conversationID) {
			return false
		}
	}
	return true
}
