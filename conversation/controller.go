package conversation

import (
	"context"
	"sync"
	"time"

	"presentkit/core"
	"presentkit/protocol"
	"presentkit/rag"
	"presentkit/segments"

	"github.com/google/uuid"
)

// ControllerConfig tunes per-session orchestration.
type ControllerConfig struct {
	// ResumeDelaySeconds is how long presentation playback stays paused after
	// a question has been answered before resuming automatically.
	ResumeDelaySeconds int `json:"resume_delay_seconds"`
	// ContextBudget is the history entry budget passed to the answer provider.
	ContextBudget int `json:"context_budget"`
}

// DefaultControllerConfig returns a ControllerConfig with sensible defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		ResumeDelaySeconds: 3,
		ContextBudget:      10,
	}
}

// EmitFunc pushes a server-initiated envelope to a session's channel.
type EmitFunc func(conversationID string, env protocol.ResponseEnvelope) error

// RestartFunc starts a fresh playback task for a session, replacing any
// running one. It reports whether a task was started.
type RestartFunc func(conversationID string) bool

const closingMessage = "That concludes our presentation! Feel free to ask any questions about the documents."

const answerUnavailableMessage = "I apologize, but I'm having trouble processing your question. " +
	"Could you please try rephrasing it?"

// Controller owns all per-session state and multiplexes timed presentation
// playback with interactive question answering over one channel. All state
// transitions happen under its lock; the answer provider and the transport
// are always called outside it.
type Controller struct {
	store   segments.Store
	answers rag.AnswerProvider
	history *History
	config  ControllerConfig
	logger  *core.Logger

	emit        EmitFunc
	restart     RestartFunc
	resumeDelay time.Duration

	mu            sync.Mutex
	conversations map[string]*core.ConversationState
}

// NewController creates a Controller. store may be nil when no deck is
// loaded; every session then runs in question answering mode only.
func NewController(store segments.Store, answers rag.AnswerProvider, history *History, config ControllerConfig, logger *core.Logger) *Controller {
	if config.ResumeDelaySeconds <= 0 {
		config.ResumeDelaySeconds = DefaultControllerConfig().ResumeDelaySeconds
	}
	if config.ContextBudget <= 0 {
		config.ContextBudget = DefaultControllerConfig().ContextBudget
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Controller{
		store:         store,
		answers:       answers,
		history:       history,
		config:        config,
		logger:        logger.With(map[string]any{"component": "controller"}),
		resumeDelay:   time.Duration(config.ResumeDelaySeconds) * time.Second,
		conversations: make(map[string]*core.ConversationState),
	}
}

// SetTransport wires the outbound channel used for server-initiated sends
// (auto-resume) and driver restarts. Must be called before any session is
// served.
func (c *Controller) SetTransport(emit EmitFunc, restart RestartFunc) {
	c.emit = emit
	c.restart = restart
}

// CreateConversation registers a new session in presentation mode with the
// cursor at the first segment and returns its id.
func (c *Controller) CreateConversation() string {
	state := &core.ConversationState{
		ConversationID: uuid.New().String(),
		Mode:           core.ModePresentation,
		CreatedAt:      time.Now(),
	}

	c.mu.Lock()
	c.conversations[state.ConversationID] = state
	c.mu.Unlock()

	c.logger.Info("conversation created", "conversation_id", state.ConversationID)
	return state.ConversationID
}

// State returns a copy of the session's state.
func (c *Controller) State(conversationID string) (core.ConversationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.conversations[conversationID]
	if !ok {
		return core.ConversationState{}, core.ErrConversationNotFound
	}
	return *state, nil
}

// HandleMessage answers a user question. If the session is actively
// presenting, playback is interrupted first: the segment on screen is
// recorded for exact resume and an automatic resume is scheduled for after
// the answer. Questions asked while already paused or already in question
// mode are answered without touching playback state.
func (c *Controller) HandleMessage(ctx context.Context, conversationID, text string) (protocol.ResponseEnvelope, error) {
	c.mu.Lock()
	state, ok := c.conversations[conversationID]
	if !ok {
		c.mu.Unlock()
		return protocol.ResponseEnvelope{}, core.ErrConversationNotFound
	}

	interrupted := false
	if state.Mode == core.ModePresentation && !state.PresentationPaused {
		displaying := state.DisplayingSegment()
		now := time.Now()
		state.PresentationPaused = true
		state.PausedAtSegment = &displaying
		state.PausedMidSegment = true
		state.PauseTimestamp = &now
		if c.store != nil {
			if seg, found := c.store.Segment(displaying); found {
				state.InterruptedSegmentText = seg.Text
			}
		}
		state.Mode = core.ModeRAG
		interrupted = true
		c.logger.Info("presentation interrupted by question",
			"conversation_id", conversationID, "segment_id", displaying)
	}
	c.mu.Unlock()

	answer, err := c.answers.AnswerQuestion(ctx, text, c.history.FormattedContext(conversationID, c.config.ContextBudget))
	if err != nil {
		c.logger.Error("answer provider failed", "conversation_id", conversationID, "error", err)
		answer = rag.Answer{Text: answerUnavailableMessage, Sources: []string{}}
	}

	c.history.Append(conversationID, core.RoleUser, text, core.MessageTypeQuestion, nil)
	c.history.Append(conversationID, core.RoleAssistant, answer.Text, core.MessageTypeRAGAnswer,
		map[string]any{"sources": answer.Sources})

	if interrupted {
		go c.resumeAfterDelay(conversationID)
	}

	return protocol.ResponseEnvelope{
		Type:    protocol.EnvelopeRAGAnswer,
		Text:    answer.Text,
		Images:  answer.Images,
		Sources: answer.Sources,
	}, nil
}

// resumeAfterDelay restores presentation mode after the configured delay,
// replaying the interrupted segment verbatim. If the interruption happened on
// the final segment the session stays in question mode permanently.
func (c *Controller) resumeAfterDelay(conversationID string) {
	time.Sleep(c.resumeDelay)

	c.mu.Lock()
	state, ok := c.conversations[conversationID]
	if !ok || !state.PresentationPaused || !state.PausedMidSegment || state.Mode != core.ModeRAG {
		// The session moved on (explicit command or a second question
		// rescheduled things); this resume is stale.
		c.mu.Unlock()
		return
	}

	pausedAt := 0
	if state.PausedAtSegment != nil {
		pausedAt = *state.PausedAtSegment
	}

	total := 0
	if c.store != nil {
		total = c.store.TotalSegments()
	}
	if total == 0 || pausedAt >= total-1 {
		// Interrupted on the last segment: the deck is effectively done.
		state.Mode = core.ModeRAG
		state.PresentationPaused = false
		state.PausedAtSegment = nil
		state.PausedMidSegment = false
		state.PauseTimestamp = nil
		state.InterruptedSegmentText = ""
		c.mu.Unlock()
		c.logger.Info("interrupted on final segment, staying in question mode",
			"conversation_id", conversationID)
		return
	}

	env := protocol.ResponseEnvelope{
		Type:      protocol.EnvelopePresentationResume,
		Text:      state.InterruptedSegmentText,
		SegmentID: &pausedAt,
	}
	if seg, found := c.store.Segment(pausedAt); found {
		env.Images = seg.Images
		env.Category = seg.Category
		env.ImageTiming = seg.ImageTiming
	}

	state.CurrentSegment = pausedAt
	state.Mode = core.ModePresentation
	state.PresentationPaused = false
	state.PausedAtSegment = nil
	state.PausedMidSegment = false
	state.PauseTimestamp = nil
	state.InterruptedSegmentText = ""
	c.mu.Unlock()

	c.logger.Info("resuming presentation", "conversation_id", conversationID, "segment_id", pausedAt)

	if c.emit != nil {
		if err := c.emit(conversationID, env); err != nil {
			c.logger.Error("resume send failed", "conversation_id", conversationID, "error", err)
			return
		}
	}
	if c.restart != nil {
		c.restart(conversationID)
	}
}

// NextSegment returns the envelope for the segment at the cursor and
// advances it. It returns (nil, nil) when the session is not actively
// presenting or no deck is loaded. When the deck is exhausted it switches the
// session to question mode permanently and returns a closing message with no
// segment id.
func (c *Controller) NextSegment(ctx context.Context, conversationID string) (*protocol.ResponseEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.conversations[conversationID]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	if state.Mode != core.ModePresentation || state.PresentationPaused || c.store == nil {
		return nil, nil
	}

	seg, found := c.store.Segment(state.CurrentSegment)
	if !found {
		state.Mode = core.ModeRAG
		state.PresentationPaused = false
		state.PausedAtSegment = nil
		state.PausedMidSegment = false
		state.PauseTimestamp = nil
		state.InterruptedSegmentText = ""
		c.logger.Info("deck exhausted", "conversation_id", conversationID)
		return &protocol.ResponseEnvelope{
			Type: protocol.EnvelopePresentation,
			Text: closingMessage,
		}, nil
	}

	state.CurrentSegment++
	segID := seg.ID
	env := &protocol.ResponseEnvelope{
		Type:        protocol.EnvelopePresentation,
		Text:        seg.Text,
		Images:      seg.Images,
		SegmentID:   &segID,
		Category:    seg.Category,
		ImageTiming: seg.ImageTiming,
	}

	c.history.Append(conversationID, core.RoleAssistant, seg.Text, core.MessageTypePresentation,
		map[string]any{"segment_id": seg.ID})
	return env, nil
}

// PresentationActive reports whether the session is presenting and not
// paused.
func (c *Controller) PresentationActive(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.conversations[conversationID]
	return ok && state.Mode == core.ModePresentation && !state.PresentationPaused
}

// Pause records an explicit mid-segment pause of active playback. Pausing a
// session that is not actively presenting is a no-op.
func (c *Controller) Pause(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.conversations[conversationID]
	if !ok {
		return core.ErrConversationNotFound
	}
	if state.Mode != core.ModePresentation || state.PresentationPaused {
		return nil
	}

	displaying := state.DisplayingSegment()
	now := time.Now()
	state.PresentationPaused = true
	state.PausedAtSegment = &displaying
	state.PausedMidSegment = true
	state.PauseTimestamp = &now

	c.logger.Info("presentation paused", "conversation_id", conversationID, "segment_id", displaying)
	return nil
}

// Resume ends an explicit pause. For a mid-segment pause it emits a
// resume_mid_segment envelope so the receiver continues from its own local
// offset without refetching; restartDriver is then false because the
// receiver signals segment_complete when the segment finishes. For a
// between-segment pause the cursor is rewound to the paused segment and the
// caller must restart the playback task.
func (c *Controller) Resume(conversationID string) (restartDriver bool, err error) {
	c.mu.Lock()
	state, ok := c.conversations[conversationID]
	if !ok {
		c.mu.Unlock()
		return false, core.ErrConversationNotFound
	}
	if !state.PresentationPaused {
		c.mu.Unlock()
		return false, nil
	}

	pausedAt := 0
	if state.PausedAtSegment != nil {
		pausedAt = *state.PausedAtSegment
	}
	midSegment := state.PausedMidSegment

	var pauseUnix *float64
	if state.PauseTimestamp != nil {
		unix := float64(state.PauseTimestamp.Unix())
		pauseUnix = &unix
	}

	if !midSegment {
		state.CurrentSegment = pausedAt
	}
	state.Mode = core.ModePresentation
	state.PresentationPaused = false
	state.PausedAtSegment = nil
	state.PausedMidSegment = false
	state.PauseTimestamp = nil
	state.InterruptedSegmentText = ""
	c.mu.Unlock()

	c.logger.Info("presentation resumed", "conversation_id", conversationID,
		"segment_id", pausedAt, "mid_segment", midSegment)

	if midSegment {
		if c.emit != nil {
			env := protocol.ResponseEnvelope{
				Type:           protocol.EnvelopeResumeMidSegment,
				SegmentID:      &pausedAt,
				PauseTimestamp: pauseUnix,
			}
			if err := c.emit(conversationID, env); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	return true, nil
}

// PrepareSkip readies the session for a skip to the next segment. It reports
// whether a segment remains at the cursor; at the end of the deck a skip is
// a no-op. Skipping ends any active pause.
func (c *Controller) PrepareSkip(conversationID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.conversations[conversationID]
	if !ok {
		return false, core.ErrConversationNotFound
	}
	if state.Mode != core.ModePresentation || c.store == nil {
		return false, nil
	}
	if state.CurrentSegment >= c.store.TotalSegments() {
		return false, nil
	}

	state.PresentationPaused = false
	state.PausedAtSegment = nil
	state.PausedMidSegment = false
	state.PauseTimestamp = nil
	state.InterruptedSegmentText = ""
	return true, nil
}
