package conversation

import (
	"presentkit/core"
	"presentkit/playback"
	"presentkit/protocol"
)

// CommandHandler routes symbolic playback commands to controller state
// transitions and playback task lifecycle changes. Commands never produce a
// reply envelope; their effects surface through state and server-initiated
// sends.
type CommandHandler struct {
	controller *Controller
	tasks      *playback.TaskRegistry
	start      RestartFunc
	logger     *core.Logger
}

// NewCommandHandler creates a CommandHandler. start launches a playback task
// for a session, replacing any running one.
func NewCommandHandler(controller *Controller, tasks *playback.TaskRegistry, start RestartFunc, logger *core.Logger) *CommandHandler {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &CommandHandler{
		controller: controller,
		tasks:      tasks,
		start:      start,
		logger:     logger.With(map[string]any{"component": "commands"}),
	}
}

// Handle applies one command to one session. Commands for unknown sessions
// are logged and dropped.
func (h *CommandHandler) Handle(conversationID string, cmd protocol.Command) {
	logger := h.logger.With(map[string]any{"conversation_id": conversationID, "command": string(cmd)})

	switch cmd {
	case protocol.CommandPausePresentation:
		if err := h.controller.Pause(conversationID); err != nil {
			logger.Warn("pause for unknown conversation", "error", err)
			return
		}
		h.tasks.Cancel(conversationID)

	case protocol.CommandResumePresentation:
		restartDriver, err := h.controller.Resume(conversationID)
		if err != nil {
			logger.Warn("resume failed", "error", err)
			return
		}
		if restartDriver {
			h.start(conversationID)
		}

	case protocol.CommandSegmentComplete:
		// The receiver finished rendering a segment. Only nudge playback when
		// no driver is running; an active driver owns its own pacing.
		if h.tasks.Active(conversationID) {
			return
		}
		if !h.controller.PresentationActive(conversationID) {
			return
		}
		h.start(conversationID)

	case protocol.CommandNextSlide:
		ok, err := h.controller.PrepareSkip(conversationID)
		if err != nil {
			logger.Warn("skip for unknown conversation", "error", err)
			return
		}
		if !ok {
			logger.Debug("skip ignored, no segment remaining")
			return
		}
		h.tasks.Cancel(conversationID)
		h.start(conversationID)

	default:
		logger.Warn("unrecognized command")
	}
}
