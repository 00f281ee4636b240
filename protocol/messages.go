package protocol

// EnvelopeType enumerates all outbound message types.
type EnvelopeType string

const (
	// EnvelopePresentation carries one narrated segment (or the closing
	// message once the deck is exhausted, with no segment id).
	EnvelopePresentation EnvelopeType = "presentation"
	// EnvelopePresentationResume replays the verbatim text of an interrupted
	// segment after a question has been answered.
	EnvelopePresentationResume EnvelopeType = "presentation_resume"
	// EnvelopeRAGAnswer carries an answer to a user question with sources.
	EnvelopeRAGAnswer EnvelopeType = "rag_answer"
	// EnvelopeError carries a user-safe error message.
	EnvelopeError EnvelopeType = "error"
	// EnvelopeResumeMidSegment tells the receiver to continue rendering the
	// named segment from its own local pause offset; it carries no content.
	EnvelopeResumeMidSegment EnvelopeType = "resume_mid_segment"
)

// ResponseEnvelope is the outbound message sent over the session channel.
type ResponseEnvelope struct {
	Type      EnvelopeType `json:"type"`
	Text      string       `json:"text,omitempty"`
	Images    []string     `json:"images"`
	SegmentID *int         `json:"segment_id,omitempty"`
	Sources   []string     `json:"sources,omitempty"`
	// PauseTimestamp is the wall-clock pause moment in Unix seconds, set only
	// on resume_mid_segment envelopes.
	PauseTimestamp *float64  `json:"pause_timestamp,omitempty"`
	Category       string    `json:"category,omitempty"`
	ImageTiming    []float64 `json:"image_timing,omitempty"`
}

// Command is a symbolic playback control command sent by the client.
type Command string

const (
	CommandPausePresentation  Command = "pause_presentation"
	CommandResumePresentation Command = "resume_presentation"
	CommandSegmentComplete    Command = "segment_complete"
	CommandNextSlide          Command = "next_slide"
)

// Valid reports whether c is one of the recognized commands.
func (c Command) Valid() bool {
	switch c {
	case CommandPausePresentation, CommandResumePresentation, CommandSegmentComplete, CommandNextSlide:
		return true
	}
	return false
}

// ClientMessage is the inbound event: free text, optional base64 audio for
// server-side transcription, or a control command. When Command is set the
// message is routed purely to the command handler.
type ClientMessage struct {
	Text    string  `json:"text,omitempty"`
	Audio   string  `json:"audio,omitempty"`
	Command Command `json:"command,omitempty"`
}
