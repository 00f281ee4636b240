package core

import "time"

// ConversationMode is the delivery mode a session is currently in.
type ConversationMode string

const (
	// ModePresentation streams pre-generated narrated segments on a timer.
	ModePresentation ConversationMode = "presentation"
	// ModeRAG answers user questions against the document knowledge base.
	ModeRAG ConversationMode = "rag"
)

// ConversationState is the mutable per-session record of mode, playback
// cursor, and pause bookkeeping. CurrentSegment is the index of the next
// segment to fetch; the segment currently being displayed is therefore
// max(0, CurrentSegment-1).
type ConversationState struct {
	ConversationID     string           `json:"conversation_id"`
	Mode               ConversationMode `json:"mode"`
	CurrentSegment     int              `json:"current_segment"`
	PresentationPaused bool             `json:"presentation_paused"`
	// PausedAtSegment is the id of the segment that was being displayed when
	// the pause or interruption happened. Set only while PresentationPaused.
	PausedAtSegment *int `json:"paused_at_segment,omitempty"`
	// PausedMidSegment is true iff the pause happened while a segment was
	// actively being delivered, as opposed to between segments.
	PausedMidSegment bool       `json:"paused_mid_segment"`
	PauseTimestamp   *time.Time `json:"pause_timestamp,omitempty"`
	// InterruptedSegmentText holds the verbatim narration of the segment in
	// flight at interruption time, so resume can replay the exact text
	// instead of regenerating. Set only while PausedMidSegment.
	InterruptedSegmentText string    `json:"interrupted_segment_text,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// DisplayingSegment returns the id of the segment currently on screen.
func (s *ConversationState) DisplayingSegment() int {
	if s.CurrentSegment <= 1 {
		return 0
	}
	return s.CurrentSegment - 1
}

// Segment is one immutable unit of presentation playback: narration text,
// ordered images, and timing metadata. Ids are 0-indexed and contiguous.
type Segment struct {
	ID              int      `json:"id"`
	Text            string   `json:"text"`
	Images          []string `json:"images,omitempty"`
	DurationSeconds int      `json:"duration_seconds"`
	// ImageTiming holds reveal offsets in seconds, strictly increasing within
	// [0, DurationSeconds), one per image beyond the first.
	ImageTiming []float64 `json:"image_timing,omitempty"`
	PDFPage     int       `json:"pdf_page,omitempty"`
	PDFName     string    `json:"pdf_name,omitempty"`
	Category    string    `json:"category,omitempty"`
}

// MessageRole identifies the author of a history entry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageType classifies a history entry for context windowing.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeQuestion     MessageType = "question"
	MessageTypeRAGAnswer    MessageType = "rag_answer"
	MessageTypePresentation MessageType = "presentation"
)

// HistoryEntry is one appended record in a session's conversation log.
type HistoryEntry struct {
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Type      MessageType    `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
