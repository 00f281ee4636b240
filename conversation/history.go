package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"presentkit/core"
	"presentkit/storage"

	"github.com/bytedance/sonic"
)

// HistoryConfig bounds the per-session conversation log.
type HistoryConfig struct {
	// MaxEntries is the ring capacity per conversation; oldest entries are
	// evicted first.
	MaxEntries int `json:"max_entries"`
	// ContextBudget is the default entry budget for Context and
	// FormattedContext.
	ContextBudget int `json:"context_budget"`
}

// DefaultHistoryConfig returns a HistoryConfig with sensible defaults.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxEntries:    20,
		ContextBudget: 10,
	}
}

// History is a bounded, append-only per-session conversation log with
// importance-weighted context windowing. Question and answer entries are
// preferred over presentation narration when the log exceeds the budget.
type History struct {
	config HistoryConfig
	logger *core.Logger

	mu      sync.RWMutex
	entries map[string][]core.HistoryEntry
}

// NewHistory creates an empty History.
func NewHistory(config HistoryConfig, logger *core.Logger) *History {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultHistoryConfig().MaxEntries
	}
	if config.ContextBudget <= 0 {
		config.ContextBudget = DefaultHistoryConfig().ContextBudget
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &History{
		config:  config,
		logger:  logger.With(map[string]any{"component": "history"}),
		entries: make(map[string][]core.HistoryEntry),
	}
}

// Append records one entry, evicting the oldest when the ring is full.
func (h *History) Append(conversationID string, role core.MessageRole, content string, msgType core.MessageType, metadata map[string]any) {
	entry := core.HistoryEntry{
		Role:      role,
		Content:   content,
		Type:      msgType,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	log := append(h.entries[conversationID], entry)
	if overflow := len(log) - h.config.MaxEntries; overflow > 0 {
		log = log[overflow:]
	}
	h.entries[conversationID] = log
}

// Context returns up to budget entries in chronological order. When the log
// exceeds the budget, half the budget goes to the most recent question and
// rag_answer entries and half to the rest, merged back chronologically. A
// budget <= 0 uses the configured default.
func (h *History) Context(conversationID string, budget int) []core.HistoryEntry {
	if budget <= 0 {
		budget = h.config.ContextBudget
	}

	h.mu.RLock()
	log := h.entries[conversationID]
	out := make([]core.HistoryEntry, len(log))
	copy(out, log)
	h.mu.RUnlock()

	if len(out) <= budget {
		return out
	}

	// Consider a window of twice the budget so important entries pushed out
	// of the tail by narration are still eligible.
	window := out
	if len(window) > budget*2 {
		window = window[len(window)-budget*2:]
	}

	var important, regular []core.HistoryEntry
	for _, entry := range window {
		if entry.Type == core.MessageTypeQuestion || entry.Type == core.MessageTypeRAGAnswer {
			important = append(important, entry)
		} else {
			regular = append(regular, entry)
		}
	}

	half := budget / 2
	selected := append(tail(important, half), tail(regular, budget-half)...)
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Timestamp.Before(selected[j].Timestamp)
	})
	return tail(selected, budget)
}

// FormattedContext renders Context as role-and-type-annotated lines suitable
// for the answer provider prompt. Presentation narration is truncated to a
// short preview.
func (h *History) FormattedContext(conversationID string, budget int) string {
	entries := h.Context(conversationID, budget)
	if len(entries) == 0 {
		return ""
	}

	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		role := capitalize(string(entry.Role))
		switch entry.Type {
		case core.MessageTypePresentation:
			parts = append(parts, fmt.Sprintf("%s (presenting): %s", role, preview(entry.Content, 200)))
		case core.MessageTypeQuestion:
			parts = append(parts, fmt.Sprintf("%s (question): %s", role, entry.Content))
		case core.MessageTypeRAGAnswer:
			parts = append(parts, fmt.Sprintf("%s (answer): %s", role, entry.Content))
		default:
			parts = append(parts, fmt.Sprintf("%s: %s", role, entry.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}

// Summary holds conversation statistics.
type Summary struct {
	MessageCount int                      `json:"message_count"`
	ByRole       map[core.MessageRole]int `json:"by_role"`
	ByType       map[core.MessageType]int `json:"by_type"`
	FirstMessage *time.Time               `json:"first_message,omitempty"`
	LastMessage  *time.Time               `json:"last_message,omitempty"`
}

// Summary returns counts and first/last timestamps for one conversation.
func (h *History) Summary(conversationID string) Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	log := h.entries[conversationID]
	summary := Summary{
		MessageCount: len(log),
		ByRole:       make(map[core.MessageRole]int),
		ByType:       make(map[core.MessageType]int),
	}
	for _, entry := range log {
		summary.ByRole[entry.Role]++
		summary.ByType[entry.Type]++
	}
	if len(log) > 0 {
		first := log[0].Timestamp
		last := log[len(log)-1].Timestamp
		summary.FirstMessage = &first
		summary.LastMessage = &last
	}
	return summary
}

// Clear drops one conversation's log.
func (h *History) Clear(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, conversationID)
}

// Save persists one conversation's log to the blob store under its id.
func (h *History) Save(ctx context.Context, conversationID string, store storage.BlobStore) error {
	h.mu.RLock()
	log := h.entries[conversationID]
	out := make([]core.HistoryEntry, len(log))
	copy(out, log)
	h.mu.RUnlock()

	data, err := sonic.Marshal(out)
	if err != nil {
		return fmt.Errorf("history: marshal %q: %w", conversationID, err)
	}
	if err := store.Put(ctx, conversationID, data); err != nil {
		return fmt.Errorf("history: save %q: %w", conversationID, err)
	}
	return nil
}

// Load restores one conversation's log from the blob store, trimming to the
// ring capacity.
func (h *History) Load(ctx context.Context, conversationID string, store storage.BlobStore) error {
	data, err := store.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("history: load %q: %w", conversationID, err)
	}
	var log []core.HistoryEntry
	if err := sonic.Unmarshal(data, &log); err != nil {
		return fmt.Errorf("history: parse %q: %w", conversationID, err)
	}
	if overflow := len(log) - h.config.MaxEntries; overflow > 0 {
		log = log[overflow:]
	}

	h.mu.Lock()
	h.entries[conversationID] = log
	h.mu.Unlock()
	return nil
}

func tail(entries []core.HistoryEntry, n int) []core.HistoryEntry {
	if n <= 0 {
		return nil
	}
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
