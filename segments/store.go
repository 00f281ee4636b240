package segments

import (
	"fmt"
	"os"

	"presentkit/core"

	"github.com/bytedance/sonic"
)

// Store is the Segment Store contract: an ordered, immutable, zero-indexed
// sequence of presentation segments. Segment is idempotent and returns
// false once id passes the end of the deck.
type Store interface {
	Segment(id int) (core.Segment, bool)
	TotalSegments() int
}

// Deck is a complete generated presentation.
type Deck struct {
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle"`
	Segments []core.Segment `json:"segments"`
}

// StaticStore is an in-memory Store over a fixed deck. Segment ids are
// reassigned to their slice positions so they are always contiguous from 0.
type StaticStore struct {
	segments []core.Segment
}

// NewStaticStore copies segs into an immutable store.
func NewStaticStore(segs []core.Segment) *StaticStore {
	owned := make([]core.Segment, len(segs))
	copy(owned, segs)
	for i := range owned {
		owned[i].ID = i
	}
	return &StaticStore{segments: owned}
}

func (s *StaticStore) Segment(id int) (core.Segment, bool) {
	if id < 0 || id >= len(s.segments) {
		return core.Segment{}, false
	}
	return s.segments[id], true
}

func (s *StaticStore) TotalSegments() int {
	return len(s.segments)
}

// LoadDeckFile reads a Deck from a JSON file produced by Generator.BuildDeck
// (or authored by hand).
func LoadDeckFile(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("segments: read deck %q: %w", path, err)
	}
	var deck Deck
	if err := sonic.Unmarshal(data, &deck); err != nil {
		return nil, fmt.Errorf("segments: parse deck %q: %w", path, err)
	}
	return &deck, nil
}

// ParsePages parses an extracted-pages JSON array for deck generation.
func ParsePages(data []byte) ([]PageContent, error) {
	var pages []PageContent
	if err := sonic.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("segments: parse pages: %w", err)
	}
	return pages, nil
}

// SaveDeckFile writes a Deck as indented JSON.
func SaveDeckFile(path string, deck *Deck) error {
	data, err := sonic.MarshalIndent(deck, "", "  ")
	if err != nil {
		return fmt.Errorf("segments: marshal deck: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("segments: write deck %q: %w", path, err)
	}
	return nil
}
