package segments

import (
	"context"
	"fmt"
	"strings"

	"presentkit/core"

	"github.com/bytedance/sonic"
	openai "github.com/sashabaranov/go-openai"
)

// PageContent is one extracted document page, produced by the external
// extraction pipeline.
type PageContent struct {
	PDFName    string   `json:"pdf_name"`
	PageNumber int      `json:"page_number"`
	Text       string   `json:"text"`
	Images     []string `json:"images,omitempty"`
}

// GeneratorConfig configures deck generation.
type GeneratorConfig struct {
	Model       string  `json:"model"`
	MaxSlides   int     `json:"max_slides"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	// SpeakingRateWPM drives the per-segment duration estimate.
	SpeakingRateWPM int `json:"speaking_rate_wpm"`
}

// DefaultGeneratorConfig returns a GeneratorConfig with sensible defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Model:           openai.GPT4oMini,
		MaxSlides:       10,
		MaxTokens:       800,
		Temperature:     0.4,
		SpeakingRateWPM: 150,
	}
}

// chatClient is the slice of the OpenAI client the generator needs.
// *openai.Client satisfies it.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator turns extracted page content into a narrated presentation deck:
// one structure-analysis completion, then one narration completion per slide.
// Any AI failure degrades to a page-per-slide fallback rather than erroring.
type Generator struct {
	client chatClient
	config GeneratorConfig
	logger *core.Logger
}

// NewGenerator creates a Generator. client is typically *openai.Client.
func NewGenerator(client chatClient, config GeneratorConfig, logger *core.Logger) *Generator {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Generator{
		client: client,
		config: config,
		logger: logger.With(map[string]any{"component": "generator"}),
	}
}

type deckOutline struct {
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle"`
	Slides   []slideOutline `json:"slides"`
}

type slideOutline struct {
	SlideNumber   int      `json:"slide_number"`
	Title         string   `json:"title"`
	KeyPoints     []string `json:"key_points"`
	RelevantPages []int    `json:"relevant_pages"`
	Category      string   `json:"category,omitempty"`
}

const structureSystemPrompt = "You are a presentation expert who creates structured presentations from documents. Respond with JSON only."

const narrationSystemPrompt = "You are a presentation narrator. Write flowing spoken narration for a single slide, 3-6 sentences, no markdown, no bullet points."

// BuildDeck generates a complete deck from extracted pages.
func (g *Generator) BuildDeck(ctx context.Context, pages []PageContent) (*Deck, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("segments: no pages to build deck from")
	}

	outline := g.analyzeStructure(ctx, pages)

	deck := &Deck{
		Title:    outline.Title,
		Subtitle: outline.Subtitle,
		Segments: make([]core.Segment, 0, len(outline.Slides)),
	}
	for i, slide := range outline.Slides {
		seg := g.buildSegment(ctx, slide, pages)
		seg.ID = i
		deck.Segments = append(deck.Segments, seg)
	}

	g.logger.Info("deck generated", "title", deck.Title, "segments", len(deck.Segments))
	return deck, nil
}

// analyzeStructure asks the model for a slide outline; on any failure it
// falls back to one slide per page.
func (g *Generator) analyzeStructure(ctx context.Context, pages []PageContent) deckOutline {
	var content strings.Builder
	for _, page := range pages {
		fmt.Fprintf(&content, "\n--- %s page %d ---\n%s", page.PDFName, page.PageNumber, page.Text)
	}

	prompt := fmt.Sprintf(
		"Analyze this document content and create a presentation structure with at most %d slides.\n\n%s\n\n"+
			`Respond as JSON: {"title": "...", "subtitle": "...", "slides": [{"slide_number": 1, "title": "...", "key_points": ["..."], "relevant_pages": [1], "category": "..."}]}`,
		g.config.MaxSlides, truncate(content.String(), 4000),
	)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: structureSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   1500,
		Temperature: 0.3,
	})
	if err != nil {
		g.logger.Warn("structure analysis failed, using fallback", "error", err)
		return g.fallbackOutline(pages)
	}
	if len(resp.Choices) == 0 {
		return g.fallbackOutline(pages)
	}

	var outline deckOutline
	if err := sonic.Unmarshal([]byte(extractJSON(resp.Choices[0].Message.Content)), &outline); err != nil || len(outline.Slides) == 0 {
		g.logger.Warn("structure response was not valid JSON, using fallback", "error", err)
		return g.fallbackOutline(pages)
	}
	if len(outline.Slides) > g.config.MaxSlides {
		outline.Slides = outline.Slides[:g.config.MaxSlides]
	}
	return outline
}

// fallbackOutline maps the first MaxSlides pages one-to-one onto slides.
func (g *Generator) fallbackOutline(pages []PageContent) deckOutline {
	n := len(pages)
	if n > g.config.MaxSlides {
		n = g.config.MaxSlides
	}
	outline := deckOutline{
		Title:    fmt.Sprintf("%s Presentation", pages[0].PDFName),
		Subtitle: fmt.Sprintf("Overview of %d pages", len(pages)),
	}
	for i := 0; i < n; i++ {
		outline.Slides = append(outline.Slides, slideOutline{
			SlideNumber:   i + 1,
			Title:         fmt.Sprintf("Page %d", pages[i].PageNumber),
			KeyPoints:     []string{truncate(pages[i].Text, 100)},
			RelevantPages: []int{pages[i].PageNumber},
		})
	}
	return outline
}

// buildSegment generates narration for one slide and assembles the Segment,
// including images and reveal timing from its relevant pages.
func (g *Generator) buildSegment(ctx context.Context, slide slideOutline, pages []PageContent) core.Segment {
	relevant := relevantPages(slide, pages)

	var source strings.Builder
	for _, page := range relevant {
		fmt.Fprintf(&source, "Page %d: %s\n", page.PageNumber, page.Text)
	}

	text := g.narrate(ctx, slide, source.String())

	seg := core.Segment{
		Text:     text,
		Category: slide.Category,
	}
	if len(relevant) > 0 {
		seg.PDFPage = relevant[0].PageNumber
		seg.PDFName = relevant[0].PDFName
		for _, page := range relevant {
			seg.Images = append(seg.Images, page.Images...)
		}
	}
	seg.DurationSeconds = estimateDuration(text, g.config.SpeakingRateWPM)
	seg.ImageTiming = spreadImageTiming(len(seg.Images), seg.DurationSeconds)
	return seg
}

func (g *Generator) narrate(ctx context.Context, slide slideOutline, source string) string {
	prompt := fmt.Sprintf(
		"Slide: %s\nKey points: %s\n\nSource content:\n%s",
		slide.Title, strings.Join(slide.KeyPoints, "; "), truncate(source, 2000),
	)
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: narrationSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	})
	if err != nil || len(resp.Choices) == 0 {
		g.logger.Warn("narration failed, using key points", "slide", slide.Title, "error", err)
		return fmt.Sprintf("%s. %s", slide.Title, strings.Join(slide.KeyPoints, ". "))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

func relevantPages(slide slideOutline, pages []PageContent) []PageContent {
	var out []PageContent
	for _, num := range slide.RelevantPages {
		for _, page := range pages {
			if page.PageNumber == num {
				out = append(out, page)
			}
		}
	}
	return out
}

// estimateDuration estimates spoken duration in whole seconds, at least 1.
func estimateDuration(text string, rateWPM int) int {
	if rateWPM <= 0 {
		rateWPM = 150
	}
	secs := len(strings.Fields(text)) * 60 / rateWPM
	if secs < 1 {
		secs = 1
	}
	return secs
}

// spreadImageTiming assigns evenly spaced reveal offsets for every image
// beyond the first, strictly increasing within [0, duration).
func spreadImageTiming(imageCount, durationSeconds int) []float64 {
	if imageCount < 2 || durationSeconds <= 0 {
		return nil
	}
	step := float64(durationSeconds) / float64(imageCount)
	timing := make([]float64, 0, imageCount-1)
	for i := 1; i < imageCount; i++ {
		timing = append(timing, float64(i)*step)
	}
	return timing
}

// extractJSON pulls the outermost JSON object out of a model response that
// may wrap it in prose or a code fence.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
