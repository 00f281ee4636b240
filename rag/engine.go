package rag

import (
	"context"
	"fmt"
	"strings"

	"presentkit/core"

	openai "github.com/sashabaranov/go-openai"
)

// Answer is a question answer with the sources it was grounded on.
type Answer struct {
	Text    string
	Sources []string
	Images  []string
}

// AnswerProvider is the Answer Provider contract. Implementations convert
// their own failures into a user-presentable answer with empty sources;
// callers never see a raw provider error for a well-formed question.
type AnswerProvider interface {
	AnswerQuestion(ctx context.Context, question, conversationContext string) (Answer, error)
}

// PageMatch is one similarity-search hit from the external vector store.
type PageMatch struct {
	PDFName    string
	PageNumber int
	Text       string
	Image      string
	Score      float64
}

// Searcher is the external similarity-search boundary. Embedding computation
// and index maintenance happen elsewhere.
type Searcher interface {
	SearchSimilar(ctx context.Context, query string, k int) ([]PageMatch, error)
}

// Config configures the answering engine.
type Config struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	// TopK is how many pages to retrieve per question.
	TopK int `json:"top_k"`
	// MaxImages caps how many page images are attached to an answer.
	MaxImages int `json:"max_images"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4oMini,
		MaxTokens:   300,
		Temperature: 0.7,
		TopK:        3,
		MaxImages:   2,
	}
}

// chatClient is the slice of the OpenAI client the engine needs.
// *openai.Client satisfies it.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const answerSystemPrompt = "You are a helpful AI assistant that answers questions based on PDF documents. " +
	"Use the provided context to give accurate, helpful answers. " +
	"If the context doesn't contain enough information, say so clearly."

const noDocumentsAnswer = "I don't have enough information in the uploaded documents to answer that question. " +
	"Could you please upload some PDF files first?"

const apologyAnswer = "I apologize, but I'm having trouble processing your question. " +
	"Could you please try rephrasing it?"

// Engine answers questions by retrieving similar pages and prompting the
// chat model with them plus the running conversation context.
type Engine struct {
	client   chatClient
	searcher Searcher
	config   Config
	logger   *core.Logger
}

// NewEngine creates an Engine. searcher may be nil, in which case every
// question gets the no-documents answer.
func NewEngine(client chatClient, searcher Searcher, config Config, logger *core.Logger) *Engine {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Engine{
		client:   client,
		searcher: searcher,
		config:   config,
		logger:   logger.With(map[string]any{"component": "rag"}),
	}
}

// AnswerQuestion implements AnswerProvider. The returned error is always nil;
// retrieval and completion failures degrade to user-safe answers.
func (e *Engine) AnswerQuestion(ctx context.Context, question, conversationContext string) (Answer, error) {
	matches, err := e.search(ctx, question)
	if err != nil {
		e.logger.Error("similarity search failed", "error", err)
		return Answer{Text: apologyAnswer, Sources: []string{}}, nil
	}
	if len(matches) == 0 {
		return Answer{Text: noDocumentsAnswer, Sources: []string{}}, nil
	}

	var contextParts []string
	var sources []string
	var images []string
	for _, m := range matches {
		contextParts = append(contextParts, fmt.Sprintf("From %s page %d: %s", m.PDFName, m.PageNumber, truncate(m.Text, 500)))
		sources = append(sources, fmt.Sprintf("%s - Page %d", m.PDFName, m.PageNumber))
		if m.Image != "" && len(images) < e.config.MaxImages {
			images = append(images, m.Image)
		}
	}
	knowledge := strings.Join(contextParts, "\n\n")

	var user strings.Builder
	if conversationContext != "" {
		fmt.Fprintf(&user, "Conversation History:\n%s\n\n", conversationContext)
	}
	fmt.Fprintf(&user, "Document Context:\n%s\n\nCurrent Question: %s", knowledge, question)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: answerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	})
	if err != nil || len(resp.Choices) == 0 {
		e.logger.Error("completion failed, falling back to retrieved context", "error", err)
		return Answer{
			Text: fmt.Sprintf("Based on the documents, here's what I found: %s... "+
				"Please let me know if you need more specific information.", truncate(knowledge, 200)),
			Sources: sources,
			Images:  images,
		}, nil
	}

	return Answer{
		Text:    strings.TrimSpace(resp.Choices[0].Message.Content),
		Sources: sources,
		Images:  images,
	}, nil
}

func (e *Engine) search(ctx context.Context, question string) ([]PageMatch, error) {
	if e.searcher == nil {
		return nil, nil
	}
	return e.searcher.SearchSimilar(ctx, question, e.config.TopK)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
