package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"presentkit/core"
	"presentkit/protocol"
	"presentkit/rag"
	"presentkit/segments"
)

func quietLogger() *core.Logger {
	return core.NewLogger(nil, core.LevelFatal)
}

type stubAnswers struct {
	mu        sync.Mutex
	answer    rag.Answer
	err       error
	questions []string
	contexts  []string
}

func (s *stubAnswers) AnswerQuestion(_ context.Context, question, conversationContext string) (rag.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = append(s.questions, question)
	s.contexts = append(s.contexts, conversationContext)
	return s.answer, s.err
}

type transportRecorder struct {
	mu       sync.Mutex
	emitted  []protocol.ResponseEnvelope
	restarts int
	notify   chan protocol.ResponseEnvelope
}

func newTransportRecorder() *transportRecorder {
	return &transportRecorder{notify: make(chan protocol.ResponseEnvelope, 16)}
}

func (r *transportRecorder) emit(_ string, env protocol.ResponseEnvelope) error {
	r.mu.Lock()
	r.emitted = append(r.emitted, env)
	r.mu.Unlock()
	r.notify <- env
	return nil
}

func (r *transportRecorder) restart(_ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
	return true
}

func (r *transportRecorder) restartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

func (r *transportRecorder) emittedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emitted)
}

func deckOf(n int) segments.Store {
	segs := make([]core.Segment, n)
	for i := range segs {
		segs[i] = core.Segment{Text: fmt.Sprintf("narration for segment %d", i)}
	}
	return segments.NewStaticStore(segs)
}

func newTestController(t *testing.T, store segments.Store, answers rag.AnswerProvider) (*Controller, *transportRecorder) {
	t.Helper()
	history := NewHistory(DefaultHistoryConfig(), quietLogger())
	c := NewController(store, answers, history, DefaultControllerConfig(), quietLogger())
	c.resumeDelay = 20 * time.Millisecond
	rec := newTransportRecorder()
	c.SetTransport(rec.emit, rec.restart)
	return c, rec
}

// advance pulls n segments through the controller, simulating driver fetches.
func advance(t *testing.T, c *Controller, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		env, err := c.NextSegment(context.Background(), id)
		if err != nil {
			t.Fatalf("NextSegment %d: %v", i, err)
		}
		if env == nil {
			t.Fatalf("NextSegment %d: unexpectedly inactive", i)
		}
	}
}

func TestCreateConversationStartsPresenting(t *testing.T) {
	c, _ := newTestController(t, deckOf(3), &stubAnswers{})

	id := c.CreateConversation()
	state, err := c.State(id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}

	if state.Mode != core.ModePresentation {
		t.Errorf("mode = %q, want %q", state.Mode, core.ModePresentation)
	}
	if state.CurrentSegment != 0 {
		t.Errorf("cursor = %d, want 0", state.CurrentSegment)
	}
	if state.PresentationPaused {
		t.Error("new conversation should not be paused")
	}
	if !c.PresentationActive(id) {
		t.Error("new conversation should be actively presenting")
	}
}

func TestStateUnknownConversation(t *testing.T) {
	c, _ := newTestController(t, deckOf(3), &stubAnswers{})
	if _, err := c.State("missing"); !errors.Is(err, core.ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestNextSegmentAdvancesCursor(t *testing.T) {
	c, _ := newTestController(t, deckOf(3), &stubAnswers{})
	id := c.CreateConversation()

	env, err := c.NextSegment(context.Background(), id)
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	if env.Type != protocol.EnvelopePresentation {
		t.Errorf("type = %q, want presentation", env.Type)
	}
	if env.SegmentID == nil || *env.SegmentID != 0 {
		t.Errorf("segment id = %v, want 0", env.SegmentID)
	}
	if env.Text != "narration for segment 0" {
		t.Errorf("text = %q", env.Text)
	}

	state, _ := c.State(id)
	if state.CurrentSegment != 1 {
		t.Errorf("cursor = %d, want 1", state.CurrentSegment)
	}
	if state.DisplayingSegment() != 0 {
		t.Errorf("displaying = %d, want 0", state.DisplayingSegment())
	}
}

func TestNextSegmentInactiveReturnsNil(t *testing.T) {
	c, _ := newTestController(t, deckOf(3), &stubAnswers{})
	id := c.CreateConversation()

	if err := c.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	env, err := c.NextSegment(context.Background(), id)
	if err != nil || env != nil {
		t.Fatalf("NextSegment while paused = (%v, %v), want (nil, nil)", env, err)
	}
}

func TestNextSegmentExhaustionEndsPresentation(t *testing.T) {
	c, _ := newTestController(t, deckOf(2), &stubAnswers{})
	id := c.CreateConversation()
	advance(t, c, id, 2)

	env, err := c.NextSegment(context.Background(), id)
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	if env == nil {
		t.Fatal("expected a closing envelope")
	}
	if env.SegmentID != nil {
		t.Errorf("closing envelope has segment id %d, want none", *env.SegmentID)
	}
	if env.Text != closingMessage {
		t.Errorf("closing text = %q", env.Text)
	}

	state, _ := c.State(id)
	if state.Mode != core.ModeRAG {
		t.Errorf("mode after exhaustion = %q, want %q", state.Mode, core.ModeRAG)
	}

	// The closing message is sent exactly once.
	env, err = c.NextSegment(context.Background(), id)
	if err != nil || env != nil {
		t.Fatalf("NextSegment after exhaustion = (%v, %v), want (nil, nil)", env, err)
	}
}

func TestQuestionInterruptsAndResumesExactSegment(t *testing.T) {
	answers := &stubAnswers{answer: rag.Answer{Text: "the answer", Sources: []string{"doc.pdf - Page 1"}}}
	c, rec := newTestController(t, deckOf(6), answers)
	id := c.CreateConversation()
	advance(t, c, id, 3) // cursor 3, displaying segment 2

	env, err := c.HandleMessage(context.Background(), id, "what does this mean?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if env.Type != protocol.EnvelopeRAGAnswer {
		t.Errorf("type = %q, want rag_answer", env.Type)
	}
	if env.Text != "the answer" {
		t.Errorf("text = %q", env.Text)
	}
	if len(env.Sources) != 1 {
		t.Errorf("sources = %v", env.Sources)
	}

	state, _ := c.State(id)
	if state.Mode != core.ModeRAG {
		t.Errorf("mode during interruption = %q, want rag", state.Mode)
	}
	if !state.PresentationPaused || !state.PausedMidSegment {
		t.Error("interruption should record a mid-segment pause")
	}
	if state.PausedAtSegment == nil || *state.PausedAtSegment != 2 {
		t.Errorf("paused at = %v, want 2", state.PausedAtSegment)
	}
	if state.InterruptedSegmentText != "narration for segment 2" {
		t.Errorf("interrupted text = %q", state.InterruptedSegmentText)
	}
	if state.PauseTimestamp == nil {
		t.Error("pause timestamp not recorded")
	}

	// The automatic resume replays the interrupted segment verbatim.
	select {
	case resumed := <-rec.notify:
		if resumed.Type != protocol.EnvelopePresentationResume {
			t.Errorf("resume type = %q, want presentation_resume", resumed.Type)
		}
		if resumed.Text != "narration for segment 2" {
			t.Errorf("resume text = %q", resumed.Text)
		}
		if resumed.SegmentID == nil || *resumed.SegmentID != 2 {
			t.Errorf("resume segment id = %v, want 2", resumed.SegmentID)
		}
	case <-time.After(time.Second):
		t.Fatal("no resume envelope emitted")
	}

	state, _ = c.State(id)
	if state.Mode != core.ModePresentation {
		t.Errorf("mode after resume = %q, want presentation", state.Mode)
	}
	if state.CurrentSegment != 2 {
		t.Errorf("cursor after resume = %d, want 2 (replay)", state.CurrentSegment)
	}
	if state.PresentationPaused || state.PausedMidSegment || state.PausedAtSegment != nil ||
		state.PauseTimestamp != nil || state.InterruptedSegmentText != "" {
		t.Error("pause bookkeeping not cleared after resume")
	}
	if rec.restartCount() != 1 {
		t.Errorf("restarts = %d, want 1", rec.restartCount())
	}
}

func TestQuestionOnFinalSegmentStaysInQuestionMode(t *testing.T) {
	answers := &stubAnswers{answer: rag.Answer{Text: "answer"}}
	c, rec := newTestController(t, deckOf(3), answers)
	id := c.CreateConversation()
	advance(t, c, id, 3) // displaying segment 2, the last one

	if _, err := c.HandleMessage(context.Background(), id, "final question"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	state, _ := c.State(id)
	if state.Mode != core.ModeRAG {
		t.Errorf("mode = %q, want permanent rag", state.Mode)
	}
	if state.PresentationPaused || state.PausedAtSegment != nil || state.InterruptedSegmentText != "" {
		t.Error("pause bookkeeping should be cleared")
	}
	if rec.emittedCount() != 0 {
		t.Errorf("emitted %d envelopes, want 0 (no resume)", rec.emittedCount())
	}
	if rec.restartCount() != 0 {
		t.Errorf("restarts = %d, want 0", rec.restartCount())
	}
}

func TestQuestionWhilePausedLeavesPauseIntact(t *testing.T) {
	answers := &stubAnswers{answer: rag.Answer{Text: "answer"}}
	c, rec := newTestController(t, deckOf(6), answers)
	id := c.CreateConversation()
	advance(t, c, id, 5)

	if err := c.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := c.HandleMessage(context.Background(), id, "question while paused"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	state, _ := c.State(id)
	if !state.PresentationPaused {
		t.Error("explicit pause should survive a question")
	}
	if state.PausedAtSegment == nil || *state.PausedAtSegment != 4 {
		t.Errorf("paused at = %v, want 4", state.PausedAtSegment)
	}
	if rec.emittedCount() != 0 {
		t.Errorf("emitted %d envelopes, want 0 (no auto resume)", rec.emittedCount())
	}
}

func TestQuestionRecordsHistoryAndContext(t *testing.T) {
	answers := &stubAnswers{answer: rag.Answer{Text: "first answer"}}
	c, _ := newTestController(t, nil, answers)
	id := c.CreateConversation()

	if _, err := c.HandleMessage(context.Background(), id, "first question"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if _, err := c.HandleMessage(context.Background(), id, "second question"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	answers.mu.Lock()
	defer answers.mu.Unlock()
	if len(answers.contexts) != 2 {
		t.Fatalf("provider called %d times, want 2", len(answers.contexts))
	}
	// The second call sees the first exchange in its context.
	ctx := answers.contexts[1]
	for _, want := range []string{"first question", "first answer"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("context missing %q:\n%s", want, ctx)
		}
	}
}

func TestAnswerProviderErrorYieldsSafeAnswer(t *testing.T) {
	answers := &stubAnswers{err: errors.New("provider down")}
	c, _ := newTestController(t, nil, answers)
	id := c.CreateConversation()

	env, err := c.HandleMessage(context.Background(), id, "question")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if env.Type != protocol.EnvelopeRAGAnswer {
		t.Errorf("type = %q, want rag_answer", env.Type)
	}
	if env.Text != answerUnavailableMessage {
		t.Errorf("text = %q, want the unavailable message", env.Text)
	}
}

func TestHandleMessageUnknownConversation(t *testing.T) {
	c, _ := newTestController(t, deckOf(3), &stubAnswers{})
	if _, err := c.HandleMessage(context.Background(), "missing", "hi"); !errors.Is(err, core.ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestPauseAndResumeMidSegment(t *testing.T) {
	c, rec := newTestController(t, deckOf(6), &stubAnswers{})
	id := c.CreateConversation()
	advance(t, c, id, 5) // displaying segment 4

	if err := c.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	state, _ := c.State(id)
	if !state.PresentationPaused || !state.PausedMidSegment {
		t.Fatal("pause not recorded as mid-segment")
	}
	if state.PausedAtSegment == nil || *state.PausedAtSegment != 4 {
		t.Fatalf("paused at = %v, want 4", state.PausedAtSegment)
	}
	if c.PresentationActive(id) {
		t.Error("paused session reported active")
	}

	restartDriver, err := c.Resume(id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if restartDriver {
		t.Error("mid-segment resume should not restart the driver")
	}

	select {
	case env := <-rec.notify:
		if env.Type != protocol.EnvelopeResumeMidSegment {
			t.Errorf("type = %q, want resume_mid_segment", env.Type)
		}
		if env.SegmentID == nil || *env.SegmentID != 4 {
			t.Errorf("segment id = %v, want 4", env.SegmentID)
		}
		if env.PauseTimestamp == nil {
			t.Error("resume_mid_segment missing pause timestamp")
		}
		if env.Text != "" {
			t.Errorf("resume_mid_segment carries text %q, want none", env.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("no resume_mid_segment emitted")
	}

	state, _ = c.State(id)
	if state.PresentationPaused || state.PausedAtSegment != nil || state.PauseTimestamp != nil {
		t.Error("pause bookkeeping not cleared")
	}
	// The cursor is untouched: the client finishes segment 4 locally and then
	// signals segment_complete.
	if state.CurrentSegment != 5 {
		t.Errorf("cursor = %d, want 5", state.CurrentSegment)
	}
}

func TestResumeWhenNotPaused(t *testing.T) {
	c, rec := newTestController(t, deckOf(3), &stubAnswers{})
	id := c.CreateConversation()

	restartDriver, err := c.Resume(id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if restartDriver {
		t.Error("resume of an unpaused session should be a no-op")
	}
	if rec.emittedCount() != 0 {
		t.Errorf("emitted %d envelopes, want 0", rec.emittedCount())
	}
}

func TestPauseWhenNotPresentingIsNoop(t *testing.T) {
	c, _ := newTestController(t, deckOf(2), &stubAnswers{})
	id := c.CreateConversation()
	advance(t, c, id, 2)
	if _, err := c.NextSegment(context.Background(), id); err != nil { // exhaust
		t.Fatalf("NextSegment: %v", err)
	}

	if err := c.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	state, _ := c.State(id)
	if state.PresentationPaused {
		t.Error("pause in question mode should be a no-op")
	}
}

func TestPrepareSkip(t *testing.T) {
	c, _ := newTestController(t, deckOf(2), &stubAnswers{})
	id := c.CreateConversation()

	ok, err := c.PrepareSkip(id)
	if err != nil || !ok {
		t.Fatalf("PrepareSkip = (%v, %v), want (true, nil)", ok, err)
	}

	advance(t, c, id, 2)
	ok, err = c.PrepareSkip(id)
	if err != nil {
		t.Fatalf("PrepareSkip: %v", err)
	}
	if ok {
		t.Error("skip past the last segment should be a no-op")
	}

	if _, err := c.PrepareSkip("missing"); !errors.Is(err, core.ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestPrepareSkipClearsPause(t *testing.T) {
	c, _ := newTestController(t, deckOf(4), &stubAnswers{})
	id := c.CreateConversation()
	advance(t, c, id, 2)
	if err := c.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	ok, err := c.PrepareSkip(id)
	if err != nil || !ok {
		t.Fatalf("PrepareSkip = (%v, %v), want (true, nil)", ok, err)
	}
	state, _ := c.State(id)
	if state.PresentationPaused || state.PausedAtSegment != nil {
		t.Error("skip should end the pause")
	}
}
