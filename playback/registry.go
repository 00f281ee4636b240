package playback

import (
	"context"
	"sync"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskRegistry tracks the running playback goroutine per conversation and
// enforces at most one. Starting a new task cancels the previous one and
// waits for it to exit before the replacement is registered.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*task)}
}

// Start launches run in a goroutine under a fresh cancellable context,
// replacing any existing task for the conversation.
func (r *TaskRegistry) Start(conversationID string, run func(ctx context.Context)) {
	r.mu.Lock()
	for {
		prev, ok := r.tasks[conversationID]
		if !ok {
			break
		}
		r.mu.Unlock()
		prev.cancel()
		<-prev.done
		r.mu.Lock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[conversationID] = t
	r.mu.Unlock()

	go func() {
		defer func() {
			close(t.done)
			r.mu.Lock()
			if r.tasks[conversationID] == t {
				delete(r.tasks, conversationID)
			}
			r.mu.Unlock()
		}()
		run(ctx)
	}()
}

// Cancel stops the conversation's task, if any, and waits for it to exit.
func (r *TaskRegistry) Cancel(conversationID string) {
	r.mu.Lock()
	t, ok := r.tasks[conversationID]
	r.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Active reports whether the conversation has a running task.
func (r *TaskRegistry) Active(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[conversationID]
	return ok
}

// Len returns the number of running tasks.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
