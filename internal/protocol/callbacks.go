package protocol

import "sync"

// CallbackTable routes events for background threads away from the main
// event sink. A caller registers a channel for a thread id before starting
// a turn on that thread; while the registration exists, every event whose
// extracted thread identity matches is delivered to the channel instead of
// the sink.
//
// The table holds only a map guarded by a mutex; sends happen outside the
// critical section. Callers should use buffered channels and keep draining
// until the turn's terminal event is observed.
type CallbackTable struct {
	mu        sync.RWMutex
	callbacks map[string]chan<- map[string]any
}

// NewCallbackTable creates an empty callback table.
func NewCallbackTable() *CallbackTable {
	return &CallbackTable{
		callbacks: make(map[string]chan<- map[string]any, 4),
	}
}

// Register diverts events for threadID to ch. Registering again for the
// same thread id replaces the previous channel.
func (t *CallbackTable) Register(threadID string, ch chan<- map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.callbacks[threadID] = ch
}

// Unregister removes the diversion for threadID. Idempotent.
func (t *CallbackTable) Unregister(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.callbacks, threadID)
}

// Dispatch delivers msg to the channel registered for threadID, if any.
// Returns true if the event was diverted and must not reach the main sink.
func (t *CallbackTable) Dispatch(threadID string, msg map[string]any) bool {
	t.mu.RLock()
	ch, ok := t.callbacks[threadID]
	t.mu.RUnlock()

	if !ok {
		return false
	}

	ch <- msg

	return true
}
