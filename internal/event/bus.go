package event

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeExecutionEnqueued  Type = "execution_enqueued"
	TypeExecutionStarted   Type = "execution_started"
	TypeActionRecorded     Type = "action_recorded"
	TypeExecutionCompleted Type = "execution_completed"
	TypeExecutionFailed    Type = "execution_failed"
	TypeExecutionSkipped   Type = "execution_skipped"
	TypeTaskCreated        Type = "task_created"
)

// Event is a change in automation state.
type Event struct {
	Type        Type            `json:"type"`
	ExecutionID uuid.UUID       `json:"execution_id,omitempty"`
	TriggerID   uuid.UUID       `json:"trigger_id,omitempty"`
	SourceID    string          `json:"source_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Filter selects the events a subscriber receives. Zero fields match all.
type Filter struct {
	TriggerID   uuid.UUID
	ExecutionID uuid.UUID
	Types       []Type
}

type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

// Publish fans e out to matching subscribers without blocking; a full
// subscriber misses the event.
func (b *bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if !filter.matches(e) {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel closed when ctx ends.
func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (f Filter) matches(e Event) bool {
	if f.TriggerID != uuid.Nil && f.TriggerID != e.TriggerID {
		return false
	}
	if f.ExecutionID != uuid.Nil && f.ExecutionID != e.ExecutionID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}

// Payload encodes v for an Event, dropping it when it cannot be encoded.
func Payload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
