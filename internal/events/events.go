package events

import (
	"context"
	"sync"
	"time"
)

// Type names a document event on the realtime stream.
type Type string

const (
	TypeDocumentUpdated    Type = "document.updated"
	TypeDocumentArchived   Type = "document.archived"
	TypeDocumentJoined     Type = "document.joined"
	TypeMemberAdded        Type = "member.added"
	TypeMemberRemoved      Type = "member.removed"
	TypeOperationSubmitted Type = "operation.submitted"
)

// Event is one collaboration event fanned out to connected clients.
type Event struct {
	Type       Type           `json:"type"`
	DocumentID string         `json:"document_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Stream fan-outs document events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
