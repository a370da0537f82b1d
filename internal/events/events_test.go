package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := s.Subscribe(ctx)
	second := s.Subscribe(ctx)

	s.Publish(Event{Type: TypeDocumentJoined, DocumentID: "doc-1", ActorID: "user-1"})

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case evt := <-ch:
			if evt.Type != TypeDocumentJoined || evt.DocumentID != "doc-1" {
				t.Fatalf("%s: unexpected event %+v", name, evt)
			}
			if evt.Timestamp.IsZero() {
				t.Fatalf("%s: timestamp not stamped", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no event received", name)
		}
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("expected channel to close")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel did not close after context cancellation")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		// Overflow the buffered channel; Publish must never block.
		for i := 0; i < 100; i++ {
			s.Publish(Event{Type: TypeOperationSubmitted, DocumentID: "doc-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on slow subscriber")
	}
}
