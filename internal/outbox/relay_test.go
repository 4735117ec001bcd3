package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type memorySource struct {
	messages []Message
	sent     map[int64]bool
}

func (m *memorySource) Pending(_ context.Context, limit int) ([]Message, error) {
	var pending []Message
	for _, msg := range m.messages {
		if !m.sent[msg.ID] {
			pending = append(pending, msg)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (m *memorySource) MarkSent(_ context.Context, id int64) error {
	m.sent[id] = true
	return nil
}

type recordingPublisher struct {
	keys   []string
	failOn string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	if key == p.failOn {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, topic+"/"+key)
	return nil
}

func newTestRelay(src source, pub Publisher) *Relay {
	return &Relay{
		store:     src,
		publisher: pub,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize: 10,
	}
}

func TestRelayFlush(t *testing.T) {
	src := &memorySource{
		messages: []Message{
			{ID: 1, Topic: "orders.status_changed", Key: "ORD-1", Payload: []byte(`{}`)},
			{ID: 2, Topic: "orders.status_changed", Key: "ORD-2", Payload: []byte(`{}`)},
		},
		sent: map[int64]bool{},
	}
	pub := &recordingPublisher{}
	relay := newTestRelay(src, pub)

	sent, err := relay.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 2 {
		t.Errorf("expected 2 sent, got %d", sent)
	}

	sent, err = relay.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 0 {
		t.Errorf("expected nothing left to send, got %d", sent)
	}
	if len(pub.keys) != 2 || pub.keys[0] != "orders.status_changed/ORD-1" {
		t.Errorf("unexpected publishes: %v", pub.keys)
	}
}

func TestRelayFlushStopsAtFirstFailure(t *testing.T) {
	src := &memorySource{
		messages: []Message{
			{ID: 1, Topic: "t", Key: "ORD-1"},
			{ID: 2, Topic: "t", Key: "ORD-2"},
			{ID: 3, Topic: "t", Key: "ORD-3"},
		},
		sent: map[int64]bool{},
	}
	relay := newTestRelay(src, &recordingPublisher{failOn: "ORD-2"})

	sent, err := relay.Flush(context.Background())
	if err == nil {
		t.Fatal("expected publish error")
	}
	if sent != 1 {
		t.Errorf("expected 1 sent before failure, got %d", sent)
	}
	if src.sent[2] || src.sent[3] {
		t.Errorf("expected later messages to stay pending, got %v", src.sent)
	}
}
