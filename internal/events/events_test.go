package events

import (
	"context"
	"fmt"
	"testing"

	"AgentFleet/internal/config"
	xerrors "AgentFleet/internal/errors"
)

func TestNewAssignsIdentity(t *testing.T) {
	a := New(1, "0xabc", "balance", LevelInfo, "查询余额")
	b := New(1, "0xabc", "balance", LevelInfo, "查询余额")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("events should carry unique ids: %q %q", a.ID, b.ID)
	}
	if a.OccurredAt.IsZero() || a.OccurredAt.Location().String() != "UTC" {
		t.Fatalf("unexpected timestamp %v", a.OccurredAt)
	}
}

func TestMemoryPublisherKeepsLatest(t *testing.T) {
	pub := NewMemoryPublisher(3)
	for i := 0; i < 5; i++ {
		if err := pub.Publish(context.Background(), New(i, "", "cycle", LevelInfo, fmt.Sprint(i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	got := pub.Events()
	if len(got) != 3 || got[0].Message != "2" || got[2].Message != "4" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestMemoryPublisherHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemoryPublisher(1).Publish(ctx, Event{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestOpenDrivers(t *testing.T) {
	pub, err := Open(context.Background(), config.EventsConfig{})
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if _, ok := pub.(Nop); !ok {
		t.Fatalf("default driver should be nop, got %T", pub)
	}
	pub, err = Open(context.Background(), config.EventsConfig{Driver: "memory", Buffer: 4})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := pub.(*MemoryPublisher); !ok {
		t.Fatalf("expected memory publisher, got %T", pub)
	}
	if _, err := Open(context.Background(), config.EventsConfig{Driver: "kafka"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unknown driver should be rejected, got %v", err)
	}
	if _, err := Open(context.Background(), config.EventsConfig{Driver: "rabbitmq"}); err == nil {
		t.Fatalf("rabbitmq without url should fail")
	}
}
