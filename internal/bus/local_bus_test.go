package bus

import (
	"context"
	"testing"
	"time"

	"genstudio/internal/domain"
)

func TestLocalBusDeliversPerJob(t *testing.T) {
	b := NewLocalBus(4)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "j1")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	_ = b.Publish(ctx, JobEvent{JobID: "j2", Status: domain.JobStatusProcessing})
	_ = b.Publish(ctx, JobEvent{JobID: "j1", Status: domain.JobStatusCompleted})

	select {
	case ev := <-ch:
		if ev.JobID != "j1" || ev.Status != domain.JobStatusCompleted || ev.At.IsZero() {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestLocalBusClosesOnCancel(t *testing.T) {
	b := NewLocalBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "j1")
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestLocalBusDropsForSlowSubscriber(t *testing.T) {
	b := NewLocalBus(1)
	defer b.Close()
	ch, _ := b.Subscribe(context.Background(), "j1")
	for i := 0; i < 3; i++ {
		if err := b.Publish(context.Background(), JobEvent{JobID: "j1"}); err != nil {
			t.Fatalf("Publish blocked or failed: %v", err)
		}
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
}

func TestEventFromJob(t *testing.T) {
	job := &domain.Job{ID: "j1", OwnerID: "u1", Type: domain.JobTypeImage, Status: domain.JobStatusCompleted,
		Metadata: domain.Metadata{"output_url": "https://x/img.png", "staged_asset_id": "s1"}}
	ev := EventFromJob(job)
	if ev.OutputURL != "https://x/img.png" || ev.StagedAssetID != "s1" || ev.At.IsZero() {
		t.Fatalf("unexpected event %#v", ev)
	}
}
