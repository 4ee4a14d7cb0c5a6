package events

import (
	"context"
	"testing"
)

func TestNewPublisher_DisabledWithoutURL(t *testing.T) {
	p, err := NewPublisher(Config{})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if p.IsEnabled() {
		t.Error("expected publisher to be disabled with no URL configured")
	}
}

func TestPublisher_PublishIsNoOpWhenDisabled(t *testing.T) {
	p, err := NewPublisher(Config{})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	ctx := context.Background()
	if err := p.PublishJobQueued(ctx, JobQueuedEvent{JobID: "j1"}); err != nil {
		t.Errorf("PublishJobQueued() on disabled publisher should be a no-op, got error: %v", err)
	}
	if err := p.PublishJobReclaimed(ctx, JobReclaimedEvent{JobID: "j1"}); err != nil {
		t.Errorf("PublishJobReclaimed() on disabled publisher should be a no-op, got error: %v", err)
	}
	if err := p.PublishLivenessChange(ctx, LivenessChangeEvent{AgentID: "a1", From: "online", To: "offline"}); err != nil {
		t.Errorf("PublishLivenessChange() on disabled publisher should be a no-op, got error: %v", err)
	}
}

func TestPublisher_CloseOnDisabledIsSafe(t *testing.T) {
	p, _ := NewPublisher(Config{})
	p.Close() // must not panic
}
