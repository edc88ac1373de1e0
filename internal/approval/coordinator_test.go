package approval

import (
	"context"
	"testing"
	"time"

	"github.com/goatbytes/consoul/internal/tools"
)

func TestCoordinatorAutoApprove(t *testing.T) {
	c := NewCoordinator(time.Second)
	req := ToolRequest{ToolCallID: "t1", Decision: tools.NeedsApprovalResult{Decision: tools.DecisionAuto, Reason: "safe"}}
	d := c.Decide(context.Background(), req, nil)
	if !d.Approved {
		t.Fatalf("expected auto-approval, got %+v", d)
	}
}

func TestCoordinatorAutoDeny(t *testing.T) {
	c := NewCoordinator(time.Second)
	req := ToolRequest{ToolCallID: "t1", Decision: tools.NeedsApprovalResult{Decision: tools.DecisionDeny, Reason: "blocked"}}
	d := c.Decide(context.Background(), req, func(ToolRequest) error {
		t.Fatal("should not prompt for an already-denied request")
		return nil
	})
	if d.Approved {
		t.Fatalf("expected denial, got %+v", d)
	}
}

func TestCoordinatorPromptAndResolve(t *testing.T) {
	c := NewCoordinator(time.Second)
	req := ToolRequest{ToolCallID: "t1", Decision: tools.NeedsApprovalResult{Decision: tools.DecisionPrompt}}

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Resolve("t1", true, "user approved")
	}()

	d := c.Decide(context.Background(), req, func(ToolRequest) error { return nil })
	if !d.Approved || d.Reason != "user approved" {
		t.Fatalf("expected resolved approval, got %+v", d)
	}
}

func TestCoordinatorTimeout(t *testing.T) {
	c := NewCoordinator(10 * time.Millisecond)
	req := ToolRequest{ToolCallID: "t1", Decision: tools.NeedsApprovalResult{Decision: tools.DecisionPrompt}}
	d := c.Decide(context.Background(), req, func(ToolRequest) error { return nil })
	if d.Approved {
		t.Fatalf("expected timeout denial, got %+v", d)
	}
}

func TestCoordinatorStrayResponseIgnored(t *testing.T) {
	c := NewCoordinator(time.Second)
	c.Resolve("unknown", true, "stray")
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending entries after a stray response")
	}
}

func TestCoordinatorDuplicateResolveIsNoOp(t *testing.T) {
	c := NewCoordinator(time.Second)
	req := ToolRequest{ToolCallID: "t1", Decision: tools.NeedsApprovalResult{Decision: tools.DecisionPrompt}}

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Resolve("t1", true, "first")
		c.Resolve("t1", false, "second") // no-op: t1 already resolved and removed
	}()

	d := c.Decide(context.Background(), req, func(ToolRequest) error { return nil })
	if !d.Approved || d.Reason != "first" {
		t.Fatalf("expected first resolution to win, got %+v", d)
	}
}

func TestCoordinatorCancelAll(t *testing.T) {
	c := NewCoordinator(time.Second)
	req := ToolRequest{ToolCallID: "t1", Decision: tools.NeedsApprovalResult{Decision: tools.DecisionPrompt}}

	resultCh := make(chan Decision, 1)
	go func() {
		resultCh <- c.Decide(context.Background(), req, func(ToolRequest) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	c.CancelAll("connection closed")

	d := <-resultCh
	if d.Approved {
		t.Fatalf("expected cancellation to deny, got %+v", d)
	}
}
