package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"dealerchat-backend/internal/model"
)

func TestSubmitSuccessResolvesPending(t *testing.T) {
	var calls atomic.Int32
	outbox := NewOutbox(func(_ context.Context, receiverID, body string) (*model.Message, error) {
		calls.Add(1)
		return &model.Message{ID: "m1", ReceiverID: receiverID, Body: body, Timestamp: time.Now()}, nil
	})

	p := outbox.Compose("admin", "Hello")
	if p.State != StateComposing {
		t.Fatalf("state = %v, want composing", p.State)
	}

	msg, err := outbox.Submit(context.Background(), p.LocalID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if msg.ID != "m1" {
		t.Fatalf("resolved id = %q, want m1", msg.ID)
	}
	if p.State != StateSent || p.ResolvedBy != msg {
		t.Fatalf("pending not resolved: state=%v", p.State)
	}
	if len(outbox.Pending()) != 0 {
		t.Fatal("resolved pending message still listed")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("send called %d times, want 1", got)
	}
}

func TestSubmitEmptyBodyIsRejected(t *testing.T) {
	outbox := NewOutbox(func(context.Context, string, string) (*model.Message, error) {
		t.Fatal("send must not be called for an empty body")
		return nil, nil
	})

	p := outbox.Compose("admin", "   ")
	_, err := outbox.Submit(context.Background(), p.LocalID)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
	if p.State != StateFailed {
		t.Fatalf("state = %v, want failed", p.State)
	}
	if Retryable(p.Err) {
		t.Fatal("a rejection must not be flagged retryable")
	}
}

func TestFailedSendRetriesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	outbox := NewOutbox(func(context.Context, string, string) (*model.Message, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("%w: connection reset", ErrTransport)
		}
		return &model.Message{ID: "m1"}, nil
	})

	p := outbox.Compose("admin", "Hello")
	if _, err := outbox.Submit(context.Background(), p.LocalID); !errors.Is(err, ErrTransport) {
		t.Fatalf("first submit: got %v, want ErrTransport", err)
	}
	if p.State != StateFailed || !Retryable(p.Err) {
		t.Fatalf("after failure: state=%v err=%v", p.State, p.Err)
	}

	msg, err := outbox.Retry(context.Background(), p.LocalID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if msg.ID != "m1" {
		t.Fatalf("retry resolved %q, want m1", msg.ID)
	}
	// Exactly one stored message: the failed attempt never reached the store.
	if got := calls.Load(); got != 2 {
		t.Fatalf("send called %d times, want 2 (one failure, one success)", got)
	}
}

func TestSubmitWhileSendingIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	outbox := NewOutbox(func(context.Context, string, string) (*model.Message, error) {
		close(started)
		<-release
		return &model.Message{ID: "m1"}, nil
	})

	p := outbox.Compose("admin", "Hello")
	done := make(chan error, 1)
	go func() {
		_, err := outbox.Submit(context.Background(), p.LocalID)
		done <- err
	}()

	<-started
	if _, err := outbox.Submit(context.Background(), p.LocalID); !errors.Is(err, ErrInFlight) {
		t.Fatalf("concurrent submit: got %v, want ErrInFlight", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("original submit failed: %v", err)
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	outbox := NewOutbox(func(context.Context, string, string) (*model.Message, error) {
		return &model.Message{ID: "m1"}, nil
	})

	p := outbox.Compose("admin", "Hello")
	if _, err := outbox.Retry(context.Background(), p.LocalID); !errors.Is(err, ErrRejected) {
		t.Fatalf("retry of composing message: got %v, want ErrRejected", err)
	}
}

func TestAbandonDropsFailedMessage(t *testing.T) {
	outbox := NewOutbox(func(context.Context, string, string) (*model.Message, error) {
		return nil, fmt.Errorf("%w: down", ErrTransport)
	})

	p := outbox.Compose("admin", "Hello")
	outbox.Submit(context.Background(), p.LocalID)
	if len(outbox.Pending()) != 1 {
		t.Fatal("failed message should stay visible")
	}

	outbox.Abandon(p.LocalID)
	if len(outbox.Pending()) != 0 {
		t.Fatal("abandoned message still listed")
	}
}
