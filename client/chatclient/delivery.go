package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"dealerchat-backend/internal/model"
)

// DeliveryState is the lifecycle stage of one outbound message.
//
//	Composing --submit--> Sending --store ack--> Sent
//	                             \--failure----> Failed --retry--> Sending
//
// Read is informational and lives on the stored message's readAt field.
type DeliveryState int

const (
	StateComposing DeliveryState = iota
	StateSending
	StateSent
	StateFailed
)

func (s DeliveryState) String() string {
	switch s {
	case StateComposing:
		return "composing"
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var ErrInFlight = errors.New("message is already sending")

// SendFunc delivers one message to the store and returns the durable result.
// The REST client and the live channel both provide one, so both entry
// points share the same state machine.
type SendFunc func(ctx context.Context, receiverID, body string) (*model.Message, error)

// PendingMessage is a client-only projection of an outbound message before
// the store acknowledges it. Its LocalID never enters the server id space;
// on success the pending message is resolved by the stored message and
// dropped, never relabeled in place.
type PendingMessage struct {
	LocalID    string
	ReceiverID string
	Body       string
	State      DeliveryState
	Err        error
	ResolvedBy *model.Message
}

// Outbox drives pending messages through the delivery state machine. One
// outbox per composing surface; it serializes submits per message, so a
// second submit while one is in flight is rejected rather than duplicated.
type Outbox struct {
	send SendFunc

	mu      sync.Mutex
	pending map[string]*PendingMessage
	order   []string
	counter atomic.Int64
}

func NewOutbox(send SendFunc) *Outbox {
	return &Outbox{
		send:    send,
		pending: make(map[string]*PendingMessage),
	}
}

// Compose creates a pending message in the Composing state.
func (o *Outbox) Compose(receiverID, body string) *PendingMessage {
	p := &PendingMessage{
		LocalID:    "local-" + strconv.FormatInt(o.counter.Add(1), 10),
		ReceiverID: receiverID,
		Body:       body,
		State:      StateComposing,
	}

	o.mu.Lock()
	o.pending[p.LocalID] = p
	o.order = append(o.order, p.LocalID)
	o.mu.Unlock()
	return p
}

// Submit moves a Composing or Failed message into Sending and delivers it.
// On store acknowledgment the pending entry is resolved by the stored
// message and removed. On failure it stays visible in Failed with its error
// classified as transport (retryable) or rejection (needs correction).
func (o *Outbox) Submit(ctx context.Context, localID string) (*model.Message, error) {
	o.mu.Lock()
	p, ok := o.pending[localID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: pending message %s", ErrNotFound, localID)
	}
	if p.State == StateSending {
		o.mu.Unlock()
		return nil, ErrInFlight
	}

	if strings.TrimSpace(p.Body) == "" {
		p.State = StateFailed
		p.Err = fmt.Errorf("%w: message body is empty", ErrRejected)
		o.mu.Unlock()
		return nil, p.Err
	}

	p.State = StateSending
	p.Err = nil
	receiverID, body := p.ReceiverID, p.Body
	o.mu.Unlock()

	msg, err := o.send(ctx, receiverID, body)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		p.State = StateFailed
		p.Err = err
		return nil, err
	}

	p.State = StateSent
	p.ResolvedBy = msg
	o.remove(localID)
	return msg, nil
}

// Retry resubmits a failed message. Exactly one stored message results from
// a failed-then-retried send; the failed attempt never reached the store.
func (o *Outbox) Retry(ctx context.Context, localID string) (*model.Message, error) {
	o.mu.Lock()
	p, ok := o.pending[localID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: pending message %s", ErrNotFound, localID)
	}
	if p.State != StateFailed {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: only failed messages can be retried", ErrRejected)
	}
	p.State = StateComposing
	o.mu.Unlock()

	return o.Submit(ctx, localID)
}

// Abandon drops a failed or composing message without sending it.
func (o *Outbox) Abandon(localID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.pending[localID]; ok && p.State != StateSending {
		o.remove(localID)
	}
}

// Pending returns the in-flight and failed messages in compose order, for
// rendering alongside the stored log.
func (o *Outbox) Pending() []*PendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*PendingMessage, 0, len(o.order))
	for _, id := range o.order {
		if p, ok := o.pending[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (o *Outbox) remove(localID string) {
	delete(o.pending, localID)
	for i, id := range o.order {
		if id == localID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}
