package queue

import (
	"context"
	"errors"
)

// ErrQueueFull is returned when the queue cannot accept another message.
// Callers surface it to the client instead of blocking the request.
var ErrQueueFull = errors.New("ocr queue is full")

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Memory is a bounded in-process queue. Send never blocks: a saturated
// queue rejects with ErrQueueFull so the API can report backpressure.
type Memory struct {
	ch chan Message
}

// NewMemory creates a bounded in-process queue with the given capacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 64
	}
	return &Memory{ch: make(chan Message, capacity)}
}

var _ Client = (*Memory)(nil)

// Send enqueues the message or fails fast.
func (m *Memory) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive returns the channel workers consume from.
func (m *Memory) Receive() <-chan Message {
	return m.ch
}

// Close stops the queue from accepting deliveries to workers. Send must not
// be called after Close.
func (m *Memory) Close() {
	close(m.ch)
}

// Len reports the number of queued messages.
func (m *Memory) Len() int {
	return len(m.ch)
}
