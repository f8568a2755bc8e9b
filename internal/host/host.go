// Package host abstracts the host-controlled execution contexts that jobs
// open on the target side.
//
// A Context is a capability handle: the orchestrator can inject an agent
// script, exchange JSON messages with the delivery handler living inside,
// and close it. Hosts also surface context-lifecycle notifications, which
// drive the multi-stage handoff machine without polling.
package host

import (
	"context"
	"encoding/json"
	"time"
)

// Handler protocol actions.
const (
	ActionPing              = "ping"
	ActionDeliver           = "deliver"
	ActionTriggerNavigation = "trigger-navigation"
	ActionInjectContent     = "inject-content"
)

// Message is one JSON message sent into a context's delivery handler.
type Message struct {
	Action   string          `json:"action"`
	TargetID string          `json:"target_id,omitempty"`
	Variant  string          `json:"variant,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Reply is the handler's response.
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Context is a live execution context on the target side.
//
// Implementations must be safe for use from multiple goroutines.
type Context interface {
	ID() string
	Address() string

	// InjectAgent loads a script/agent into the context. The agent is what
	// answers Send messages.
	InjectAgent(ctx context.Context, script string) error

	Send(ctx context.Context, msg Message) (Reply, error)

	Close(ctx context.Context) error
}

// Notification reports a context appearing at (or navigating to) an address.
type Notification struct {
	ContextID string
	Address   string
	At        time.Time
}

// Host opens contexts and fans out lifecycle notifications.
type Host interface {
	Open(ctx context.Context, addr string) (Context, error)

	// Attach returns a handle to an already-open context, typically one
	// learned about through a Notification.
	Attach(ctx context.Context, contextID, addr string) (Context, error)

	// Notify registers fn for every context-lifecycle notification.
	// fn must not block; it is invoked from the host's dispatch goroutine.
	Notify(fn func(Notification)) (unsubscribe func())
}
