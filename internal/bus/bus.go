// Package bus provides the async event bus between transports and the
// reply pipeline, plus the narrow sender seam used for outbound text.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Transport name constants.
const (
	TransportWhatsApp = "whatsapp"
	TransportTelegram = "telegram"
)

// InboundEvent is the uniform decoded form of one inbound message.
type InboundEvent struct {
	Transport     string    `json:"transport"`
	Address       string    `json:"address"`
	PushName      string    `json:"push_name,omitempty"`
	Text          string    `json:"text"`
	MediaKind     string    `json:"media_kind,omitempty"`
	FromSelf      bool      `json:"from_self,omitempty"`
	Group         bool      `json:"group,omitempty"`
	Broadcast     bool      `json:"broadcast,omitempty"`
	Undecryptable bool      `json:"undecryptable,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// LifecycleKind classifies transport lifecycle transitions.
type LifecycleKind string

const (
	LifecycleQRNeeded     LifecycleKind = "qr_needed"
	LifecycleConnected    LifecycleKind = "connected"
	LifecycleDisconnected LifecycleKind = "disconnected"
	// LifecycleFatal means the transport session is unrecoverable (conflict,
	// corrupted session, logged out). The adapter wipes its credentials
	// before publishing it; the runtime then releases the session lock and
	// exits for supervised restart.
	LifecycleFatal LifecycleKind = "fatal"
)

// LifecycleEvent reports a transport lifecycle transition.
type LifecycleEvent struct {
	Transport string
	Kind      LifecycleKind
	Payload   string
	Reason    string
}

// TextSender sends one text message to an address. Workers hold this narrow
// interface instead of the transport adapter itself.
type TextSender interface {
	SendText(ctx context.Context, address, text string) error
}

// Bus decouples transports from the pipeline.
type Bus struct {
	inbound   chan InboundEvent
	lifecycle chan LifecycleEvent
}

// New creates a Bus with bounded channels.
func New() *Bus {
	return &Bus{
		inbound:   make(chan InboundEvent, 256),
		lifecycle: make(chan LifecycleEvent, 16),
	}
}

// PublishInbound queues an inbound event for intake.
func (b *Bus) PublishInbound(ev InboundEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.inbound <- ev
}

// ConsumeInbound blocks until an event is available or ctx is cancelled.
func (b *Bus) ConsumeInbound(ctx context.Context) (InboundEvent, error) {
	select {
	case ev := <-b.inbound:
		return ev, nil
	case <-ctx.Done():
		return InboundEvent{}, ctx.Err()
	}
}

// PublishLifecycle queues a lifecycle transition.
func (b *Bus) PublishLifecycle(ev LifecycleEvent) {
	select {
	case b.lifecycle <- ev:
	default:
		// Lifecycle consumers that fall behind only need the latest state;
		// drop the oldest queued event rather than block the transport
		// goroutine.
		select {
		case <-b.lifecycle:
		default:
		}
		select {
		case b.lifecycle <- ev:
		default:
		}
	}
}

// ConsumeLifecycle blocks until a lifecycle event is available.
func (b *Bus) ConsumeLifecycle(ctx context.Context) (LifecycleEvent, error) {
	select {
	case ev := <-b.lifecycle:
		return ev, nil
	case <-ctx.Done():
		return LifecycleEvent{}, ctx.Err()
	}
}

// InboundDepth returns the number of queued inbound events.
func (b *Bus) InboundDepth() int {
	return len(b.inbound)
}

// Router fans outbound sends to the transport that owns the address's
// platform tag.
type Router struct {
	mu      sync.RWMutex
	senders map[string]TextSender
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{senders: make(map[string]TextSender)}
}

// Register binds a transport name to its sender.
func (r *Router) Register(transport string, s TextSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[transport] = s
}

// Sender returns the sender for a transport.
func (r *Router) Sender(transport string) (TextSender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[transport]
	return s, ok
}

// Send delivers text to address on the named transport.
func (r *Router) Send(ctx context.Context, transport, address, text string) error {
	s, ok := r.Sender(transport)
	if !ok {
		return fmt.Errorf("no sender registered for transport %q", transport)
	}
	return s.SendText(ctx, address, text)
}
