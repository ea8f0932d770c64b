package bus

import (
	"context"
	"testing"
	"time"
)

type recordingSender struct {
	sent []string
}

func (r *recordingSender) SendText(_ context.Context, address, text string) error {
	r.sent = append(r.sent, address+"|"+text)
	return nil
}

func TestInboundRoundtrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundEvent{Transport: TransportWhatsApp, Address: "123", Text: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Address != "123" || ev.Text != "hi" {
		t.Fatalf("event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("timestamp must be stamped on publish")
	}
}

func TestRouterDispatchesByTransport(t *testing.T) {
	r := NewRouter()
	wa := &recordingSender{}
	tg := &recordingSender{}
	r.Register(TransportWhatsApp, wa)
	r.Register(TransportTelegram, tg)

	if err := r.Send(context.Background(), TransportTelegram, "42", "hello"); err != nil {
		t.Fatal(err)
	}
	if len(tg.sent) != 1 || len(wa.sent) != 0 {
		t.Fatalf("routing: wa=%v tg=%v", wa.sent, tg.sent)
	}

	if err := r.Send(context.Background(), "smoke-signal", "x", "y"); err == nil {
		t.Fatal("unknown transport must error")
	}
}

func TestLifecycleDropsWhenFull(t *testing.T) {
	b := New()
	for i := 0; i < 100; i++ {
		b.PublishLifecycle(LifecycleEvent{Transport: TransportWhatsApp, Kind: LifecycleDisconnected})
	}
	// The channel is bounded; publishing never blocked to get here.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.ConsumeLifecycle(ctx); err != nil {
		t.Fatal(err)
	}
}
