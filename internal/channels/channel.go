// Package channels implements the chat transport adapters.
package channels

import (
	"context"

	"github.com/attachebot/attache/internal/bus"
)

// Channel is the interface for chat transports (WhatsApp, Telegram).
type Channel interface {
	// Name returns the transport name (e.g. "whatsapp").
	Name() string
	// Start connects and begins delivering inbound events to the bus.
	Start(ctx context.Context) error
	// Stop disconnects.
	Stop() error
	// SendText sends one text message to an address.
	SendText(ctx context.Context, address, text string) error
	// Status returns a short connection-state string for the admin API.
	Status() string
}

// BaseChannel carries the bus handle shared by all transports.
type BaseChannel struct {
	Bus *bus.Bus
}
