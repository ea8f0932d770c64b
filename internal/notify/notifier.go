// Package notify delivers owner-facing messages over every configured
// transport, best-effort.
package notify

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/config"
)

// Notifier fans one text out to the owner on WhatsApp and Telegram.
type Notifier struct {
	cfg    *config.Config
	router *bus.Router
}

// New creates a Notifier.
func New(cfg *config.Config, router *bus.Router) *Notifier {
	return &Notifier{cfg: cfg, router: router}
}

// NotifyOwner sends text to the owner on each transport. It returns an
// error only when every configured delivery failed; a single successful
// transport is enough.
func (n *Notifier) NotifyOwner(ctx context.Context, text string) error {
	var lastErr error
	delivered := false

	if n.cfg.WhatsApp.Enabled && n.cfg.Owner.Address != "" {
		if err := n.router.Send(ctx, bus.TransportWhatsApp, n.cfg.Owner.Address, text); err != nil {
			slog.Warn("owner notify via whatsapp failed", "error", err)
			lastErr = err
		} else {
			delivered = true
		}
	}

	if n.cfg.Telegram.Enabled && n.cfg.Telegram.OwnerChatID != 0 {
		chatID := strconv.FormatInt(n.cfg.Telegram.OwnerChatID, 10)
		if err := n.router.Send(ctx, bus.TransportTelegram, chatID, text); err != nil {
			slog.Warn("owner notify via telegram failed", "error", err)
			lastErr = err
		} else {
			delivered = true
		}
	}

	if delivered {
		return nil
	}
	return lastErr
}
