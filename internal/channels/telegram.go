package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/config"
)

// TelegramChannel is the Telegram transport over the Bot API with long
// polling. Addresses are chat ids in decimal string form.
type TelegramChannel struct {
	BaseChannel
	cfg        config.TelegramConfig
	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	connected  bool
}

// NewTelegramChannel creates the adapter.
func NewTelegramChannel(cfg config.TelegramConfig, b *bus.Bus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: b},
		cfg:         cfg,
	}
}

func (c *TelegramChannel) Name() string { return bus.TransportTelegram }

// Status returns "connected" or "disconnected".
func (c *TelegramChannel) Status() string {
	if c.connected {
		return "connected"
	}
	return "disconnected"
}

// Start begins long polling for updates.
func (c *TelegramChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled || c.cfg.Token == "" {
		return nil
	}

	bot, err := telego.NewBot(c.cfg.Token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	c.bot = bot

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.connected = true
	c.Bus.PublishLifecycle(bus.LifecycleEvent{Transport: c.Name(), Kind: bus.LifecycleConnected})
	slog.Info("telegram bot connected", "username", bot.Username())

	go func() {
		defer close(c.pollDone)
		for update := range updates {
			c.handleUpdate(update)
		}
		c.connected = false
	}()
	return nil
}

func (c *TelegramChannel) handleUpdate(update telego.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	pushName := ""
	fromSelf := false
	if msg.From != nil {
		pushName = msg.From.FirstName
		if msg.From.LastName != "" {
			pushName += " " + msg.From.LastName
		}
		fromSelf = msg.From.IsBot
	}

	c.Bus.PublishInbound(bus.InboundEvent{
		Transport: c.Name(),
		Address:   strconv.FormatInt(msg.Chat.ID, 10),
		PushName:  pushName,
		Text:      msg.Text,
		MediaKind: "text",
		FromSelf:  fromSelf,
		Group:     msg.Chat.Type == "group" || msg.Chat.Type == "supergroup",
		Broadcast: msg.Chat.Type == "channel",
		Timestamp: time.Unix(int64(msg.Date), 0),
	})
}

// Stop cancels long polling and waits for the poll goroutine.
func (c *TelegramChannel) Stop() error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(5 * time.Second):
		}
	}
	c.connected = false
	return nil
}

// SendText sends one text message to a chat id.
func (c *TelegramChannel) SendText(ctx context.Context, address, text string) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q", address)
	}
	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	return err
}
