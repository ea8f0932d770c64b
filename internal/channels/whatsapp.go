package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/store"
)

const (
	recoveryMessage = "Sorry, I couldn't read your last messages. Could you resend them?"

	reconnectMaxAttempts = 5
	reconnectMaxBackoff  = 30 * time.Second
	stableSessionAfter   = 60 * time.Second

	deviceCredentialID = "whatsapp:device"
)

// WhatsAppChannel is the native WhatsApp transport over whatsmeow.
type WhatsAppChannel struct {
	BaseChannel
	cfg       config.WhatsAppConfig
	store     *store.Store
	client    *whatsmeow.Client
	container *sqlstore.Container
	dbDir     string

	mu                sync.Mutex
	status            string
	decryptFails      map[string]int
	reconnectAttempts int
	connectedSince    time.Time
	stopping          bool
}

// NewWhatsAppChannel creates the adapter. dbDir is where the SDK keeps its
// device store (next to the main database).
func NewWhatsAppChannel(cfg config.WhatsAppConfig, b *bus.Bus, s *store.Store, dbDir string) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel:  BaseChannel{Bus: b},
		cfg:          cfg,
		store:        s,
		dbDir:        dbDir,
		status:       "disconnected",
		decryptFails: make(map[string]int),
	}
}

func (c *WhatsAppChannel) Name() string { return bus.TransportWhatsApp }

// Status returns "connected", "qr" or "disconnected".
func (c *WhatsAppChannel) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *WhatsAppChannel) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Start opens the device store, connects, and runs the QR pairing flow when
// no session exists.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	if err := os.MkdirAll(c.dbDir, 0o755); err != nil {
		return fmt.Errorf("create whatsapp db dir: %w", err)
	}
	dbPath := filepath.Join(c.dbDir, "whatsapp.db")
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("init whatsapp store: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		qrChan, _ := c.client.GetQRChannel(ctx)
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go c.consumeQR(qrChan)
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
	return nil
}

func (c *WhatsAppChannel) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			c.setStatus("qr")
			qrPath := config.ExpandPath(c.cfg.QRPath)
			_ = os.MkdirAll(filepath.Dir(qrPath), 0o755)
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err != nil {
				slog.Error("write QR file failed", "error", err)
			} else {
				slog.Info("scan the WhatsApp pairing QR code", "path", qrPath)
			}
			c.Bus.PublishLifecycle(bus.LifecycleEvent{
				Transport: c.Name(),
				Kind:      bus.LifecycleQRNeeded,
				Payload:   evt.Code,
			})
		case "success":
			slog.Info("WhatsApp pairing complete")
		default:
			slog.Debug("WhatsApp QR event", "event", evt.Event)
		}
	}
}

// Stop disconnects and closes the device store.
func (c *WhatsAppChannel) Stop() error {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		c.container.Close()
	}
	c.setStatus("disconnected")
	return nil
}

// Logout ends the session remotely and wipes stored credentials. Used by
// the admin disconnect endpoint.
func (c *WhatsAppChannel) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	var err error
	if c.client != nil {
		err = c.client.Logout(ctx)
		c.client.Disconnect()
	}
	c.wipeCredentials()
	c.setStatus("disconnected")
	return err
}

// SendText sends one text message.
func (c *WhatsAppChannel) SendText(ctx context.Context, address, text string) error {
	if c.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	jid := types.NewJID(address, types.DefaultUserServer)
	_, err := c.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.setStatus("connected")
		c.mu.Lock()
		c.connectedSince = time.Now()
		c.mu.Unlock()
		c.Bus.PublishLifecycle(bus.LifecycleEvent{Transport: c.Name(), Kind: bus.LifecycleConnected})
		slog.Info("WhatsApp connected")

	case *events.Message:
		c.handleMessage(v)

	case *events.UndecryptableMessage:
		c.handleUndecryptable(v.Info.Sender.User)

	case *events.Disconnected:
		c.setStatus("disconnected")
		c.Bus.PublishLifecycle(bus.LifecycleEvent{Transport: c.Name(), Kind: bus.LifecycleDisconnected, Reason: "disconnected"})
		go c.reconnectLoop()

	case *events.LoggedOut:
		slog.Error("WhatsApp session logged out", "reason", v.Reason)
		c.fatal(fmt.Sprintf("logged out: %v", v.Reason))

	case *events.StreamReplaced:
		slog.Error("WhatsApp stream replaced by another session")
		c.fatal("stream replaced")
	}
}

func (c *WhatsAppChannel) handleMessage(v *events.Message) {
	text, mediaKind := extractText(v)
	chat := v.Info.Chat

	c.Bus.PublishInbound(bus.InboundEvent{
		Transport: c.Name(),
		Address:   v.Info.Sender.User,
		PushName:  v.Info.PushName,
		Text:      text,
		MediaKind: mediaKind,
		FromSelf:  v.Info.IsFromMe,
		Group:     chat.Server == types.GroupServer,
		Broadcast: strings.Contains(chat.Server, "broadcast") || chat.User == "status",
		Timestamp: v.Info.Timestamp,
	})

	// A successfully decrypted message resets the sender's failure streak.
	c.mu.Lock()
	delete(c.decryptFails, v.Info.Sender.User)
	c.mu.Unlock()
}

// handleUndecryptable counts consecutive decryption failures per sender and
// sends the canned recovery message at the threshold.
func (c *WhatsAppChannel) handleUndecryptable(sender string) {
	threshold := c.cfg.RecoveryThreshold
	if threshold <= 0 {
		threshold = 3
	}

	c.mu.Lock()
	c.decryptFails[sender]++
	hit := c.decryptFails[sender] >= threshold
	if hit {
		c.decryptFails[sender] = 0
	}
	c.mu.Unlock()

	if !hit {
		return
	}
	slog.Warn("decryption failure threshold reached, sending recovery message", "sender", sender)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.SendText(ctx, sender, recoveryMessage); err != nil {
		slog.Error("recovery message failed", "sender", sender, "error", err)
	}
}

// reconnectLoop retries the connection with exponential backoff (capped at
// 30s, at most 5 attempts). A session that lasted over a minute resets the
// attempt counter; running out of attempts is fatal.
func (c *WhatsAppChannel) reconnectLoop() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	if !c.connectedSince.IsZero() && time.Since(c.connectedSince) > stableSessionAfter {
		c.reconnectAttempts = 0
		// Reset once per stable session, not on every retry of this outage.
		c.connectedSince = time.Time{}
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	c.mu.Unlock()

	if attempt > reconnectMaxAttempts {
		c.fatal("reconnect attempts exhausted")
		return
	}

	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	if backoff > reconnectMaxBackoff {
		backoff = reconnectMaxBackoff
	}
	slog.Info("WhatsApp reconnecting", "attempt", attempt, "backoff", backoff)
	time.Sleep(backoff)

	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if stopping || c.client == nil || c.client.IsConnected() {
		return
	}
	if err := c.client.Connect(); err != nil {
		slog.Warn("WhatsApp reconnect failed", "attempt", attempt, "error", err)
		go c.reconnectLoop()
	}
}

// fatal wipes credentials and reports the unrecoverable state; the runtime
// releases the session lock and exits for supervised restart.
func (c *WhatsAppChannel) fatal(reason string) {
	c.wipeCredentials()
	c.Bus.PublishLifecycle(bus.LifecycleEvent{
		Transport: c.Name(),
		Kind:      bus.LifecycleFatal,
		Reason:    reason,
	})
}

func (c *WhatsAppChannel) wipeCredentials() {
	if err := c.store.WipeCredentials("whatsapp"); err != nil {
		slog.Error("credential wipe failed", "error", err)
	}
	// The SDK's own device store is wiped too so the next start pairs fresh.
	if c.client != nil && c.client.Store != nil {
		if err := c.client.Store.Delete(context.Background()); err != nil {
			slog.Warn("device store delete failed", "error", err)
		}
	}
}

// SaveDeviceSnapshot records the paired device identity in the credential
// store (binary-preserving, read back byte-for-byte on inspection).
func (c *WhatsAppChannel) SaveDeviceSnapshot() {
	if c.client == nil || c.client.Store == nil || c.client.Store.ID == nil {
		return
	}
	if err := c.store.WriteCredential(deviceCredentialID, []byte(c.client.Store.ID.String())); err != nil {
		slog.Warn("device snapshot save failed", "error", err)
	}
}

// extractText pulls the text and a media tag out of a message event.
func extractText(v *events.Message) (string, string) {
	msg := v.Message
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), "text"
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText(), "text"
	case msg.GetImageMessage() != nil:
		caption := msg.GetImageMessage().GetCaption()
		if caption == "" {
			caption = "[image]"
		}
		return caption, "image"
	case msg.GetAudioMessage() != nil:
		return "[voice message]", "audio"
	case msg.GetDocumentMessage() != nil:
		title := msg.GetDocumentMessage().GetTitle()
		if title == "" {
			title = msg.GetDocumentMessage().GetFileName()
		}
		return fmt.Sprintf("[document: %s]", title), "document"
	default:
		return "", ""
	}
}
