// Package config provides configuration types and loading for attache.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Owner, LLM, DB, Debounce, Queue, Workers, Session,
// Tools, Telegram, WhatsApp, HTTP.
type Config struct {
	Owner    OwnerConfig    `json:"owner"`
	LLM      LLMConfig      `json:"llm"`
	DB       DBConfig       `json:"db"`
	Debounce DebounceConfig `json:"debounce"`
	Queue    QueueConfig    `json:"queue"`
	Workers  WorkersConfig  `json:"workers"`
	Session  SessionConfig  `json:"session"`
	Tools    ToolsConfig    `json:"tools"`
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	HTTP     HTTPConfig     `json:"http"`
	Mode     string         `json:"mode" envconfig:"MODE"`
}

// OwnerConfig identifies the distinguished owner user.
type OwnerConfig struct {
	// Address is the canonical digits-only phone address of the owner.
	Address string `json:"address" envconfig:"OWNER_ADDRESS"`
	// SecondaryID is an optional alternate identifier (e.g. a desktop-linked
	// id) that intake normalizes back to Address.
	SecondaryID string `json:"secondaryId" envconfig:"OWNER_SECONDARY_ID"`
}

// LLMConfig groups model and gateway settings.
type LLMConfig struct {
	// APIKey is the primary credential. Additional keys come from
	// ATTACHE_LLM_API_KEY_1..N and the comma-separated APIKeys list; the
	// loader merges all three into one ordered pool.
	APIKey     string        `json:"apiKey" envconfig:"LLM_API_KEY"`
	APIKeys    string        `json:"apiKeys" envconfig:"LLM_API_KEYS"`
	Model      string        `json:"model" envconfig:"LLM_MODEL"`
	APIBase    string        `json:"apiBase,omitempty" envconfig:"LLM_API_BASE"`
	MinSpacing time.Duration `json:"minSpacing" envconfig:"LLM_MIN_SPACING"`
	RetryDelay time.Duration `json:"retryDelay" envconfig:"LLM_RETRY_DELAY"`
	MaxRetries int           `json:"maxRetries" envconfig:"LLM_MAX_RETRIES"`
	Timeout    time.Duration `json:"timeout" envconfig:"LLM_TIMEOUT"`
}

// DBConfig points at the SQLite database file.
type DBConfig struct {
	Path string `json:"path" envconfig:"DB_PATH"`
}

// DebounceConfig tunes the per-sender burst coalescing buffer.
type DebounceConfig struct {
	Window    time.Duration `json:"window" envconfig:"DEBOUNCE_WINDOW"`
	MaxBuffer int           `json:"maxBuffer" envconfig:"DEBOUNCE_MAX_BUFFER"`
}

// QueueConfig tunes the persistent message queue.
type QueueConfig struct {
	MaxRetries   int           `json:"maxRetries" envconfig:"QUEUE_MAX_RETRIES"`
	LeaseTimeout time.Duration `json:"leaseTimeout" envconfig:"QUEUE_LEASE_TIMEOUT"`
	RetentionTTL time.Duration `json:"retentionTtl" envconfig:"QUEUE_RETENTION_TTL"`
	PollInterval time.Duration `json:"pollInterval" envconfig:"QUEUE_POLL_INTERVAL"`
}

// WorkersConfig tunes the worker pool and its concurrency controller.
type WorkersConfig struct {
	Initial        int           `json:"initial" envconfig:"WORKERS_INITIAL"`
	Min            int           `json:"min" envconfig:"WORKERS_MIN"`
	Max            int           `json:"max" envconfig:"WORKERS_MAX"`
	SampleInterval time.Duration `json:"sampleInterval" envconfig:"WORKERS_SAMPLE_INTERVAL"`
	HighWatermark  int           `json:"highWatermark" envconfig:"WORKERS_HIGH_WATERMARK"`
	LowWatermark   int           `json:"lowWatermark" envconfig:"WORKERS_LOW_WATERMARK"`
	// ErrorRateLimit is the recent error-rate ceiling above which the
	// controller will not add workers (0..1).
	ErrorRateLimit float64       `json:"errorRateLimit" envconfig:"WORKERS_ERROR_RATE_LIMIT"`
	ShutdownGrace  time.Duration `json:"shutdownGrace" envconfig:"WORKERS_SHUTDOWN_GRACE"`
}

// SessionConfig tunes conversation session tracking and the process lock.
type SessionConfig struct {
	// Timeout is the silence interval after which an active conversation is
	// completed and a summary report is enqueued.
	Timeout time.Duration `json:"timeout" envconfig:"SESSION_TIMEOUT"`
	// LockName is the singleton session_lock row name.
	LockName string `json:"lockName" envconfig:"SESSION_LOCK_NAME"`
	// LockTTL is how long a held lock stays valid without a heartbeat.
	LockTTL time.Duration `json:"lockTtl" envconfig:"SESSION_LOCK_TTL"`
}

// ToolsConfig tunes the tool-calling reply loop.
type ToolsConfig struct {
	MaxDepth int `json:"maxDepth" envconfig:"TOOLS_MAX_DEPTH"`
	// SearchAPIKey configures the web search collaborator (optional).
	SearchAPIKey string `json:"searchApiKey" envconfig:"SEARCH_API_KEY"`
}

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token       string `json:"token" envconfig:"TELEGRAM_TOKEN"`
	OwnerChatID int64  `json:"ownerChatId" envconfig:"TELEGRAM_OWNER_CHAT_ID"`
}

// WhatsAppConfig configures the WhatsApp transport.
type WhatsAppConfig struct {
	Enabled bool `json:"enabled" envconfig:"WHATSAPP_ENABLED"`
	// QRPath is where the pairing QR code PNG is written for headless login.
	QRPath string `json:"qrPath" envconfig:"WHATSAPP_QR_PATH"`
	// RecoveryThreshold is the consecutive undecryptable-message count that
	// triggers the canned recovery message.
	RecoveryThreshold int `json:"recoveryThreshold" envconfig:"WHATSAPP_RECOVERY_THRESHOLD"`
}

// HTTPConfig configures the admin API server.
type HTTPConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:      "gemini-2.0-flash",
			MinSpacing: 3 * time.Second,
			RetryDelay: 2 * time.Second,
			MaxRetries: 50,
			Timeout:    30 * time.Second,
		},
		DB: DBConfig{
			Path: "~/.attache/attache.db",
		},
		Debounce: DebounceConfig{
			Window:    8 * time.Second,
			MaxBuffer: 20,
		},
		Queue: QueueConfig{
			MaxRetries:   3,
			LeaseTimeout: 10 * time.Minute,
			RetentionTTL: 24 * time.Hour,
			PollInterval: time.Second,
		},
		Workers: WorkersConfig{
			Initial:        4,
			Min:            1,
			Max:            16,
			SampleInterval: 30 * time.Second,
			HighWatermark:  10,
			LowWatermark:   2,
			ErrorRateLimit: 0.3,
			ShutdownGrace:  5 * time.Second,
		},
		Session: SessionConfig{
			Timeout:  20 * time.Minute,
			LockName: "attache",
			LockTTL:  2 * time.Minute,
		},
		Tools: ToolsConfig{
			MaxDepth: 5,
		},
		WhatsApp: WhatsAppConfig{
			Enabled:           true,
			QRPath:            "~/.attache/whatsapp-qr.png",
			RecoveryThreshold: 3,
		},
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 18890,
		},
		Mode: "run",
	}
}
