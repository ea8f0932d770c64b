package store

// Queue priorities, lowest number first out.
const (
	PriorityCritical = 0
	PriorityHigh     = 1
	PriorityNormal   = 2
	PriorityLow      = 3
)

// Queue and report item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Conversation statuses.
const (
	ConversationActive    = "active"
	ConversationCompleted = "completed"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phone TEXT UNIQUE NOT NULL,
	display_name TEXT DEFAULT '',
	confirmed_name TEXT DEFAULT '',
	verified BOOLEAN NOT NULL DEFAULT 0,
	trust_level INTEGER NOT NULL DEFAULT 0,
	summary TEXT DEFAULT '',
	platform TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone);

CREATE TABLE IF NOT EXISTS message_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	contact_phone TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	media_type TEXT DEFAULT 'text',
	platform TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_message_logs_contact ON message_logs(contact_phone);
CREATE INDEX IF NOT EXISTS idx_message_logs_created ON message_logs(created_at);

CREATE TABLE IF NOT EXISTS auth_credentials (
	cred_id TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session_lock (
	session_name TEXT PRIMARY KEY,
	holder_id TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	contact_phone TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	urgency INTEGER,
	summary TEXT DEFAULT '',
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_conversations_contact ON conversations(contact_phone, status);

CREATE TABLE IF NOT EXISTS ai_profile (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_profile (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_phone TEXT NOT NULL,
	sender_name TEXT DEFAULT '',
	platform TEXT DEFAULT '',
	messages TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 2,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	worker_id TEXT DEFAULT '',
	error_text TEXT DEFAULT '',
	visible_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	leased_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	processed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_queue_lease ON message_queue(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_queue_sender ON message_queue(sender_phone, status);
CREATE INDEX IF NOT EXISTS idx_queue_hash ON message_queue(content_hash, status);

CREATE TABLE IF NOT EXISTS queue_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	depth INTEGER NOT NULL DEFAULT 0,
	worker_count INTEGER NOT NULL DEFAULT 0,
	error_rate REAL NOT NULL DEFAULT 0,
	sampled_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_queue_metrics_sampled ON queue_metrics(sampled_at);

CREATE TABLE IF NOT EXISTS report_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	contact_phone TEXT NOT NULL,
	contact_name TEXT DEFAULT '',
	conversation_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_text TEXT DEFAULT '',
	last_attempt_at DATETIME,
	last_user_message_at DATETIME,
	visible_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_report_queue_status ON report_queue(status, visible_at);
`
