// Package debounce coalesces bursts of messages from one sender into a
// single batch emitted after a quiet window.
package debounce

import (
	"sync"
	"time"
)

// Batch is the flush product for one sender: the raw texts in arrival order.
type Batch struct {
	Address  string
	PushName string
	Platform string
	Texts    []string
}

type senderBuffer struct {
	texts    []string
	pushName string
	platform string
	timer    *time.Timer
}

// Buffer holds per-sender queues with one timer each. The lock is only held
// during brief append/swap operations; flushes run outside it.
type Buffer struct {
	mu        sync.Mutex
	senders   map[string]*senderBuffer
	window    time.Duration
	maxBuffer int
	flush     func(Batch)
	closed    bool
}

// New creates a Buffer that calls flush with each emitted batch.
func New(window time.Duration, maxBuffer int, flush func(Batch)) *Buffer {
	if window <= 0 {
		window = 8 * time.Second
	}
	if maxBuffer <= 0 {
		maxBuffer = 20
	}
	return &Buffer{
		senders:   make(map[string]*senderBuffer),
		window:    window,
		maxBuffer: maxBuffer,
		flush:     flush,
	}
}

// Add appends a text to the sender's buffer and (re)arms the flush timer.
// An identical consecutive text inside the window is dropped, which makes
// at-least-once transport delivery idempotent here. When the buffer reaches
// maxBuffer the batch flushes immediately.
func (b *Buffer) Add(address, pushName, platform, text string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	sb := b.senders[address]
	if sb == nil {
		sb = &senderBuffer{pushName: pushName, platform: platform}
		b.senders[address] = sb
	}
	if pushName != "" {
		sb.pushName = pushName
	}

	if n := len(sb.texts); n > 0 && sb.texts[n-1] == text {
		// Duplicate delivery of the same message; re-arm and move on.
		sb.resetTimer(b, address)
		b.mu.Unlock()
		return
	}

	sb.texts = append(sb.texts, text)

	if len(sb.texts) >= b.maxBuffer {
		batch := b.takeLocked(address)
		b.mu.Unlock()
		if batch != nil {
			b.flush(*batch)
		}
		return
	}

	sb.resetTimer(b, address)
	b.mu.Unlock()
}

func (sb *senderBuffer) resetTimer(b *Buffer, address string) {
	if sb.timer != nil {
		sb.timer.Stop()
	}
	sb.timer = time.AfterFunc(b.window, func() {
		b.fire(address)
	})
}

func (b *Buffer) fire(address string) {
	b.mu.Lock()
	batch := b.takeLocked(address)
	b.mu.Unlock()
	if batch != nil {
		b.flush(*batch)
	}
}

// takeLocked atomically removes and returns the sender's buffered batch.
func (b *Buffer) takeLocked(address string) *Batch {
	sb := b.senders[address]
	if sb == nil || len(sb.texts) == 0 {
		return nil
	}
	if sb.timer != nil {
		sb.timer.Stop()
	}
	delete(b.senders, address)
	return &Batch{
		Address:  address,
		PushName: sb.pushName,
		Platform: sb.platform,
		Texts:    sb.texts,
	}
}

// Pending returns the number of senders with buffered texts.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.senders)
}

// Close flushes every pending buffer and rejects further adds. Called on
// shutdown so buffered texts are not lost.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	var batches []Batch
	for addr := range b.senders {
		if batch := b.takeLocked(addr); batch != nil {
			batches = append(batches, *batch)
		}
	}
	b.mu.Unlock()

	for _, batch := range batches {
		b.flush(batch)
	}
}
