package llm

import (
	"sync"
	"time"
)

type keyState struct {
	key                 string
	availableAt         time.Time
	consecutiveFailures int
	disabled            bool
}

// KeyPool rotates across a fixed ordered set of API credentials, tracking
// per-key cooldowns and permanent invalidation.
type KeyPool struct {
	mu   sync.Mutex
	keys []*keyState
	next int
}

// NewKeyPool creates a pool from an ordered key list.
func NewKeyPool(keys []string) *KeyPool {
	p := &KeyPool{}
	for _, k := range keys {
		p.keys = append(p.keys, &keyState{key: k})
	}
	return p
}

// Size returns the number of configured keys.
func (p *KeyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next returns the next usable key round-robin, or "" when every key is
// cooling down or disabled.
func (p *KeyPool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	n := len(p.keys)
	for i := 0; i < n; i++ {
		ks := p.keys[(p.next+i)%n]
		if ks.disabled || ks.availableAt.After(now) {
			continue
		}
		p.next = (p.next + i + 1) % n
		return ks.key, true
	}
	return "", false
}

// PenalizeRateLimit starts a cooldown for the key.
func (p *KeyPool) PenalizeRateLimit(key string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ks := range p.keys {
		if ks.key == key {
			ks.availableAt = time.Now().Add(retryAfter)
			ks.consecutiveFailures++
			return
		}
	}
}

// MarkSuccess clears the key's failure streak.
func (p *KeyPool) MarkSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ks := range p.keys {
		if ks.key == key {
			ks.consecutiveFailures = 0
			return
		}
	}
}

// Disable marks the key permanently unavailable (invalid credential).
func (p *KeyPool) Disable(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ks := range p.keys {
		if ks.key == key {
			ks.disabled = true
			return
		}
	}
}

// Exhausted reports whether no key is currently usable.
func (p *KeyPool) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, ks := range p.keys {
		if !ks.disabled && !ks.availableAt.After(now) {
			return false
		}
	}
	return true
}

// AvailableCount returns how many keys are currently usable.
func (p *KeyPool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	n := 0
	for _, ks := range p.keys {
		if !ks.disabled && !ks.availableAt.After(now) {
			n++
		}
	}
	return n
}

// EarliestAvailable returns when the soonest cooling-down key becomes
// usable. Zero time when a key is usable right now or every key is disabled.
func (p *KeyPool) EarliestAvailable() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	var earliest time.Time
	for _, ks := range p.keys {
		if ks.disabled {
			continue
		}
		if !ks.availableAt.After(now) {
			return time.Time{}
		}
		if earliest.IsZero() || ks.availableAt.Before(earliest) {
			earliest = ks.availableAt
		}
	}
	return earliest
}
