package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/attachebot/attache/internal/store"
)

func TestPromptPriorityChain(t *testing.T) {
	contact := &store.Contact{Phone: "123", DisplayName: "Alice"}

	// Override wins over everything.
	p := BuildPrompt(PromptInput{
		Override:  "OVERRIDE PROMPT",
		AIProfile: &store.AIProfile{SystemPrompt: "CUSTOM SYSTEM"},
		Contact:   contact,
	})
	if !strings.Contains(p, "OVERRIDE PROMPT") || strings.Contains(p, "CUSTOM SYSTEM") {
		t.Fatalf("override priority broken:\n%s", p)
	}

	// Custom system prompt wins over components and defaults.
	p = BuildPrompt(PromptInput{
		AIProfile: &store.AIProfile{SystemPrompt: "CUSTOM SYSTEM", Name: "Jarvis"},
		Contact:   contact,
	})
	if !strings.Contains(p, "CUSTOM SYSTEM") || !strings.Contains(p, "Jarvis") {
		t.Fatalf("system prompt + identity block expected:\n%s", p)
	}

	// Component profile.
	p = BuildPrompt(PromptInput{
		AIProfile: &store.AIProfile{Name: "Jarvis", Instructions: "be formal"},
		Contact:   contact,
	})
	if !strings.Contains(p, "Jarvis") || !strings.Contains(p, "be formal") {
		t.Fatalf("component profile expected:\n%s", p)
	}

	// Defaults by role.
	owner := BuildPrompt(PromptInput{IsOwner: true, Contact: contact})
	if !strings.Contains(owner, "talking to the owner") {
		t.Fatalf("owner template expected:\n%s", owner)
	}
	rep := BuildPrompt(PromptInput{Contact: contact})
	if !strings.Contains(rep, "messaging representative") {
		t.Fatalf("representative template expected:\n%s", rep)
	}
}

func TestPromptTemporalContext(t *testing.T) {
	now := time.Date(2026, 8, 5, 14, 30, 0, 0, time.UTC)
	p := BuildPrompt(PromptInput{Now: now})
	if !strings.Contains(p, "Wednesday") || !strings.Contains(p, "2026-08-05 14:30") {
		t.Fatalf("temporal context missing:\n%s", p)
	}
}

func TestPromptShortResponseConstraint(t *testing.T) {
	p := BuildPrompt(PromptInput{AIProfile: &store.AIProfile{ResponseLength: "short"}})
	if !strings.Contains(p, "short") {
		t.Fatalf("short constraint missing:\n%s", p)
	}
}

func TestPromptIdentityDiscoveryInjection(t *testing.T) {
	contact := &store.Contact{Phone: "123", DisplayName: "iPhone"}

	p := BuildPrompt(PromptInput{Contact: contact, NeedsName: true})
	if !strings.Contains(p, "update_contact_info") {
		t.Fatalf("identity discovery prompt missing:\n%s", p)
	}

	// Never injected for the owner.
	p = BuildPrompt(PromptInput{Contact: contact, NeedsName: true, IsOwner: true})
	if strings.Contains(p, "update_contact_info") {
		t.Fatalf("identity discovery must not target the owner:\n%s", p)
	}
}

func TestPromptHistoryAndBatch(t *testing.T) {
	p := BuildPrompt(PromptInput{
		History: []store.MessageLog{
			{Role: store.RoleUser, Content: "earlier question"},
			{Role: store.RoleAgent, Content: "earlier answer"},
		},
		Batch: "new question",
	})
	histIdx := strings.Index(p, "earlier question")
	batchIdx := strings.Index(p, "new question")
	if histIdx < 0 || batchIdx < 0 || histIdx > batchIdx {
		t.Fatalf("history must precede the new batch:\n%s", p)
	}
}
