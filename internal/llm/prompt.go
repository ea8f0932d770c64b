package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/attachebot/attache/internal/store"
)

const ownerTemplate = `You are the personal assistant of your owner. You are talking to the owner directly.
Be direct, concise and useful. Execute requests; do not roleplay.`

const representativeTemplate = `You are an autonomous messaging representative answering on behalf of your owner, who is currently unavailable.
Be polite and helpful, take messages, and never promise anything on the owner's behalf beyond scheduling.
If the conversation has naturally ended, append the marker #END_SESSION# to your final message.`

const identityDiscoveryPrompt = `The sender's name is not yet known. Politely work their name into the conversation and, once they state it, call the update_contact_info tool with it. Do not be pushy about it.`

// PromptInput carries everything the builder needs for one call.
type PromptInput struct {
	Override    string
	AIProfile   *store.AIProfile
	UserProfile *store.UserProfile
	Contact     *store.Contact
	IsOwner     bool
	History     []store.MessageLog
	Batch       string
	Now         time.Time
	NeedsName   bool
}

// BuildPrompt assembles the full prompt deterministically:
// override > aiProfile.systemPrompt > aiProfile components > role default,
// then the contact block, user profile block, temporal context, length
// constraint, history and the reply cue.
func BuildPrompt(in PromptInput) string {
	var sb strings.Builder

	switch {
	case in.Override != "":
		sb.WriteString(in.Override)
	case in.AIProfile != nil && in.AIProfile.SystemPrompt != "":
		sb.WriteString(in.AIProfile.SystemPrompt)
		writeIdentityBlock(&sb, in.AIProfile)
	case in.AIProfile != nil && (in.AIProfile.Name != "" || in.AIProfile.Instructions != "" || in.AIProfile.Greeting != ""):
		writeIdentityBlock(&sb, in.AIProfile)
		if in.AIProfile.Instructions != "" && !in.IsOwner {
			sb.WriteString("\nInstructions: " + in.AIProfile.Instructions)
		}
		if in.AIProfile.Greeting != "" {
			sb.WriteString("\nPreferred greeting: " + in.AIProfile.Greeting)
		}
	case in.IsOwner:
		sb.WriteString(ownerTemplate)
	default:
		sb.WriteString(representativeTemplate)
	}

	if in.Contact != nil {
		sb.WriteString("\n\n## Contact\n")
		name := in.Contact.BestName()
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(&sb, "Name: %s (verified: %v)\n", name, in.Contact.Verified)
		fmt.Fprintf(&sb, "Address: %s\n", in.Contact.Phone)
		if in.Contact.Summary != "" {
			fmt.Fprintf(&sb, "Known context: %s\n", in.Contact.Summary)
		}
	}

	if in.NeedsName && !in.IsOwner {
		sb.WriteString("\n" + identityDiscoveryPrompt + "\n")
	}

	if in.UserProfile != nil && (in.UserProfile.Name != "" || in.UserProfile.Details != "") {
		sb.WriteString("\n## Owner\n")
		if in.UserProfile.Name != "" {
			fmt.Fprintf(&sb, "Name: %s\n", in.UserProfile.Name)
		}
		if in.UserProfile.Details != "" {
			fmt.Fprintf(&sb, "%s\n", in.UserProfile.Details)
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	tz := now.Location().String()
	if in.UserProfile != nil && in.UserProfile.Timezone != "" {
		if loc, err := time.LoadLocation(in.UserProfile.Timezone); err == nil {
			now = now.In(loc)
			tz = in.UserProfile.Timezone
		}
	}
	fmt.Fprintf(&sb, "\nCurrent time: %s, %s (%s)\n",
		now.Weekday(), now.Format("2006-01-02 15:04"), tz)

	if in.AIProfile != nil && in.AIProfile.ResponseLength == "short" {
		sb.WriteString("Keep your reply short: at most two sentences.\n")
	}

	if len(in.History) > 0 {
		sb.WriteString("\n## Conversation so far\n")
		for _, m := range in.History {
			role := "User"
			if m.Role == store.RoleAgent {
				role = "You"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
		}
	}

	if in.Batch != "" {
		sb.WriteString("\n## New message\n")
		sb.WriteString(in.Batch)
		sb.WriteString("\n")
	}

	sb.WriteString("\nReply with the message to send back.")
	return sb.String()
}

func writeIdentityBlock(sb *strings.Builder, p *store.AIProfile) {
	if p.Name == "" && p.Role == "" && len(p.Traits) == 0 {
		return
	}
	sb.WriteString("\n\n## Identity\n")
	if p.Name != "" {
		fmt.Fprintf(sb, "Name: %s\n", p.Name)
	}
	if p.Role != "" {
		fmt.Fprintf(sb, "Role: %s\n", p.Role)
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(sb, "Traits: %s\n", strings.Join(p.Traits, ", "))
	}
}

// stripFences removes surrounding markdown code fences from model output
// before JSON parsing.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```json")
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
