package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/attachebot/attache/internal/store"
)

// UpdateContactInfoTool records a contact's confirmed name. It is the only
// path by which a contact becomes verified.
type UpdateContactInfoTool struct {
	store *store.Store
}

// NewUpdateContactInfoTool creates the tool.
func NewUpdateContactInfoTool(s *store.Store) *UpdateContactInfoTool {
	return &UpdateContactInfoTool{store: s}
}

func (t *UpdateContactInfoTool) Name() string { return "update_contact_info" }

func (t *UpdateContactInfoTool) Description() string {
	return "Save the contact's confirmed name once they have stated it in the conversation."
}

func (t *UpdateContactInfoTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"name": map[string]any{
			"type":        "string",
			"description": "The name the contact gave for themselves",
		},
	}, "name")
}

func (t *UpdateContactInfoTool) Execute(_ context.Context, args map[string]any, inv Invocation) (string, error) {
	if inv.Contact == nil {
		return "", fmt.Errorf("no contact in scope")
	}
	name := strings.TrimSpace(GetString(args, "name", ""))
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	if err := t.store.ConfirmContactName(inv.Contact.Phone, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("contact name saved as %q", name), nil
}
