package conversation

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// promptEntry is one catalog entry.
type promptEntry struct {
	Text    string   `yaml:"text"`
	Choices []string `yaml:"choices"`
}

// Catalog maps prompt keys to user-facing text and choice tokens.
type Catalog struct {
	prompts map[string]promptEntry
}

// requiredPromptKeys lists every key the engine emits. Loading a catalog
// with any of them missing fails fast instead of sending blank prompts.
var requiredPromptKeys = []string{
	"choose_role", "invalid_role", "cancelled",
	"supporter_name", "supporter_city", "supporter_email",
	"supporter_phone", "supporter_reason", "supporter_done",
	"expert_name", "expert_field", "expert_experience",
	"expert_position", "expert_links", "expert_why", "expert_done",
	"too_short", "invalid_email", "invalid_position",
	"position_unknown", "position_taken", "remote_retry",
}

// LoadCatalog parses a YAML prompt catalog.
func LoadCatalog(data []byte) (*Catalog, error) {
	var parsed struct {
		Prompts map[string]promptEntry `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	for _, key := range requiredPromptKeys {
		entry, ok := parsed.Prompts[key]
		if !ok || entry.Text == "" {
			return nil, fmt.Errorf("prompt catalog is missing %q", key)
		}
	}
	return &Catalog{prompts: parsed.Prompts}, nil
}

// LoadCatalogFile parses a catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return LoadCatalog(data)
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultPromptsYAML)
}

// Text returns the text for a key. Unknown keys return the key itself so a
// catalog gap degrades visibly instead of silently.
func (c *Catalog) Text(key string) string {
	entry, ok := c.prompts[key]
	if !ok {
		return key
	}
	return entry.Text
}

// Choices returns the choice tokens for a key, or nil.
func (c *Catalog) Choices(key string) []string {
	return c.prompts[key].Choices
}
