// ABOUTME: Static codex catalog embedded as YAML with markdown descriptions
// ABOUTME: Renders descriptions to HTML once and derives unlock status from the checklist

package codex

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/2389/forgestate/internal/projectstate"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Complexity levels accepted for codex items.
var complexities = map[string]bool{
	"low":     true,
	"medium":  true,
	"high":    true,
	"extreme": true,
}

// DefaultComplexity is applied to custom items that don't name one
const DefaultComplexity = "medium"

type entry struct {
	ID          string `yaml:"id"`
	Category    string `yaml:"category"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Complexity  string `yaml:"complexity"`
	UnlockStep  *int   `yaml:"unlock_step"`
	html        string
}

// Catalog is the immutable static codex.
type Catalog struct {
	entries []entry
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := Load(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded codex catalog is invalid: %v", err))
	}
	return c
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var entries []entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing codex catalog: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			return nil, fmt.Errorf("codex entry %d: id is required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("codex entry %s: duplicate id", e.ID)
		}
		seen[e.ID] = true
		if e.Title == "" || e.Category == "" {
			return nil, fmt.Errorf("codex entry %s: title and category are required", e.ID)
		}
		if !complexities[e.Complexity] {
			return nil, fmt.Errorf("codex entry %s: unknown complexity %q", e.ID, e.Complexity)
		}
		if e.UnlockStep != nil && *e.UnlockStep < 0 {
			return nil, fmt.Errorf("codex entry %s: unlock_step must not be negative", e.ID)
		}

		html, err := Render(e.Description)
		if err != nil {
			return nil, fmt.Errorf("codex entry %s: %w", e.ID, err)
		}
		e.html = html
	}

	return &Catalog{entries: entries}, nil
}

// Len returns the number of catalog entries
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Items returns the catalog as codex items. Entries with an unlock step are
// marked unlocked when that step is complete in checklist; a nil checklist
// leaves isUnlocked unset.
func (c *Catalog) Items(checklist []bool) []projectstate.CodexItem {
	items := make([]projectstate.CodexItem, 0, len(c.entries))
	for _, e := range c.entries {
		item := projectstate.CodexItem{
			ID:              e.ID,
			Category:        e.Category,
			Title:           e.Title,
			Description:     strings.TrimSpace(e.Description),
			DescriptionHTML: e.html,
			Complexity:      e.Complexity,
		}
		if checklist != nil {
			unlocked := true
			if e.UnlockStep != nil {
				step := *e.UnlockStep
				unlocked = step < len(checklist) && checklist[step]
			}
			item.IsUnlocked = &unlocked
		}
		items = append(items, item)
	}
	return items
}

// Render converts markdown to HTML.
func Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// PrepareCustom validates a caller-supplied item and fills derived fields.
// The id is left to the caller; duplicates are not checked.
func PrepareCustom(item *projectstate.CodexItem) error {
	item.Title = strings.TrimSpace(item.Title)
	item.Category = strings.TrimSpace(item.Category)
	if item.Title == "" {
		return projectstate.Invalid("title", "is required")
	}
	if item.Category == "" {
		return projectstate.Invalid("category", "is required")
	}
	if item.Complexity == "" {
		item.Complexity = DefaultComplexity
	}
	if !complexities[item.Complexity] {
		return projectstate.Invalid("complexity", "must be one of low, medium, high, extreme")
	}

	html, err := Render(item.Description)
	if err != nil {
		return projectstate.Invalid("description", "%v", err)
	}
	item.DescriptionHTML = html
	return nil
}
