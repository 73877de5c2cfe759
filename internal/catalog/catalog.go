// Package catalog holds the species prompt templates loaded once at startup.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/domain"
)

const (
	// DefaultKey names the template used when the caller picks no species.
	DefaultKey = "default"
	// ChatKey names the template used by the care assistant.
	ChatKey = "chat"

	// contextSnippetLen bounds each species note folded into a shared prompt.
	contextSnippetLen = 100

	// minMatchLen keeps one- and two-letter names from matching every key.
	minMatchLen = 3
)

var (
	ErrNotFound = goerr.New("prompt template not found")
	ErrInvalid  = goerr.New("invalid prompt catalog")
)

//go:embed default_prompts.json
var defaultJSON []byte

// DefaultJSON returns the catalog shipped with the binary.
func DefaultJSON() []byte {
	out := make([]byte, len(defaultJSON))
	copy(out, defaultJSON)
	return out
}

type entry struct {
	Template       string   `json:"template"`
	Context        string   `json:"context"`
	ScientificName string   `json:"scientific_name"`
	CareTips       []string `json:"care_tips"`
	CarbonFactor   float64  `json:"carbon_factor"`
	NativeSpecies  bool     `json:"native_species"`
}

// Catalog is immutable after Load and safe for concurrent readers.
type Catalog struct {
	templates map[string]domain.PromptTemplate
	keys      []string
}

// Load reads the catalog file. A missing file, invalid JSON or an entry
// without a template is a configuration error.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(ErrInvalid, "catalog file not found", goerr.V("path", path))
		}
		return nil, goerr.Wrap(ErrInvalid, "failed to read catalog file", goerr.V("path", path), goerr.V("error", err.Error()))
	}

	c, err := Parse(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load catalog", goerr.V("path", path))
	}
	return c, nil
}

// Parse builds a Catalog from the JSON document {key: entry}. The document
// must define the default and chat templates.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(ErrInvalid, "catalog is not a JSON object of templates", goerr.V("error", err.Error()))
	}
	if raw == nil {
		return nil, goerr.Wrap(ErrInvalid, "catalog is not a JSON object of templates")
	}
	for _, required := range []string{DefaultKey, ChatKey} {
		if _, ok := raw[required]; !ok {
			return nil, goerr.Wrap(ErrInvalid, "catalog is missing a required template", goerr.V("key", required))
		}
	}

	c := &Catalog{templates: make(map[string]domain.PromptTemplate, len(raw))}
	for key, e := range raw {
		if strings.TrimSpace(key) == "" {
			return nil, goerr.Wrap(ErrInvalid, "catalog key is empty")
		}
		if strings.TrimSpace(e.Template) == "" {
			return nil, goerr.Wrap(ErrInvalid, "catalog entry has no template", goerr.V("key", key))
		}
		c.templates[key] = domain.PromptTemplate{
			Key:            key,
			Template:       e.Template,
			Context:        e.Context,
			ScientificName: e.ScientificName,
			CareTips:       append([]string(nil), e.CareTips...),
			CarbonFactor:   e.CarbonFactor,
			NativeSpecies:  e.NativeSpecies,
		}
		c.keys = append(c.keys, key)
	}
	sort.Strings(c.keys)
	return c, nil
}

// Lookup returns the template stored under key.
func (c *Catalog) Lookup(key string) (domain.PromptTemplate, error) {
	t, ok := c.templates[key]
	if !ok {
		return domain.PromptTemplate{}, goerr.Wrap(ErrNotFound, "no template for key", goerr.V("key", key))
	}
	return clone(t), nil
}

// Match finds the species entry for a free-form name: first by key
// containment in either direction, then by scientific name. Matching is
// case-insensitive and skips the default and chat templates.
func (c *Catalog) Match(name string) (domain.PromptTemplate, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if len(needle) < minMatchLen {
		return domain.PromptTemplate{}, false
	}

	for _, key := range c.speciesKeys() {
		k := strings.ToLower(key)
		if strings.Contains(k, needle) || strings.Contains(needle, k) {
			return clone(c.templates[key]), true
		}
	}
	for _, key := range c.speciesKeys() {
		sci := strings.ToLower(c.templates[key].ScientificName)
		if sci != "" && (strings.Contains(sci, needle) || strings.Contains(needle, sci)) {
			return clone(c.templates[key]), true
		}
	}
	return domain.PromptTemplate{}, false
}

// SpeciesContext renders one line of reference notes per species entry, in
// key order.
func (c *Catalog) SpeciesContext() string {
	var b strings.Builder
	for _, key := range c.speciesKeys() {
		t := c.templates[key]
		if t.Context == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(key)
		if t.ScientificName != "" {
			b.WriteString(" (" + t.ScientificName + ")")
		}
		b.WriteString(": ")
		b.WriteString(truncate(t.Context, contextSnippetLen))
	}
	return b.String()
}

// Keys returns all template keys in sorted order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Export returns a copy of every template, sorted by key.
func (c *Catalog) Export() []domain.PromptTemplate {
	out := make([]domain.PromptTemplate, 0, len(c.keys))
	for _, key := range c.keys {
		out = append(out, clone(c.templates[key]))
	}
	return out
}

func (c *Catalog) speciesKeys() []string {
	keys := make([]string, 0, len(c.keys))
	for _, key := range c.keys {
		if key == DefaultKey || key == ChatKey {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func clone(t domain.PromptTemplate) domain.PromptTemplate {
	t.CareTips = append([]string(nil), t.CareTips...)
	return t
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
