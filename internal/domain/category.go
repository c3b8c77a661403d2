package domain

import (
	"fmt"
	"strings"
)

// Category is the closed set of document collections known to the assistant.
type Category int

const (
	CategoryInternal Category = iota
	CategoryParts
	CategoryManuals
	CategoryOther

	categoryCount
)

type categoryInfo struct {
	label string
	key   string
}

// categoryTable must have exactly one entry per Category value.
var categoryTable = [categoryCount]categoryInfo{
	CategoryInternal: {label: "Internal Information", key: "internal"},
	CategoryParts:    {label: "Parts / Materials", key: "parts"},
	CategoryManuals:  {label: "Manuals", key: "manuals"},
	CategoryOther:    {label: "Other", key: "other"},
}

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := Category(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool { return c >= 0 && c < categoryCount }

// Label is the default human-readable name.
func (c Category) Label() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryTable[c].label
}

// Key is the stable storage key used for document and index folders.
func (c Category) Key() string {
	if !c.Valid() {
		return ""
	}
	return categoryTable[c].key
}

func (c Category) String() string { return c.Key() }

// CategoryFromKey resolves a storage key.
func CategoryFromKey(key string) (Category, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	for c := Category(0); c < categoryCount; c++ {
		if categoryTable[c].key == k {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: key %q", ErrUnknownCategory, key)
}

// Labels maps categories to display labels. The zero value uses defaults.
type Labels map[Category]string

// NewLabels builds a label set from key->label overrides. Unknown keys and
// duplicate labels are rejected so the label lookup stays total and unambiguous.
func NewLabels(overrides map[string]string) (Labels, error) {
	labels := make(Labels, categoryCount)
	for _, c := range Categories() {
		labels[c] = c.Label()
	}
	for key, label := range overrides {
		c, err := CategoryFromKey(key)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(label) == "" {
			continue
		}
		labels[c] = strings.TrimSpace(label)
	}
	seen := make(map[string]Category, len(labels))
	for _, c := range Categories() {
		l := labels[c]
		if prev, ok := seen[l]; ok {
			return nil, fmt.Errorf("%w: label %q used by both %s and %s", ErrConfiguration, l, prev.Key(), c.Key())
		}
		seen[l] = c
	}
	return labels, nil
}

// Label returns the display label for c.
func (l Labels) Label(c Category) string {
	if v, ok := l[c]; ok {
		return v
	}
	return c.Label()
}

// List returns labels in category declaration order.
func (l Labels) List() []string {
	out := make([]string, 0, categoryCount)
	for _, c := range Categories() {
		out = append(out, l.Label(c))
	}
	return out
}

// Parse resolves a display label, falling back to the storage key.
func (l Labels) Parse(label string) (Category, error) {
	trimmed := strings.TrimSpace(label)
	for _, c := range Categories() {
		if l.Label(c) == trimmed {
			return c, nil
		}
	}
	if c, err := CategoryFromKey(trimmed); err == nil {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, label)
}

// ParseCategory resolves a default label or storage key.
func ParseCategory(label string) (Category, error) {
	return Labels(nil).Parse(label)
}
