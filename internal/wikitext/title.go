// Package wikitext holds the small subset of wikitext handling the harvester
// needs: title normalization, template extraction and link markup.
package wikitext

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Well-known namespace ids
const (
	NamespaceMain     = 0
	NamespaceFile     = 6
	NamespaceTemplate = 10
)

// maxTitleBytes is the MediaWiki limit on the database key of a title
const maxTitleBytes = 255

// ErrInvalidTitle is returned when text cannot form a page title
var ErrInvalidTitle = errors.New("invalid title")

// Namespace describes one namespace of a wiki
type Namespace struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`      // Local name, e.g. "Sjabloon"
	Canonical     string   `json:"canonical"` // English canonical name, e.g. "Template"
	Aliases       []string `json:"aliases,omitempty"`
	CaseSensitive bool     `json:"case_sensitive"`
}

// Namespaces resolves namespace prefixes for a single wiki
type Namespaces struct {
	byID   map[int]Namespace
	byName map[string]int
}

// NewNamespaces indexes the given namespaces by id, local name, canonical name and alias
func NewNamespaces(namespaces []Namespace) *Namespaces {
	n := &Namespaces{
		byID:   make(map[int]Namespace, len(namespaces)),
		byName: make(map[string]int, len(namespaces)*2),
	}
	for _, ns := range namespaces {
		n.byID[ns.ID] = ns
		for _, name := range append([]string{ns.Name, ns.Canonical}, ns.Aliases...) {
			if name != "" {
				n.byName[nameKey(name)] = ns.ID
			}
		}
	}
	return n
}

// DefaultNamespaces returns the canonical namespaces every MediaWiki install has
func DefaultNamespaces() *Namespaces {
	return NewNamespaces([]Namespace{
		{ID: -2, Name: "Media", Canonical: "Media"},
		{ID: -1, Name: "Special", Canonical: "Special"},
		{ID: 0},
		{ID: 1, Name: "Talk", Canonical: "Talk"},
		{ID: 2, Name: "User", Canonical: "User"},
		{ID: 3, Name: "User talk", Canonical: "User talk"},
		{ID: 4, Name: "Project", Canonical: "Project"},
		{ID: 5, Name: "Project talk", Canonical: "Project talk"},
		{ID: 6, Name: "File", Canonical: "File", Aliases: []string{"Image"}},
		{ID: 7, Name: "File talk", Canonical: "File talk", Aliases: []string{"Image talk"}},
		{ID: 8, Name: "MediaWiki", Canonical: "MediaWiki"},
		{ID: 9, Name: "MediaWiki talk", Canonical: "MediaWiki talk"},
		{ID: 10, Name: "Template", Canonical: "Template"},
		{ID: 11, Name: "Template talk", Canonical: "Template talk"},
		{ID: 12, Name: "Help", Canonical: "Help"},
		{ID: 13, Name: "Help talk", Canonical: "Help talk"},
		{ID: 14, Name: "Category", Canonical: "Category"},
		{ID: 15, Name: "Category talk", Canonical: "Category talk"},
	})
}

// Lookup returns the namespace id for a prefix, if it names one
func (n *Namespaces) Lookup(prefix string) (int, bool) {
	id, ok := n.byName[nameKey(prefix)]
	return id, ok
}

// Prefix returns the local prefix for a namespace id, empty for the main namespace
func (n *Namespaces) Prefix(id int) string {
	return n.byID[id].Name
}

// Title is a normalized page title
type Title struct {
	Namespace int
	Text      string // Title without namespace prefix
	Fragment  string // Section anchor, if any
}

// Full returns the title including its namespace prefix
func (t Title) Full(ns *Namespaces) string {
	prefix := ns.Prefix(t.Namespace)
	if prefix == "" {
		return t.Text
	}
	return prefix + ":" + t.Text
}

// ParseTitle normalizes text into a Title. Text without a known namespace
// prefix lands in defaultNS; a leading colon forces the main namespace.
func (n *Namespaces) ParseTitle(text string, defaultNS int) (Title, error) {
	t := normalizeSpaces(text)

	if strings.HasPrefix(t, ":") {
		t = strings.TrimSpace(t[1:])
		defaultNS = NamespaceMain
	}

	var fragment string
	if idx := strings.Index(t, "#"); idx >= 0 {
		fragment = strings.TrimSpace(t[idx+1:])
		t = strings.TrimSpace(t[:idx])
	}

	title := Title{Namespace: defaultNS, Fragment: fragment}
	if idx := strings.Index(t, ":"); idx > 0 {
		if id, ok := n.Lookup(t[:idx]); ok {
			title.Namespace = id
			t = strings.TrimSpace(t[idx+1:])
		}
	}

	if err := validateTitle(t); err != nil {
		return Title{}, fmt.Errorf("%w: %q: %v", ErrInvalidTitle, text, err)
	}

	if ns, ok := n.byID[title.Namespace]; !ok || !ns.CaseSensitive {
		t = upperFirst(t)
	}
	title.Text = t
	return title, nil
}

// templateModifiers are prefixes that change how a template is expanded
// without changing which template is used
var templateModifiers = []string{"subst:", "safesubst:", "msgnw:"}

// ParseTemplateName normalizes the name part of a template invocation
func (n *Namespaces) ParseTemplateName(name string) (Title, error) {
	name = strings.TrimSpace(name)
	for _, m := range templateModifiers {
		if len(name) >= len(m) && strings.EqualFold(name[:len(m)], m) {
			name = name[len(m):]
			break
		}
	}
	return n.ParseTitle(name, NamespaceTemplate)
}

func validateTitle(t string) error {
	if t == "" {
		return errors.New("empty")
	}
	if len(t) > maxTitleBytes {
		return fmt.Errorf("longer than %d bytes", maxTitleBytes)
	}
	if i := strings.IndexAny(t, "<>[]{}|"); i >= 0 {
		return fmt.Errorf("illegal character %q", t[i])
	}
	for _, r := range t {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return errors.New("control character")
		}
	}
	if strings.Contains(t, "~~~") {
		return errors.New("signature markup")
	}
	return nil
}

// normalizeSpaces turns underscores into spaces, collapses runs of
// whitespace and trims the result
func normalizeSpaces(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

func nameKey(name string) string {
	return strings.ToLower(normalizeSpaces(name))
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
