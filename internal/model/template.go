package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrOddFieldArgs is returned when field/property arguments do not come in pairs
var ErrOddFieldArgs = errors.New("field arguments must come in field/property pairs")

// TemplateInvocation is one use of a template on a page
type TemplateInvocation struct {
	Name   string
	Params map[string]string
}

// FieldMapping maps template parameter names to property ids
type FieldMapping map[string]string

// ParseFieldMapping builds a mapping from a flat list of field, property pairs
func ParseFieldMapping(args []string) (FieldMapping, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d arguments", ErrOddFieldArgs, len(args))
	}

	fields := make(FieldMapping, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		fields[strings.TrimSpace(args[i])] = strings.ToUpper(strings.TrimSpace(args[i+1]))
	}
	return fields, nil
}

// Property returns the property mapped to field
func (m FieldMapping) Property(field string) (string, bool) {
	p, ok := m[field]
	return p, ok
}

// Properties returns the distinct target properties, sorted
func (m FieldMapping) Properties() []string {
	seen := make(map[string]bool, len(m))
	var props []string
	for _, p := range m {
		if !seen[p] {
			seen[p] = true
			props = append(props, p)
		}
	}
	sort.Strings(props)
	return props
}

// SynonymSet holds a template title and every title redirecting to it, without namespace prefix
type SynonymSet map[string]struct{}

// NewSynonymSet builds a set from titles
func NewSynonymSet(titles ...string) SynonymSet {
	s := make(SynonymSet, len(titles))
	for _, t := range titles {
		s[t] = struct{}{}
	}
	return s
}

// Contains reports whether title is one of the synonyms
func (s SynonymSet) Contains(title string) bool {
	_, ok := s[title]
	return ok
}

// Titles returns the synonyms, sorted
func (s SynonymSet) Titles() []string {
	titles := make([]string, 0, len(s))
	for t := range s {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles
}
