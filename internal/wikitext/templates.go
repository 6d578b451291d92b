package wikitext

import (
	"strconv"
	"strings"

	"github.com/ppiankov/harvester/internal/model"
)

// ExtractTemplates returns every template invocation in text, outer
// invocations before the ones nested in their parameters. Parameter names
// and values are returned raw; positional parameters are numbered from "1".
// Parser functions ({{#if:...}}) and triple-brace parameters are skipped.
func ExtractTemplates(text string) []model.TemplateInvocation {
	var out []model.TemplateInvocation
	extract(stripComments(text), &out)
	return out
}

func extract(text string, out *[]model.TemplateInvocation) {
	for i := 0; i < len(text); {
		if !strings.HasPrefix(text[i:], "{{") {
			i++
			continue
		}

		span, ok := braceSpan(text, i)
		if !ok {
			i += 2
			continue
		}

		if span.param {
			// Template parameter reference; may still contain invocations
			extract(span.body, out)
		} else {
			if inv, ok := parseInvocation(span.body); ok {
				*out = append(*out, inv)
			}
			extract(span.body, out)
		}
		i = span.end
	}
}

type bracePair struct {
	body  string // Text between the outer braces
	end   int    // Index just past the closing braces
	param bool   // Triple-brace parameter reference rather than a template
}

// braceSpan matches the braces opening at start, treating "{{{" and "}}}"
// as parameter delimiters and "{{" and "}}" as template delimiters
func braceSpan(text string, start int) (bracePair, bool) {
	stack := []int{2}
	if strings.HasPrefix(text[start:], "{{{") {
		stack[0] = 3
	}
	bodyStart := start + stack[0]

	for i := bodyStart; i < len(text); {
		closed := 0
		switch {
		case strings.HasPrefix(text[i:], "{{{"):
			stack = append(stack, 3)
			i += 3
			continue
		case strings.HasPrefix(text[i:], "{{"):
			stack = append(stack, 2)
			i += 2
			continue
		case stack[len(stack)-1] == 3 && strings.HasPrefix(text[i:], "}}}"):
			closed = 3
		case strings.HasPrefix(text[i:], "}}"):
			closed = 2
		default:
			i++
			continue
		}

		open := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return bracePair{
				body:  text[bodyStart:i],
				end:   i + closed,
				param: open == 3 && closed == 3,
			}, true
		}
		i += closed
	}
	return bracePair{}, false
}

func parseInvocation(body string) (model.TemplateInvocation, bool) {
	parts := splitTopLevel(body, '|')
	name := strings.TrimSpace(parts[0])
	if name == "" || strings.HasPrefix(name, "#") {
		return model.TemplateInvocation{}, false
	}

	inv := model.TemplateInvocation{
		Name:   name,
		Params: make(map[string]string, len(parts)-1),
	}

	positional := 0
	for _, part := range parts[1:] {
		if eq := indexTopLevel(part, '='); eq >= 0 {
			inv.Params[strings.TrimSpace(part[:eq])] = part[eq+1:]
			continue
		}
		positional++
		inv.Params[strconv.Itoa(positional)] = part
	}
	return inv, true
}

// splitTopLevel splits s on sep outside nested templates and links
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	last := 0
	walkTopLevel(s, func(i int) bool {
		if s[i] == sep {
			parts = append(parts, s[last:i])
			last = i + 1
		}
		return true
	})
	return append(parts, s[last:])
}

// indexTopLevel returns the first index of c outside nested templates and links
func indexTopLevel(s string, c byte) int {
	found := -1
	walkTopLevel(s, func(i int) bool {
		if s[i] == c {
			found = i
			return false
		}
		return true
	})
	return found
}

// walkTopLevel calls fn for every byte index of s at nesting depth zero
func walkTopLevel(s string, fn func(i int) bool) {
	braces, brackets := 0, 0
	for i := 0; i < len(s); i++ {
		if i+1 < len(s) {
			pair := s[i : i+2]
			switch pair {
			case "{{":
				braces++
				i++
				continue
			case "}}":
				if braces > 0 {
					braces--
					i++
					continue
				}
			case "[[":
				brackets++
				i++
				continue
			case "]]":
				if brackets > 0 {
					brackets--
					i++
					continue
				}
			}
		}
		if braces == 0 && brackets == 0 && !fn(i) {
			return
		}
	}
}

// stripComments removes HTML comments and nowiki sections
func stripComments(text string) string {
	text = cutBetween(text, "<!--", "-->")
	return cutBetween(text, "<nowiki>", "</nowiki>")
}

func cutBetween(text, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(text, open)
		if start < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:start])
		rest := text[start+len(open):]
		end := strings.Index(rest, close)
		if end < 0 {
			return b.String()
		}
		text = rest[end+len(close):]
	}
}
