package harvest

import (
	"iter"
	"log/slog"
	"sort"
	"strings"

	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/wikitext"
)

// MatchTemplates keeps the invocations of any template in synonyms, in
// document order. Names that do not form a valid template title are logged
// and skipped.
func MatchTemplates(invocations []model.TemplateInvocation, synonyms model.SynonymSet, ns *wikitext.Namespaces, logger *slog.Logger) []model.TemplateInvocation {
	if logger == nil {
		logger = slog.Default()
	}

	var matched []model.TemplateInvocation
	for _, inv := range invocations {
		title, err := ns.ParseTemplateName(inv.Name)
		if err != nil {
			logger.Warn("Failed parsing template name",
				slog.String("template", inv.Name),
				slog.String("error", err.Error()))
			continue
		}
		if title.Namespace != wikitext.NamespaceTemplate {
			continue
		}
		if synonyms.Contains(title.Text) {
			matched = append(matched, inv)
		}
	}
	return matched
}

// Fields yields the non-empty (name, value) pairs of an invocation,
// trimmed and ordered by name
func Fields(inv model.TemplateInvocation) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		names := make([]string, 0, len(inv.Params))
		for name := range inv.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, raw := range names {
			name := strings.TrimSpace(raw)
			value := strings.TrimSpace(inv.Params[raw])
			if name == "" || value == "" {
				continue
			}
			if !yield(name, value) {
				return
			}
		}
	}
}
