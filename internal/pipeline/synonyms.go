package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/wikitext"
)

var (
	// ErrNoTemplate is returned when no template was given
	ErrNoTemplate = errors.New("specify either --template or --transcludes")

	// ErrTemplateMissing is returned when the template page does not exist
	ErrTemplateMissing = errors.New("template does not exist")

	// ErrNoFields is returned when no field, property pairs were given
	ErrNoFields = errors.New("no field, property pairs given")
)

// DiscoverSynonyms resolves name to its template page, following one
// redirect, and returns the page's full title with the set of its bare
// title and the titles of all redirects to it
func DiscoverSynonyms(ctx context.Context, site *mediawiki.Site, name string) (string, model.SynonymSet, error) {
	ns := site.Namespaces()
	title, err := ns.ParseTemplateName(name)
	if err != nil {
		return "", nil, fmt.Errorf("template %q: %w", name, err)
	}
	full := title.Full(ns)

	info, err := site.PageInfo(ctx, full)
	if err != nil {
		return "", nil, fmt.Errorf("template %s: %w", full, err)
	}
	if info.Missing {
		return "", nil, fmt.Errorf("%s: %w", full, ErrTemplateMissing)
	}
	if info.Redirect {
		info, err = site.RedirectTarget(ctx, info.Title)
		if err != nil {
			return "", nil, fmt.Errorf("template %s: %w", full, err)
		}
		if info.Missing {
			return "", nil, fmt.Errorf("%s redirects to %s: %w", full, info.Title, ErrTemplateMissing)
		}
	}

	redirects, err := site.RedirectsTo(ctx, info.Title, wikitext.NamespaceTemplate)
	if err != nil {
		return "", nil, err
	}

	synonyms := make(model.SynonymSet, len(redirects)+1)
	for _, t := range append(redirects, info.Title) {
		parsed, err := ns.ParseTitle(t, wikitext.NamespaceTemplate)
		if err != nil {
			continue
		}
		synonyms[parsed.Text] = struct{}{}
	}
	return info.Title, synonyms, nil
}
