package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/wikitext"
)

// SkipReason names why a field or page produced no claim
type SkipReason string

const (
	SkipInvalidTitle        SkipReason = "invalid-title"
	SkipTargetMissing       SkipReason = "target-missing"
	SkipNoLinkedItem        SkipReason = "no-linked-item"
	SkipSelfLink            SkipReason = "self-link"
	SkipNoURL               SkipReason = "no-url"
	SkipFileMissing         SkipReason = "file-missing"
	SkipUnsupportedDatatype SkipReason = "unsupported-datatype"
	SkipAlreadyExists       SkipReason = "already-exists"
	SkipAllClaimsPresent    SkipReason = "all-claims-present"
	SkipLookupFailed        SkipReason = "lookup-failed"
	SkipNoItem              SkipReason = "no-item"
)

// Skip is the outcome of a field or page that produced no claim
type Skip struct {
	Reason SkipReason
	Detail string
}

func (s *Skip) Error() string {
	if s.Detail == "" {
		return string(s.Reason)
	}
	return fmt.Sprintf("%s: %s", s.Reason, s.Detail)
}

func skipf(reason SkipReason, format string, args ...any) *Skip {
	return &Skip{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Parser turns raw template values into typed claim values
type Parser struct {
	env *Env
}

// NewParser creates a parser resolving values against env
func NewParser(env *Env) *Parser {
	return &Parser{env: env}
}

// Parse converts raw into a value of the given kind for entity. Exactly one
// of the results is meaningful: a value, or the reason none was produced.
func (p *Parser) Parse(ctx context.Context, kind model.ValueKind, raw string, entity *model.Entity) (model.Value, *Skip) {
	switch kind {
	case model.KindItem:
		return p.parseItem(ctx, raw, entity)
	case model.KindString, model.KindExternalID:
		return model.TextValue(kind, raw), nil
	case model.KindURL:
		return p.parseURL(raw)
	case model.KindCommonsMedia:
		return p.parseMedia(ctx, raw)
	case model.KindUnsupported:
		return model.Value{}, skipf(SkipUnsupportedDatatype, "%s", kind)
	}
	return model.Value{}, skipf(SkipUnsupportedDatatype, "kind %d", int(kind))
}

func (p *Parser) parseItem(ctx context.Context, raw string, entity *model.Entity) (model.Value, *Skip) {
	wiki := p.env.Wiki
	target := wikitext.LinkTarget(raw)

	title, err := wiki.Namespaces().ParseTitle(target, wikitext.NamespaceMain)
	if err != nil {
		return model.Value{}, skipf(SkipInvalidTitle, "%q", target)
	}
	full := title.Full(wiki.Namespaces())

	page, skip := resolvePage(ctx, wiki, full, SkipTargetMissing)
	if skip != nil {
		return model.Value{}, skip
	}

	item, err := p.env.Repo.ItemForPage(ctx, wiki.DBName(), page.Title)
	if errors.Is(err, mediawiki.ErrMissing) {
		return model.Value{}, skipf(SkipNoLinkedItem, "%s", page.Title)
	}
	if err != nil {
		return model.Value{}, skipf(SkipLookupFailed, "%v", err)
	}

	if item == entity.ID {
		return model.Value{}, skipf(SkipSelfLink, "%s links to %s", page.Title, item)
	}
	return model.ItemValue(item), nil
}

func (p *Parser) parseURL(raw string) (model.Value, *Skip) {
	u, ok := wikitext.FirstExternalURL(raw)
	if !ok {
		return model.Value{}, skipf(SkipNoURL, "%q", raw)
	}
	return model.TextValue(model.KindURL, u), nil
}

func (p *Parser) parseMedia(ctx context.Context, raw string) (model.Value, *Skip) {
	media := p.env.Media
	title, err := media.Namespaces().ParseTitle(raw, wikitext.NamespaceFile)
	if err != nil || title.Namespace != wikitext.NamespaceFile {
		return model.Value{}, skipf(SkipInvalidTitle, "%q is not a file name", raw)
	}

	page, skip := resolvePage(ctx, media, title.Full(media.Namespaces()), SkipFileMissing)
	if skip != nil {
		return model.Value{}, skip
	}
	if page.Namespace != wikitext.NamespaceFile {
		return model.Value{}, skipf(SkipFileMissing, "%s is not a file", page.Title)
	}

	name, err := media.Namespaces().ParseTitle(page.Title, wikitext.NamespaceFile)
	if err != nil {
		return model.Value{}, skipf(SkipInvalidTitle, "%q", page.Title)
	}
	return model.TextValue(model.KindCommonsMedia, name.Text), nil
}

// resolvePage looks up title on wiki, following a redirect once. A page
// missing before or after the redirect is skipped with missing.
func resolvePage(ctx context.Context, wiki Wiki, title string, missing SkipReason) (mediawiki.PageInfo, *Skip) {
	page, err := wiki.PageInfo(ctx, title)
	if errors.Is(err, wikitext.ErrInvalidTitle) {
		return page, skipf(SkipInvalidTitle, "%q", title)
	}
	if err != nil {
		return page, skipf(SkipLookupFailed, "%v", err)
	}
	if page.Missing {
		return page, skipf(missing, "%s", title)
	}

	if page.Redirect {
		page, err = wiki.RedirectTarget(ctx, page.Title)
		if err != nil {
			return page, skipf(SkipLookupFailed, "%v", err)
		}
		if page.Missing {
			return page, skipf(missing, "%s is a redirect to missing %s", title, page.Title)
		}
	}
	return page, nil
}
