package pipeline

import (
	"context"
	"iter"
	"log/slog"

	"github.com/ppiankov/harvester/internal/harvest"
	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/model"
)

// preloadBatch is how many page texts are fetched per request
const preloadBatch = 50

// Generator produces the pages a run works on
type Generator struct {
	site   *mediawiki.Site
	limit  int
	logger *slog.Logger
	seen   func()
}

// NewGenerator creates a generator reading from site. A positive limit caps
// the number of titles taken from the source.
func NewGenerator(site *mediawiki.Site, limit int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{site: site, limit: limit, logger: logger}
}

// Transcluding yields the pages of namespace that transclude template
func (g *Generator) Transcluding(ctx context.Context, template string, namespace int) iter.Seq2[harvest.Page, error] {
	return g.preload(ctx, g.site.EmbeddedIn(ctx, template, namespace))
}

// Titles yields the given pages
func (g *Generator) Titles(ctx context.Context, titles []string) iter.Seq2[harvest.Page, error] {
	source := func(yield func(string, error) bool) {
		for _, t := range titles {
			if !yield(t, nil) {
				return
			}
		}
	}
	return g.preload(ctx, source)
}

// preload buffers titles from source and fetches their text in batches,
// yielding pages in source order under their canonical titles. Titles
// without text are dropped, as are spellings of a page already yielded.
func (g *Generator) preload(ctx context.Context, source iter.Seq2[string, error]) iter.Seq2[harvest.Page, error] {
	return func(yield func(harvest.Page, error) bool) {
		var (
			batch   []string
			seen    = make(map[string]struct{})
			yielded = make(map[string]struct{}) // canonical titles
		)

		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			texts, err := g.site.Contents(ctx, batch)
			if err != nil {
				yield(harvest.Page{}, err)
				return false
			}
			for _, title := range batch {
				text, ok := texts[title]
				if !ok {
					g.logger.Debug("Page has no text, skipping", slog.String("page", title))
					continue
				}
				if _, dup := yielded[text.Title]; dup {
					continue
				}
				yielded[text.Title] = struct{}{}
				if g.seen != nil {
					g.seen()
				}
				page := harvest.Page{
					Ref:  model.PageRef{Site: g.site.DBName(), Title: text.Title},
					Text: text.Text,
				}
				if !yield(page, nil) {
					return false
				}
			}
			batch = batch[:0]
			return true
		}

		for title, err := range source {
			if err != nil {
				yield(harvest.Page{}, err)
				return
			}
			if _, dup := seen[title]; dup {
				continue
			}
			seen[title] = struct{}{}
			batch = append(batch, title)

			if len(batch) == preloadBatch {
				if !flush() {
					return
				}
			}
			if g.limit > 0 && len(seen) >= g.limit {
				break
			}
		}
		flush()
	}
}
