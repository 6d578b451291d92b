package harvest

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/wikitext"
)

// Page is a wiki page with its current wikitext
type Page struct {
	Ref  model.PageRef
	Text string
}

// Status is the result of one harvest decision
type Status string

const (
	StatusWritten  Status = "written"
	StatusSkipped  Status = "skipped"
	StatusDeclined Status = "declined"
	StatusFailed   Status = "failed"
)

// Outcome records one decision. Page-level outcomes have no Field.
type Outcome struct {
	Page     model.PageRef
	Item     string
	Field    string
	Property string
	Value    string
	Status   Status
	Reason   SkipReason
	Detail   string
}

// Recorder receives every outcome of a run
type Recorder interface {
	Record(o Outcome)
}

// Summary counts the outcomes of a run
type Summary struct {
	Pages    int
	Written  int
	Declined int
	Failed   int
	Skipped  map[SkipReason]int
}

// Config describes what a Processor harvests
type Config struct {
	Fields   model.FieldMapping
	Kinds    map[string]model.ValueKind // Declared kind of each mapped property
	Synonyms model.SynonymSet
	Stop     *StopToken
	Recorder Recorder
}

// Processor harvests claims from pages one at a time
type Processor struct {
	env        *Env
	parser     *Parser
	cfg        Config
	properties []string
	summary    Summary
}

// NewProcessor creates a processor for cfg
func NewProcessor(env *Env, cfg Config) *Processor {
	return &Processor{
		env:        env,
		parser:     NewParser(env),
		cfg:        cfg,
		properties: cfg.Fields.Properties(),
		summary:    Summary{Skipped: make(map[SkipReason]int)},
	}
}

// Summary returns the counts so far
func (p *Processor) Summary() Summary {
	s := p.summary
	s.Skipped = make(map[SkipReason]int, len(p.summary.Skipped))
	for k, v := range p.summary.Skipped {
		s.Skipped[k] = v
	}
	return s
}

// Run treats every page in order. It stops early with ErrStopped after a
// stop request, with the context's error once canceled, or with the
// first error of the page source.
func (p *Processor) Run(ctx context.Context, pages iter.Seq2[Page, error]) error {
	for page, err := range pages {
		if err != nil {
			return err
		}
		if err := p.TreatPage(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

// TreatPage harvests one page into the item linked to it. Only a stop
// request or cancellation is returned as an error; every other problem is
// recorded as an outcome.
func (p *Processor) TreatPage(ctx context.Context, page Page) error {
	if p.cfg.Stop.State() >= Requested {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.summary.Pages++

	logger := p.env.logger().With(slog.String("page", page.Ref.Title))

	itemID, err := p.env.Repo.ItemForPage(ctx, page.Ref.Site, page.Ref.Title)
	if err != nil {
		reason := SkipLookupFailed
		if errors.Is(err, mediawiki.ErrMissing) {
			reason = SkipNoItem
		}
		p.skipPage(logger, Outcome{Page: page.Ref}, reason, err.Error())
		return ctx.Err()
	}

	entity, err := p.env.Repo.Entity(ctx, itemID)
	if err != nil {
		p.skipPage(logger, Outcome{Page: page.Ref, Item: itemID}, SkipLookupFailed, err.Error())
		return ctx.Err()
	}

	return p.TreatEntity(ctx, page, entity)
}

// TreatEntity harvests page into entity, whose claims are the snapshot the
// duplicate guard checks against. The snapshot gains every property
// written.
func (p *Processor) TreatEntity(ctx context.Context, page Page, entity *model.Entity) error {
	logger := p.env.logger().With(
		slog.String("page", page.Ref.Title),
		slog.String("item", entity.ID))

	if entity.HasAll(p.properties) {
		p.skipPage(logger, Outcome{Page: page.Ref, Item: entity.ID}, SkipAllClaimsPresent, "")
		return nil
	}

	templates := MatchTemplates(wikitext.ExtractTemplates(page.Text), p.cfg.Synonyms, p.env.Wiki.Namespaces(), logger)
	for _, inv := range templates {
		for field, value := range Fields(inv) {
			property, ok := p.cfg.Fields.Property(field)
			if !ok {
				continue
			}
			if err := p.treatField(ctx, logger, page, entity, field, property, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) treatField(ctx context.Context, logger *slog.Logger, page Page, entity *model.Entity, field, property, raw string) error {
	out := Outcome{Page: page.Ref, Item: entity.ID, Field: field, Property: property}
	logger = logger.With(slog.String("field", field), slog.String("property", property))

	if entity.HasClaim(property) {
		p.skipField(logger, out, &Skip{Reason: SkipAlreadyExists})
		return nil
	}

	value, skip := p.parser.Parse(ctx, p.cfg.Kinds[property], raw, entity)
	if err := ctx.Err(); err != nil {
		return err
	}
	if skip != nil {
		out.Value = raw
		p.skipField(logger, out, skip)
		return nil
	}

	out.Value = value.String()
	claim := model.Claim{Property: property, Value: value, Source: page.Ref, Field: field}
	err := p.env.Writer.WriteClaim(ctx, entity, claim)
	switch {
	case err == nil:
		entity.MarkClaimed(property)
		out.Status = StatusWritten
		p.summary.Written++
		logger.Info("Claim added", slog.String("value", out.Value))
	case errors.Is(err, ErrDeclined):
		out.Status = StatusDeclined
		p.summary.Declined++
		logger.Info("Claim declined", slog.String("value", out.Value))
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		out.Status = StatusFailed
		out.Detail = err.Error()
		p.summary.Failed++
		logger.Error("Failed to write claim",
			slog.String("value", out.Value),
			slog.String("error", err.Error()))
	}
	p.record(out)
	return nil
}

func (p *Processor) skipPage(logger *slog.Logger, out Outcome, reason SkipReason, detail string) {
	out.Status = StatusSkipped
	out.Reason = reason
	out.Detail = detail
	p.summary.Skipped[reason]++

	logger.Info("Skipping page", slog.String("reason", string(reason)), slog.String("detail", detail))
	p.record(out)
}

func (p *Processor) skipField(logger *slog.Logger, out Outcome, skip *Skip) {
	out.Status = StatusSkipped
	out.Reason = skip.Reason
	out.Detail = skip.Detail
	p.summary.Skipped[skip.Reason]++

	logger.Info("Skipping field", slog.String("reason", string(skip.Reason)), slog.String("detail", skip.Detail))
	p.record(out)
}

func (p *Processor) record(out Outcome) {
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.Record(out)
	}
}
