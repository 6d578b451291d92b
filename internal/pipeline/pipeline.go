package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/harvester/internal/cache"
	"github.com/ppiankov/harvester/internal/harvest"
	"github.com/ppiankov/harvester/internal/journal"
	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/metrics"
	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/worker"
)

// Options describes one harvest run
type Options struct {
	Template  string   // Template to harvest, with or without namespace prefix
	Pages     []string // Explicit pages; empty means every page transcluding Template
	Namespace int      // Namespace of transcluding pages
	Limit     int      // Maximum number of pages, zero for no limit
	Fields    []string // Flat list of field, property pairs
	DryRun    bool
}

// Result summarizes a finished run
type Result struct {
	RunID    string
	Template string
	Synonyms []string
	Summary  harvest.Summary
}

// Pipeline wires the wiki, media repository and knowledge base together
// for harvest runs
type Pipeline struct {
	site    *mediawiki.Site
	media   *mediawiki.Site
	repo    *mediawiki.Repo
	cfg     *model.Config
	journal *journal.Journal
	metrics *metrics.Metrics
	confirm Confirmer
	logger  *slog.Logger
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Site    *mediawiki.Site
	Media   *mediawiki.Site
	Repo    *mediawiki.Repo
	Journal *journal.Journal // Optional
	Metrics *metrics.Metrics // Optional
	Confirm Confirmer        // Optional; nil writes without asking
	Logger  *slog.Logger
}

// New creates a pipeline from explicit collaborators
func New(cfg *model.Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{
		site:    deps.Site,
		media:   deps.Media,
		repo:    deps.Repo,
		cfg:     cfg,
		journal: deps.Journal,
		metrics: deps.Metrics,
		confirm: deps.Confirm,
		logger:  deps.Logger,
	}
}

// Clients builds the wiki, media repository and knowledge base from cfg.
// All three share one throttle and one lookup cache.
func Clients(cfg *model.Config, logger *slog.Logger) (site, media *mediawiki.Site, repo *mediawiki.Repo) {
	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize, cfg.RateLimiting.EditDelay)
	for _, r := range cfg.RateLimiting.Domains {
		limiter.SetDomainRate(r.Host, r.RequestsPerSecond, r.BurstSize)
	}
	lookups := cache.New(cfg.Cache)

	client := func(endpoint string) *mediawiki.Client {
		return mediawiki.NewClient(endpoint, mediawiki.Options{
			Timeout:    cfg.HTTP.Timeout,
			UserAgent:  cfg.HTTP.UserAgent,
			MaxBytes:   cfg.HTTP.MaxBodyBytes,
			MaxRetries: cfg.HTTP.MaxRetries,
			HTTPProxy:  cfg.HTTP.HTTPProxy,
			HTTPSProxy: cfg.HTTP.HTTPSProxy,
			NoProxy:    cfg.HTTP.NoProxy,
			Limiter:    limiter,
			Cache:      lookups,
			CacheTTL:   cfg.Cache.DiskTTL,
			Logger:     logger,
		})
	}

	site = mediawiki.NewSite(client(cfg.Wiki.API), cfg.Wiki.DBName)
	media = mediawiki.NewSite(client(cfg.Media.API), "commonswiki")
	repo = mediawiki.NewRepo(client(cfg.Repo.API), logger)
	return site, media, repo
}

// Run harvests opts.Template into the knowledge base. Configuration
// problems are returned before any page is read. A graceful stop ends the
// run with harvest.ErrStopped; the partial result is still returned.
func (p *Pipeline) Run(ctx context.Context, stop *harvest.StopToken, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.Template) == "" {
		return nil, ErrNoTemplate
	}
	fields, err := model.ParseFieldMapping(opts.Fields)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNoFields
	}

	if err := p.site.LoadSiteInfo(ctx); err != nil {
		return nil, fmt.Errorf("load %s: %w", p.cfg.Wiki.API, err)
	}
	if err := p.media.LoadSiteInfo(ctx); err != nil {
		return nil, fmt.Errorf("load %s: %w", p.cfg.Media.API, err)
	}

	template, synonyms, err := DiscoverSynonyms(ctx, p.site, opts.Template)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Found template", slog.String("template", template), slog.Any("synonyms", synonyms.Titles()))

	kinds, err := p.propertyKinds(ctx, fields)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun && p.cfg.Repo.Username != "" {
		if err := p.repo.Login(ctx, p.cfg.Repo.Username, p.cfg.Repo.Password); err != nil {
			return nil, err
		}
	}

	result := &Result{
		RunID:    uuid.NewString(),
		Template: template,
		Synonyms: synonyms.Titles(),
	}
	logger := p.logger.With(slog.String("run_id", result.RunID))

	if p.journal != nil {
		err := p.journal.StartRun(ctx, journal.Run{
			ID:        result.RunID,
			Template:  template,
			Site:      p.site.DBName(),
			Fields:    formatFields(fields),
			StartedAt: time.Now(),
		})
		if err != nil {
			return nil, err
		}
	}

	sourceItem := p.cfg.Sources[p.site.DBName()]
	if sourceItem == "" {
		logger.Warn("No item configured for source wiki, claims get no reference", slog.String("site", p.site.DBName()))
	}

	writer := NewWriter(p.repo, WriterOptions{
		SourceItem: sourceItem,
		Template:   template,
		DryRun:     opts.DryRun,
		Confirm:    p.confirm,
		Stop:       stop,
		Logger:     logger,
	})

	env := &harvest.Env{
		Wiki:   p.site,
		Media:  p.media,
		Repo:   p.repo,
		Writer: writer,
		Logger: logger,
	}
	processor := harvest.NewProcessor(env, harvest.Config{
		Fields:   fields,
		Kinds:    kinds,
		Synonyms: synonyms,
		Stop:     stop,
		Recorder: p.recorder(ctx, result.RunID, logger),
	})

	runErr := processor.Run(ctx, p.pages(ctx, template, opts, logger))
	result.Summary = processor.Summary()

	if p.journal != nil {
		// The run context may already be canceled
		if err := p.journal.FinishRun(context.WithoutCancel(ctx), result.RunID, time.Now(), runErr); err != nil {
			logger.Error("Failed to finish journal run", slog.String("error", err.Error()))
		}
	}
	return result, runErr
}

// propertyKinds resolves the declared datatype of every mapped property
func (p *Pipeline) propertyKinds(ctx context.Context, fields model.FieldMapping) (map[string]model.ValueKind, error) {
	kinds := make(map[string]model.ValueKind)
	for _, prop := range fields.Properties() {
		datatype, err := p.repo.PropertyDatatype(ctx, prop)
		if err != nil {
			return nil, err
		}
		kind := model.KindFromDatatype(datatype)
		if kind == model.KindUnsupported {
			p.logger.Warn("Property has an unsupported datatype, its fields will be skipped",
				slog.String("property", prop), slog.String("datatype", datatype))
		}
		kinds[prop] = kind
	}
	return kinds, nil
}

func (p *Pipeline) pages(ctx context.Context, template string, opts Options, logger *slog.Logger) iter.Seq2[harvest.Page, error] {
	gen := NewGenerator(p.site, opts.Limit, logger)
	if p.metrics != nil {
		gen.seen = p.metrics.PageSeen
	}
	if len(opts.Pages) > 0 {
		return gen.Titles(ctx, opts.Pages)
	}
	return gen.Transcluding(ctx, template, opts.Namespace)
}

func (p *Pipeline) recorder(ctx context.Context, runID string, logger *slog.Logger) harvest.Recorder {
	var recorders multiRecorder
	if p.journal != nil {
		recorders = append(recorders, &journalRecorder{ctx: ctx, journal: p.journal, runID: runID, logger: logger})
	}
	if p.metrics != nil {
		recorders = append(recorders, p.metrics)
	}
	return recorders
}

type multiRecorder []harvest.Recorder

func (m multiRecorder) Record(o harvest.Outcome) {
	for _, r := range m {
		r.Record(o)
	}
}

// journalRecorder appends outcomes to the journal. Journal failures are
// logged once and never end the run.
type journalRecorder struct {
	ctx     context.Context
	journal *journal.Journal
	runID   string
	logger  *slog.Logger
	failed  bool
}

func (r *journalRecorder) Record(o harvest.Outcome) {
	err := r.journal.Append(context.WithoutCancel(r.ctx), journal.Entry{
		RunID:    r.runID,
		At:       time.Now(),
		Page:     o.Page.Title,
		Item:     o.Item,
		Field:    o.Field,
		Property: o.Property,
		Value:    o.Value,
		Status:   string(o.Status),
		Reason:   string(o.Reason),
		Detail:   o.Detail,
	})
	if err != nil && !r.failed {
		r.failed = true
		r.logger.Error("Failed to write journal", slog.String("error", err.Error()))
	}
}

func formatFields(fields model.FieldMapping) string {
	pairs := make([]string, 0, len(fields))
	for field, prop := range fields {
		pairs = append(pairs, field+"="+prop)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}
