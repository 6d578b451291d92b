package harvest

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/harvester/internal/model"
)

const taxobox = `{{Taxobox
| naam    = Baars
| orde    = [[Actinopterygii]]
| familie = xyz-not-a-page
}}
De '''baars''' is een vis.`

type fixture struct {
	env    *Env
	wiki   *fakeWiki
	media  *fakeWiki
	repo   *fakeRepo
	writer *fakeWriter
	rec    *recorder
	stop   *StopToken
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wiki := newFakeWiki("nlwiki")
	wiki.addPage("Actinopterygii", 0)
	repo := newFakeRepo()
	repo.items["Baars"] = "Q5"
	repo.items["Snoek"] = "Q6"
	repo.items["Actinopterygii"] = "Q127282"
	repo.entities["Q5"] = model.NewEntity("Q5")
	repo.entities["Q6"] = model.NewEntity("Q6")

	media := newFakeWiki("commonswiki")
	writer := &fakeWriter{}
	stop, ctx := NewStopToken(context.Background())
	t.Cleanup(stop.Release)

	return &fixture{
		env:    &Env{Wiki: wiki, Media: media, Repo: repo, Writer: writer},
		wiki:   wiki,
		media:  media,
		repo:   repo,
		writer: writer,
		rec:    &recorder{},
		stop:   stop,
		ctx:    ctx,
	}
}

func (f *fixture) processor(fields ...string) *Processor {
	mapping, err := model.ParseFieldMapping(fields)
	if err != nil {
		panic(err)
	}
	kinds := make(map[string]model.ValueKind)
	for _, p := range mapping.Properties() {
		kinds[p] = model.KindItem
	}
	return NewProcessor(f.env, Config{
		Fields:   mapping,
		Kinds:    kinds,
		Synonyms: model.NewSynonymSet("Taxobox", "Taxobox vis"),
		Stop:     f.stop,
		Recorder: f.rec,
	})
}

func page(title, text string) Page {
	return Page{Ref: model.PageRef{Site: "nlwiki", Title: title}, Text: text}
}

func pagesOf(pages ...Page) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for _, p := range pages {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func TestTreatPage_Scenario(t *testing.T) {
	f := newFixture(t)
	p := f.processor("orde", "P70", "familie", "P71")

	require.NoError(t, p.TreatPage(f.ctx, page("Baars", taxobox)))

	require.Len(t, f.writer.claims, 1)
	claim := f.writer.claims[0]
	assert.Equal(t, "P70", claim.Property)
	assert.Equal(t, model.ItemValue("Q127282"), claim.Value)
	assert.Equal(t, model.PageRef{Site: "nlwiki", Title: "Baars"}, claim.Source)
	assert.Equal(t, "orde", claim.Field)
	assert.Equal(t, []string{"Q5"}, f.writer.targets)
	assert.Equal(t, []SkipReason{SkipTargetMissing}, f.rec.reasons())

	// The write landed in the store; a second run sees it in the snapshot
	f.repo.entities["Q5"].MarkClaimed("P70")
	f.writer.claims = nil
	f.rec.outcomes = nil

	require.NoError(t, p.TreatPage(f.ctx, page("Baars", taxobox)))
	assert.Empty(t, f.writer.claims)
	assert.ElementsMatch(t, []SkipReason{SkipAlreadyExists, SkipTargetMissing}, f.rec.reasons())

	summary := p.Summary()
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 1, summary.Skipped[SkipAlreadyExists])
	assert.Equal(t, 2, summary.Skipped[SkipTargetMissing])
}

func TestTreatPage_AllClaimsPresent(t *testing.T) {
	f := newFixture(t)
	f.repo.entities["Q5"] = model.NewEntity("Q5", "P70", "P71", "P31")
	p := f.processor("orde", "P70", "familie", "P71")

	require.NoError(t, p.TreatPage(f.ctx, page("Baars", taxobox)))

	assert.Empty(t, f.writer.claims)
	assert.Empty(t, f.wiki.lookups, "no value is parsed")
	assert.Equal(t, []SkipReason{SkipAllClaimsPresent}, f.rec.reasons())
	assert.Equal(t, "Q5", f.rec.outcomes[0].Item)
	assert.Empty(t, f.rec.outcomes[0].Field)
}

func TestTreatPage_DuplicateGuardIgnoresValue(t *testing.T) {
	for _, raw := range []string{"[[Actinopterygii]]", "xyz-not-a-page", "[[Baars]]", "{{{1}}}"} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t)
			f.repo.entities["Q5"] = model.NewEntity("Q5", "P70")
			p := f.processor("orde", "P70", "familie", "P71")

			require.NoError(t, p.TreatPage(f.ctx, page("Baars", "{{Taxobox|orde="+raw+"}}")))
			assert.Empty(t, f.writer.claims)
			assert.Empty(t, f.wiki.lookups)
			assert.Equal(t, []SkipReason{SkipAlreadyExists}, f.rec.reasons())
		})
	}
}

func TestTreatPage_SameFieldTwiceWritesOnce(t *testing.T) {
	f := newFixture(t)
	p := f.processor("orde", "P70")

	text := "{{Taxobox|orde=[[Actinopterygii]]}}\n{{Taxobox vis|orde=[[Actinopterygii]]}}"
	require.NoError(t, p.TreatPage(f.ctx, page("Baars", text)))

	assert.Len(t, f.writer.claims, 1)
	assert.Equal(t, []SkipReason{SkipAlreadyExists}, f.rec.reasons())
}

func TestTreatPage_MatchesSynonymsOnly(t *testing.T) {
	f := newFixture(t)
	p := f.processor("orde", "P70")

	text := "{{Infobox|orde=[[Actinopterygii]]}} {{Sjabloon:Taxobox_vis|orde=[[Actinopterygii]]}}"
	require.NoError(t, p.TreatPage(f.ctx, page("Baars", text)))
	assert.Len(t, f.writer.claims, 0, "Sjabloon is not a namespace on the default table")

	text = "{{Template:taxobox_vis|orde=[[Actinopterygii]]}}"
	require.NoError(t, p.TreatPage(f.ctx, page("Snoek", text)))
	assert.Len(t, f.writer.claims, 1)
}

func TestTreatPage_NoItem(t *testing.T) {
	f := newFixture(t)
	p := f.processor("orde", "P70")

	require.NoError(t, p.TreatPage(f.ctx, page("Zonder item", taxobox)))
	assert.Empty(t, f.writer.claims)
	assert.Equal(t, []SkipReason{SkipNoItem}, f.rec.reasons())
	assert.Zero(t, f.repo.entityReads)
}

func TestTreatPage_EntityReadFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.entitiesFail = errTransport
	p := f.processor("orde", "P70")

	require.NoError(t, p.TreatPage(f.ctx, page("Baars", taxobox)))
	assert.Equal(t, []SkipReason{SkipLookupFailed}, f.rec.reasons())
}

func TestTreatPage_WriteFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.wiki.addPage("Percidae", 0)
	f.repo.items["Percidae"] = "Q200"
	f.writer.err = errors.New("api error failed-save: edit conflict")
	p := f.processor("orde", "P70", "familie", "P71")

	text := "{{Taxobox|orde=[[Actinopterygii]]|familie=[[Percidae]]}}"
	require.NoError(t, p.TreatPage(f.ctx, page("Baars", text)))

	require.Len(t, f.rec.outcomes, 2)
	for _, o := range f.rec.outcomes {
		assert.Equal(t, StatusFailed, o.Status)
	}
	assert.Equal(t, 2, p.Summary().Failed)
}

func TestTreatPage_Declined(t *testing.T) {
	f := newFixture(t)
	f.writer.err = ErrDeclined
	p := f.processor("orde", "P70")

	require.NoError(t, p.TreatPage(f.ctx, page("Baars", taxobox)))
	require.Len(t, f.rec.outcomes, 1)
	assert.Equal(t, StatusDeclined, f.rec.outcomes[0].Status)
	assert.Equal(t, "Q127282", f.rec.outcomes[0].Value)

	// A declined claim leaves the snapshot untouched; the next page is unaffected
	f.writer.err = nil
	require.NoError(t, p.TreatPage(f.ctx, page("Snoek", taxobox)))
	assert.Len(t, f.writer.claims, 1)
}

func TestRun_StopRequestedFinishesCurrentPage(t *testing.T) {
	f := newFixture(t)
	p := f.processor("orde", "P70")

	// The stop arrives while the first page is being written
	f.writer.onWrite = func() { f.stop.Request() }

	err := p.Run(f.ctx, pagesOf(page("Baars", taxobox), page("Snoek", taxobox)))
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, []string{"Q5"}, f.writer.targets)
	assert.NoError(t, f.ctx.Err(), "a single request does not cancel")
}

func TestRun_StopForcedCancels(t *testing.T) {
	f := newFixture(t)
	f.wiki.addPage("Percidae", 0)
	f.repo.items["Percidae"] = "Q200"
	p := f.processor("orde", "P70", "familie", "P71")

	f.writer.onWrite = func() {
		f.stop.Request()
		f.stop.Request()
	}

	text := "{{Taxobox|orde=[[Actinopterygii]]|familie=[[Percidae]]}}"
	err := p.Run(f.ctx, pagesOf(page("Baars", text), page("Snoek", text)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Forced, f.stop.State())
	assert.Len(t, f.writer.claims, 0, "the forced write is abandoned")
}

func TestRun_SourceError(t *testing.T) {
	f := newFixture(t)
	p := f.processor("orde", "P70")

	pages := func(yield func(Page, error) bool) {
		if !yield(page("Baars", taxobox), nil) {
			return
		}
		yield(Page{}, errTransport)
	}
	err := p.Run(f.ctx, pages)
	assert.ErrorIs(t, err, errTransport)
	assert.Len(t, f.writer.claims, 1)
}

func TestStopToken(t *testing.T) {
	stop, ctx := NewStopToken(context.Background())
	defer stop.Release()

	assert.Equal(t, Running, stop.State())
	assert.Equal(t, Requested, stop.Request())
	assert.NoError(t, ctx.Err())
	assert.Equal(t, Forced, stop.Request())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, Forced, stop.Request())

	var none *StopToken
	assert.Equal(t, Running, none.State())
}

func TestMatchTemplates(t *testing.T) {
	invocations := []model.TemplateInvocation{
		{Name: "Taxobox"},
		{Name: "taxobox_vis"},
		{Name: "subst:Taxobox"},
		{Name: "Template:Taxobox"},
		{Name: ":Taxobox"},
		{Name: "Infobox"},
		{Name: "Tax<obox"},
	}
	matched := MatchTemplates(invocations, model.NewSynonymSet("Taxobox", "Taxobox vis"), newFakeWiki("nlwiki").Namespaces(), nil)

	var names []string
	for _, inv := range matched {
		names = append(names, inv.Name)
	}
	assert.Equal(t, []string{"Taxobox", "taxobox_vis", "subst:Taxobox", "Template:Taxobox"}, names)
}

func TestFields(t *testing.T) {
	inv := model.TemplateInvocation{Params: map[string]string{
		" orde ": " [[Actinopterygii]]\n",
		"naam":   "Baars",
		"leeg":   "   ",
		"  ":     "waarde",
		"1":      "positioneel",
	}}

	var names, values []string
	for name, value := range Fields(inv) {
		names = append(names, name)
		values = append(values, value)
	}
	assert.Equal(t, []string{"orde", "1", "naam"}, names)
	assert.Equal(t, []string{"[[Actinopterygii]]", "positioneel", "Baars"}, values)
}
