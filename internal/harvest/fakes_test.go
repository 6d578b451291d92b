package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/wikitext"
)

type fakeWiki struct {
	dbname    string
	pages     map[string]mediawiki.PageInfo
	redirects map[string]string
	lookups   []string
	fail      error
}

func newFakeWiki(dbname string) *fakeWiki {
	return &fakeWiki{
		dbname:    dbname,
		pages:     make(map[string]mediawiki.PageInfo),
		redirects: make(map[string]string),
	}
}

func (w *fakeWiki) addPage(title string, ns int) *fakeWiki {
	w.pages[title] = mediawiki.PageInfo{Title: title, Namespace: ns}
	return w
}

func (w *fakeWiki) addRedirect(from, to string, ns int) *fakeWiki {
	w.pages[from] = mediawiki.PageInfo{Title: from, Namespace: ns, Redirect: true}
	w.redirects[from] = to
	return w
}

func (w *fakeWiki) DBName() string { return w.dbname }

func (w *fakeWiki) Namespaces() *wikitext.Namespaces { return wikitext.DefaultNamespaces() }

func (w *fakeWiki) PageInfo(ctx context.Context, title string) (mediawiki.PageInfo, error) {
	w.lookups = append(w.lookups, title)
	if w.fail != nil {
		return mediawiki.PageInfo{}, w.fail
	}
	if info, ok := w.pages[title]; ok {
		return info, nil
	}
	return mediawiki.PageInfo{Title: title, Missing: true}, nil
}

func (w *fakeWiki) RedirectTarget(ctx context.Context, title string) (mediawiki.PageInfo, error) {
	target, ok := w.redirects[title]
	if !ok {
		return mediawiki.PageInfo{}, mediawiki.ErrNotRedirect
	}
	if info, ok := w.pages[target]; ok {
		return info, nil
	}
	return mediawiki.PageInfo{Title: target, Missing: true}, nil
}

type fakeRepo struct {
	items        map[string]string // page title -> item id
	entities     map[string]*model.Entity
	entityReads  int
	itemLookups  int
	entitiesFail error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:    make(map[string]string),
		entities: make(map[string]*model.Entity),
	}
}

func (r *fakeRepo) ItemForPage(ctx context.Context, site, title string) (string, error) {
	r.itemLookups++
	if id, ok := r.items[title]; ok {
		return id, nil
	}
	return "", fmt.Errorf("item for %s:%s: %w", site, title, mediawiki.ErrMissing)
}

func (r *fakeRepo) Entity(ctx context.Context, id string) (*model.Entity, error) {
	r.entityReads++
	if r.entitiesFail != nil {
		return nil, r.entitiesFail
	}
	e, ok := r.entities[id]
	if !ok {
		return nil, mediawiki.ErrMissing
	}
	// Hand out a copy so the processor's snapshot is independent of the store
	snapshot := model.NewEntity(e.ID)
	for p := range e.Claims {
		snapshot.MarkClaimed(p)
	}
	return snapshot, nil
}

type fakeWriter struct {
	claims  []model.Claim
	targets []string
	err     error
	onWrite func()
}

func (w *fakeWriter) WriteClaim(ctx context.Context, entity *model.Entity, claim model.Claim) error {
	if w.onWrite != nil {
		w.onWrite()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.err != nil {
		return w.err
	}
	w.claims = append(w.claims, claim)
	w.targets = append(w.targets, entity.ID)
	return nil
}

type recorder struct {
	outcomes []Outcome
}

func (r *recorder) Record(o Outcome) {
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) reasons() []SkipReason {
	var out []SkipReason
	for _, o := range r.outcomes {
		if o.Status == StatusSkipped {
			out = append(out, o.Reason)
		}
	}
	return out
}

var errTransport = errors.New("connection reset")
