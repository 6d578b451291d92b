package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode"
	"unicode/utf8"
)

// fakeWiki serves the parts of the Action API a harvest run reads
type fakeWiki struct {
	mu         sync.Mutex
	namespaces map[int]string
	pages      map[string]string // title -> wikitext
	redirects  map[string]string // title -> target
	embedded   []string
	requests   []string
}

func newFakeWiki() *fakeWiki {
	return &fakeWiki{
		namespaces: map[int]string{0: "", 6: "Bestand", 10: "Sjabloon", 14: "Categorie"},
		pages:      make(map[string]string),
		redirects:  make(map[string]string),
	}
}

func (w *fakeWiki) serve(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.mu.Lock()
		defer w.mu.Unlock()

		w.requests = append(w.requests, requestKey(r))
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(w.handle(r))
	}))
	t.Cleanup(server.Close)
	return server
}

func requestKey(r *http.Request) string {
	for _, k := range []string{"meta", "list", "prop"} {
		if v := r.Form.Get(k); v != "" {
			return r.Form.Get("action") + ":" + v
		}
	}
	return r.Form.Get("action")
}

// normalizeTitle mimics a first-letter wiki: underscores become spaces
// and the first letter is upper case
func normalizeTitle(title string) string {
	title = strings.ReplaceAll(title, "_", " ")
	if title == "" {
		return title
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

func (w *fakeWiki) count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, k := range w.requests {
		if k == key {
			n++
		}
	}
	return n
}

func (w *fakeWiki) page(title string) map[string]any {
	if _, ok := w.redirects[title]; ok {
		return map[string]any{"ns": w.nsOf(title), "title": title, "redirect": true}
	}
	if _, ok := w.pages[title]; ok {
		return map[string]any{"ns": w.nsOf(title), "title": title}
	}
	return map[string]any{"ns": w.nsOf(title), "title": title, "missing": true}
}

func (w *fakeWiki) nsOf(title string) int {
	if prefix, _, ok := strings.Cut(title, ":"); ok {
		for id, name := range w.namespaces {
			if name == prefix {
				return id
			}
		}
	}
	return 0
}

func (w *fakeWiki) handle(r *http.Request) map[string]any {
	f := r.Form
	switch {
	case f.Get("meta") == "siteinfo":
		ns := make(map[string]any)
		for id, name := range w.namespaces {
			ns[fmt.Sprint(id)] = map[string]any{"id": id, "name": name, "case": "first-letter"}
		}
		return map[string]any{"query": map[string]any{
			"general":          map[string]any{"wikiid": "nlwiki"},
			"namespaces":       ns,
			"namespacealiases": []any{},
		}}

	case f.Get("list") == "backlinks":
		var links []any
		for from, to := range w.redirects {
			if to == f.Get("bltitle") && w.nsOf(from) == 10 {
				links = append(links, map[string]any{"ns": 10, "title": from, "redirect": true})
			}
		}
		return map[string]any{"query": map[string]any{"backlinks": links}}

	case f.Get("list") == "embeddedin":
		var pages []any
		for _, title := range w.embedded {
			pages = append(pages, map[string]any{"ns": 0, "title": title})
		}
		return map[string]any{"query": map[string]any{"embeddedin": pages}}

	case f.Get("prop") == "revisions":
		var pages, normalized []any
		for _, title := range strings.Split(f.Get("titles"), "|") {
			if canonical := normalizeTitle(title); canonical != title {
				normalized = append(normalized, map[string]any{"from": title, "to": canonical})
				title = canonical
			}
			text, ok := w.pages[title]
			if !ok {
				pages = append(pages, map[string]any{"ns": 0, "title": title, "missing": true})
				continue
			}
			pages = append(pages, map[string]any{
				"ns": w.nsOf(title), "title": title,
				"revisions": []any{map[string]any{"slots": map[string]any{"main": map[string]any{"content": text}}}},
			})
		}
		return map[string]any{"query": map[string]any{"pages": pages, "normalized": normalized}}

	case f.Get("prop") == "info":
		title := f.Get("titles")
		query := map[string]any{}
		if f.Get("redirects") == "1" {
			if target, ok := w.redirects[title]; ok {
				query["redirects"] = []any{map[string]any{"from": title, "to": target}}
				title = target
			}
		}
		query["pages"] = []any{w.page(title)}
		return map[string]any{"query": query}
	}
	return map[string]any{"error": map[string]any{"code": "unknown", "info": requestKey(r)}}
}

type createdClaim struct {
	entity, property, value string
}

// fakeRepo serves the parts of the Wikibase API a harvest run uses
type fakeRepo struct {
	mu         sync.Mutex
	items      map[string]string   // page title -> item id
	claims     map[string][]string // item id -> properties with claims
	datatypes  map[string]string
	created    []createdClaim
	references []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:     make(map[string]string),
		claims:    make(map[string][]string),
		datatypes: make(map[string]string),
	}
}

func (f *fakeRepo) serve(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.mu.Lock()
		defer f.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(f.handle(r))
	}))
	t.Cleanup(server.Close)
	return server
}

func (f *fakeRepo) handle(r *http.Request) map[string]any {
	form := r.Form
	switch form.Get("action") {
	case "query":
		return map[string]any{"query": map[string]any{"tokens": map[string]any{"csrftoken": "token+\\"}}}

	case "wbgetentities":
		if title := form.Get("titles"); title != "" {
			if id, ok := f.items[title]; ok {
				return map[string]any{"entities": map[string]any{id: map[string]any{"id": id}}}
			}
			return map[string]any{"entities": map[string]any{"-1": map[string]any{"title": title, "missing": ""}}}
		}

		id := form.Get("ids")
		if form.Get("props") == "datatype" {
			dt, ok := f.datatypes[id]
			if !ok {
				return map[string]any{"entities": map[string]any{id: map[string]any{"id": id, "missing": ""}}}
			}
			return map[string]any{"entities": map[string]any{id: map[string]any{"id": id, "datatype": dt}}}
		}

		claims := make(map[string]any)
		for _, p := range f.claims[id] {
			claims[p] = []any{map[string]any{"mainsnak": map[string]any{"property": p}}}
		}
		return map[string]any{"entities": map[string]any{id: map[string]any{"id": id, "claims": claims}}}

	case "wbcreateclaim":
		c := createdClaim{entity: form.Get("entity"), property: form.Get("property"), value: form.Get("value")}
		f.created = append(f.created, c)
		f.claims[c.entity] = append(f.claims[c.entity], c.property)
		return map[string]any{"success": 1, "claim": map[string]any{"id": fmt.Sprintf("%s$%d", c.entity, len(f.created))}}

	case "wbsetreference":
		f.references = append(f.references, form.Get("statement")+" "+form.Get("snaks"))
		return map[string]any{"success": 1}
	}
	return map[string]any{"error": map[string]any{"code": "unknown", "info": form.Get("action")}}
}
