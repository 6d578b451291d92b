package mediawiki

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/harvester/internal/wikitext"
)

// contentBatchSize is the most titles one revisions query may carry for
// a client without apihighlimits
const contentBatchSize = 50

// Site is a read-only view of one wiki
type Site struct {
	client     *Client
	dbname     string
	namespaces *wikitext.Namespaces
}

// NewSite creates a site backed by client. The namespace table starts as
// the MediaWiki defaults until LoadSiteInfo is called.
func NewSite(client *Client, dbname string) *Site {
	return &Site{
		client:     client,
		dbname:     dbname,
		namespaces: wikitext.DefaultNamespaces(),
	}
}

// DBName returns the wiki's database name, e.g. "nlwiki"
func (s *Site) DBName() string {
	return s.dbname
}

// Namespaces returns the wiki's namespace table
func (s *Site) Namespaces() *wikitext.Namespaces {
	return s.namespaces
}

// LoadSiteInfo reads the wiki's namespaces, local names and aliases, and
// its database name when none was configured
func (s *Site) LoadSiteInfo(ctx context.Context) error {
	params := url.Values{
		"action": {"query"},
		"meta":   {"siteinfo"},
		"siprop": {"general|namespaces|namespacealiases"},
	}

	var resp struct {
		Query struct {
			General struct {
				WikiID string `json:"wikiid"`
			} `json:"general"`
			Namespaces map[string]struct {
				ID        int    `json:"id"`
				Name      string `json:"name"`
				Canonical string `json:"canonical"`
				Case      string `json:"case"`
			} `json:"namespaces"`
			Aliases []struct {
				ID    int    `json:"id"`
				Alias string `json:"alias"`
			} `json:"namespacealiases"`
		} `json:"query"`
	}
	if err := s.client.Get(ctx, params, true, &resp); err != nil {
		return fmt.Errorf("siteinfo: %w", err)
	}

	aliases := make(map[int][]string)
	for _, a := range resp.Query.Aliases {
		aliases[a.ID] = append(aliases[a.ID], a.Alias)
	}

	namespaces := make([]wikitext.Namespace, 0, len(resp.Query.Namespaces))
	for _, ns := range resp.Query.Namespaces {
		namespaces = append(namespaces, wikitext.Namespace{
			ID:            ns.ID,
			Name:          ns.Name,
			Canonical:     ns.Canonical,
			Aliases:       aliases[ns.ID],
			CaseSensitive: ns.Case == "case-sensitive",
		})
	}
	s.namespaces = wikitext.NewNamespaces(namespaces)

	if s.dbname == "" {
		s.dbname = resp.Query.General.WikiID
	}
	return nil
}

// PageInfo describes the existence and redirect status of a page
type PageInfo struct {
	Title     string
	Namespace int
	Missing   bool
	Redirect  bool
}

type queryPage struct {
	PageID    int    `json:"pageid"`
	NS        int    `json:"ns"`
	Title     string `json:"title"`
	Missing   bool   `json:"missing"`
	Invalid   bool   `json:"invalid"`
	Redirect  bool   `json:"redirect"`
	Revisions []struct {
		Slots struct {
			Main struct {
				Content string `json:"content"`
			} `json:"main"`
		} `json:"slots"`
	} `json:"revisions"`
}

// PageInfo looks up a single page. Responses are cached.
func (s *Site) PageInfo(ctx context.Context, title string) (PageInfo, error) {
	params := url.Values{
		"action": {"query"},
		"prop":   {"info"},
		"titles": {title},
	}

	var resp struct {
		Query struct {
			Pages []queryPage `json:"pages"`
		} `json:"query"`
	}
	if err := s.client.Get(ctx, params, true, &resp); err != nil {
		return PageInfo{}, fmt.Errorf("page info %q: %w", title, err)
	}
	if len(resp.Query.Pages) == 0 {
		return PageInfo{}, fmt.Errorf("page info %q: empty response", title)
	}

	p := resp.Query.Pages[0]
	if p.Invalid {
		return PageInfo{}, fmt.Errorf("page info %q: %w", title, wikitext.ErrInvalidTitle)
	}
	return PageInfo{
		Title:     p.Title,
		Namespace: p.NS,
		Missing:   p.Missing,
		Redirect:  p.Redirect,
	}, nil
}

// RedirectTarget returns the page a redirect points to, resolving exactly
// one hop. The target may itself be missing or another redirect.
func (s *Site) RedirectTarget(ctx context.Context, title string) (PageInfo, error) {
	params := url.Values{
		"action":    {"query"},
		"prop":      {"info"},
		"titles":    {title},
		"redirects": {"1"},
	}

	var resp struct {
		Query struct {
			Normalized []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"normalized"`
			Redirects []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"redirects"`
			Pages []queryPage `json:"pages"`
		} `json:"query"`
	}
	if err := s.client.Get(ctx, params, true, &resp); err != nil {
		return PageInfo{}, fmt.Errorf("redirect target %q: %w", title, err)
	}

	from := title
	for _, n := range resp.Query.Normalized {
		if n.From == title {
			from = n.To
		}
	}

	var target string
	for _, r := range resp.Query.Redirects {
		if r.From == from {
			target = r.To
			break
		}
	}
	if target == "" {
		return PageInfo{}, fmt.Errorf("%q: %w", title, ErrNotRedirect)
	}

	// Chained redirects resolve further than one hop in the response, so
	// the first hop's target is looked up on its own
	return s.PageInfo(ctx, target)
}

// RedirectsTo lists the titles of every redirect to title within namespace
func (s *Site) RedirectsTo(ctx context.Context, title string, namespace int) ([]string, error) {
	params := url.Values{
		"action":        {"query"},
		"list":          {"backlinks"},
		"bltitle":       {title},
		"blfilterredir": {"redirects"},
		"blnamespace":   {strconv.Itoa(namespace)},
		"bllimit":       {"max"},
	}

	var titles []string
	err := s.paginate(ctx, params, func(raw pageResponse) {
		for _, p := range raw.Query.Backlinks {
			titles = append(titles, p.Title)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("redirects to %q: %w", title, err)
	}
	return titles, nil
}

// EmbeddedIn yields titles of pages transcluding title within namespace,
// following API continuation lazily
func (s *Site) EmbeddedIn(ctx context.Context, title string, namespace int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := url.Values{
			"action":      {"query"},
			"list":        {"embeddedin"},
			"eititle":     {title},
			"einamespace": {strconv.Itoa(namespace)},
			"eilimit":     {"max"},
		}

		for {
			var resp pageResponse
			if err := s.client.Get(ctx, params, false, &resp); err != nil {
				yield("", fmt.Errorf("embedded in %q: %w", title, err))
				return
			}
			for _, p := range resp.Query.EmbeddedIn {
				if !yield(p.Title, nil) {
					return
				}
			}
			if len(resp.Continue) == 0 {
				return
			}
			for k, v := range resp.Continue {
				params.Set(k, v)
			}
		}
	}
}

// PageText is the current wikitext of a page under its canonical title
type PageText struct {
	Title string
	Text  string
}

// Contents returns the current wikitext of each title, fetched in batches.
// Missing pages are absent from the result. Keys are the titles as
// requested; each value carries the title the wiki normalized it to.
func (s *Site) Contents(ctx context.Context, titles []string) (map[string]PageText, error) {
	out := make(map[string]PageText, len(titles))
	for start := 0; start < len(titles); start += contentBatchSize {
		end := min(start+contentBatchSize, len(titles))
		if err := s.contentBatch(ctx, titles[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Site) contentBatch(ctx context.Context, titles []string, out map[string]PageText) error {
	params := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"rvprop":  {"content"},
		"rvslots": {"main"},
		"titles":  {strings.Join(titles, "|")},
	}

	var resp struct {
		Query struct {
			Normalized []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"normalized"`
			Pages []queryPage `json:"pages"`
		} `json:"query"`
	}
	if err := s.client.Post(ctx, params, &resp); err != nil {
		return fmt.Errorf("page contents: %w", err)
	}

	// Several requested spellings may normalize to one page
	requested := make(map[string][]string, len(titles))
	for _, t := range titles {
		requested[t] = append(requested[t], t)
	}
	for _, n := range resp.Query.Normalized {
		if n.From == n.To {
			continue
		}
		if origs, ok := requested[n.From]; ok {
			requested[n.To] = append(requested[n.To], origs...)
			delete(requested, n.From)
		}
	}

	for _, p := range resp.Query.Pages {
		if p.Missing || p.Invalid || len(p.Revisions) == 0 {
			continue
		}
		text := PageText{Title: p.Title, Text: p.Revisions[0].Slots.Main.Content}
		keys, ok := requested[p.Title]
		if !ok {
			keys = []string{p.Title}
		}
		for _, key := range keys {
			out[key] = text
		}
	}
	return nil
}

type pageResponse struct {
	Continue map[string]string `json:"continue"`
	Query    struct {
		Backlinks  []queryPage `json:"backlinks"`
		EmbeddedIn []queryPage `json:"embeddedin"`
	} `json:"query"`
}

func (s *Site) paginate(ctx context.Context, params url.Values, fn func(pageResponse)) error {
	for {
		var resp pageResponse
		if err := s.client.Get(ctx, params, true, &resp); err != nil {
			return err
		}
		fn(resp)
		if len(resp.Continue) == 0 {
			return nil
		}
		for k, v := range resp.Continue {
			params.Set(k, v)
		}
	}
}
