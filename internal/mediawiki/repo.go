package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ppiankov/harvester/internal/model"
)

// PropImportedFrom is the "imported from Wikimedia project" property used
// on provenance references
const PropImportedFrom = "P143"

// Repo is a Wikibase repository that claims are read from and written to
type Repo struct {
	client *Client
	logger *slog.Logger

	mu       sync.Mutex
	token    string
	loggedIn bool
}

// NewRepo creates a repository backed by client
func NewRepo(client *Client, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{client: client, logger: logger}
}

// Login signs in with a bot password. Edits made afterwards assert the
// session is still logged in.
func (r *Repo) Login(ctx context.Context, username, password string) error {
	loginToken, err := r.fetchToken(ctx, "login")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	params := url.Values{
		"action":     {"login"},
		"lgname":     {username},
		"lgpassword": {password},
		"lgtoken":    {loginToken},
	}
	var resp struct {
		Login struct {
			Result   string `json:"result"`
			Reason   string `json:"reason"`
			Username string `json:"lgusername"`
		} `json:"login"`
	}
	if err := r.client.Post(ctx, params, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Login.Result != "Success" {
		return fmt.Errorf("login as %s: %s %s", username, resp.Login.Result, resp.Login.Reason)
	}

	r.mu.Lock()
	r.loggedIn = true
	r.token = ""
	r.mu.Unlock()

	r.logger.Info("Logged in", slog.String("user", resp.Login.Username))
	return nil
}

// ItemForPage returns the id of the item linked to title on site, or
// ErrMissing when the page has no item. Responses are cached.
func (r *Repo) ItemForPage(ctx context.Context, site, title string) (string, error) {
	params := url.Values{
		"action": {"wbgetentities"},
		"sites":  {site},
		"titles": {title},
		"props":  {"info"},
	}

	var resp entitiesResponse
	if err := r.client.Get(ctx, params, true, &resp); err != nil {
		return "", fmt.Errorf("item for %s:%s: %w", site, title, mapEntityError(err))
	}
	for _, e := range resp.Entities {
		if e.Missing != nil || e.ID == "" {
			continue
		}
		return e.ID, nil
	}
	return "", fmt.Errorf("item for %s:%s: %w", site, title, ErrMissing)
}

// Entity reads the current claim snapshot of an item. Snapshots are
// never cached.
func (r *Repo) Entity(ctx context.Context, id string) (*model.Entity, error) {
	params := url.Values{
		"action": {"wbgetentities"},
		"ids":    {id},
		"props":  {"claims"},
	}

	var resp entitiesResponse
	if err := r.client.Get(ctx, params, false, &resp); err != nil {
		return nil, fmt.Errorf("entity %s: %w", id, mapEntityError(err))
	}
	e, ok := resp.Entities[id]
	if !ok || e.Missing != nil {
		return nil, fmt.Errorf("entity %s: %w", id, ErrMissing)
	}

	entity := model.NewEntity(e.ID)
	for prop, statements := range e.Claims {
		if len(statements) > 0 {
			entity.MarkClaimed(prop)
		}
	}
	return entity, nil
}

// PropertyDatatype returns the datatype of a property, e.g. "wikibase-item".
// Responses are cached.
func (r *Repo) PropertyDatatype(ctx context.Context, id string) (string, error) {
	params := url.Values{
		"action": {"wbgetentities"},
		"ids":    {id},
		"props":  {"datatype"},
	}

	var resp entitiesResponse
	if err := r.client.Get(ctx, params, true, &resp); err != nil {
		return "", fmt.Errorf("property %s: %w", id, mapEntityError(err))
	}
	e, ok := resp.Entities[id]
	if !ok || e.Missing != nil || e.Datatype == "" {
		return "", fmt.Errorf("property %s: %w", id, ErrMissing)
	}
	return e.Datatype, nil
}

// CreateClaim adds a statement with claim's property and value to the
// entity and returns the new statement's id
func (r *Repo) CreateClaim(ctx context.Context, entityID string, claim model.Claim, summary string) (string, error) {
	value, err := encodeValue(claim.Value)
	if err != nil {
		return "", err
	}

	params := url.Values{
		"action":   {"wbcreateclaim"},
		"entity":   {entityID},
		"property": {claim.Property},
		"snaktype": {"value"},
		"value":    {value},
		"summary":  {summary},
		"bot":      {"1"},
	}

	var resp struct {
		Claim struct {
			ID string `json:"id"`
		} `json:"claim"`
	}
	if err := r.edit(ctx, params, &resp); err != nil {
		return "", fmt.Errorf("create claim %s on %s: %w", claim.Property, entityID, err)
	}
	return resp.Claim.ID, nil
}

// AddReference attaches a reference with one item-valued snak to a statement
func (r *Repo) AddReference(ctx context.Context, statementID, property, itemID, summary string) error {
	numeric, err := numericID(itemID)
	if err != nil {
		return err
	}

	snaks := map[string][]map[string]any{
		property: {{
			"snaktype": "value",
			"property": property,
			"datavalue": map[string]any{
				"type":  "wikibase-entityid",
				"value": map[string]any{"entity-type": "item", "numeric-id": numeric},
			},
		}},
	}
	encoded, err := json.Marshal(snaks)
	if err != nil {
		return fmt.Errorf("encode reference: %w", err)
	}

	params := url.Values{
		"action":    {"wbsetreference"},
		"statement": {statementID},
		"snaks":     {string(encoded)},
		"summary":   {summary},
		"bot":       {"1"},
	}
	var resp struct {
		Success int `json:"success"`
	}
	if err := r.edit(ctx, params, &resp); err != nil {
		return fmt.Errorf("add reference to %s: %w", statementID, err)
	}
	return nil
}

// edit posts a write with a CSRF token, refreshing the token once when the
// server reports it stale
func (r *Repo) edit(ctx context.Context, params url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := r.csrfToken(ctx)
		if err != nil {
			return err
		}

		p := make(url.Values, len(params)+2)
		for k, v := range params {
			p[k] = v
		}
		p.Set("token", token)
		if r.isLoggedIn() {
			p.Set("assert", "user")
		}

		err = r.client.Edit(ctx, p, out)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Code == "badtoken" {
			r.logger.Debug("CSRF token expired, refreshing")
			r.mu.Lock()
			r.token = ""
			r.mu.Unlock()
			continue
		}
		return err
	}
}

func (r *Repo) isLoggedIn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loggedIn
}

func (r *Repo) csrfToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	token := r.token
	r.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := r.fetchToken(ctx, "csrf")
	if err != nil {
		return "", fmt.Errorf("csrf token: %w", err)
	}
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
	return token, nil
}

func (r *Repo) fetchToken(ctx context.Context, kind string) (string, error) {
	params := url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {kind},
	}
	var resp struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	if err := r.client.Get(ctx, params, false, &resp); err != nil {
		return "", err
	}
	token := resp.Query.Tokens[kind+"token"]
	if token == "" {
		return "", fmt.Errorf("no %s token in response", kind)
	}
	return token, nil
}

type entitiesResponse struct {
	Entities map[string]struct {
		ID       string                       `json:"id"`
		Missing  any                          `json:"missing"`
		Datatype string                       `json:"datatype"`
		Claims   map[string][]json.RawMessage `json:"claims"`
	} `json:"entities"`
}

// mapEntityError turns the API's unknown-entity errors into ErrMissing
func mapEntityError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == "no-such-entity" || apiErr.Code == "param-invalid") {
		return fmt.Errorf("%w: %s", ErrMissing, apiErr.Info)
	}
	return err
}

// encodeValue renders a value in the JSON form wbcreateclaim expects
func encodeValue(v model.Value) (string, error) {
	var payload any
	switch v.Kind {
	case model.KindItem:
		numeric, err := numericID(v.Item)
		if err != nil {
			return "", err
		}
		payload = map[string]any{"entity-type": "item", "numeric-id": numeric}
	case model.KindString, model.KindExternalID, model.KindURL, model.KindCommonsMedia:
		payload = v.Text
	default:
		return "", fmt.Errorf("cannot encode value of kind %s", v.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(data), nil
}

// numericID returns the number of an item id such as "Q42"
func numericID(id string) (int, error) {
	if !strings.HasPrefix(id, "Q") {
		return 0, fmt.Errorf("not an item id: %q", id)
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not an item id: %q", id)
	}
	return n, nil
}
