// Package harvest turns template fields on wiki pages into claims on the
// pages' knowledge-base items.
package harvest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/wikitext"
)

var (
	// ErrStopped ends a run after a graceful stop request
	ErrStopped = errors.New("stopped by request")

	// ErrDeclined is returned by a ClaimWriter when the operator declines a claim
	ErrDeclined = errors.New("claim declined")
)

// Wiki resolves titles on a wiki
type Wiki interface {
	DBName() string
	Namespaces() *wikitext.Namespaces
	PageInfo(ctx context.Context, title string) (mediawiki.PageInfo, error)
	RedirectTarget(ctx context.Context, title string) (mediawiki.PageInfo, error)
}

// Repository reads items from the knowledge base
type Repository interface {
	ItemForPage(ctx context.Context, site, title string) (string, error)
	Entity(ctx context.Context, id string) (*model.Entity, error)
}

// ClaimWriter commits a claim to an entity. Implementations own
// confirmation, throttling and provenance.
type ClaimWriter interface {
	WriteClaim(ctx context.Context, entity *model.Entity, claim model.Claim) error
}

// Env carries the collaborators a harvest run resolves values against
type Env struct {
	Wiki   Wiki // Wiki the harvested pages live on
	Media  Wiki // Shared media repository for file values
	Repo   Repository
	Writer ClaimWriter
	Logger *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
