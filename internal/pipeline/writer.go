package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/harvester/internal/harvest"
	"github.com/ppiankov/harvester/internal/mediawiki"
	"github.com/ppiankov/harvester/internal/model"
)

// Decision is an operator's answer to a proposed claim
type Decision int

const (
	DecisionYes  Decision = iota // Write this claim
	DecisionNo                   // Skip this claim
	DecisionAll                  // Write this and every later claim without asking
	DecisionQuit                 // Skip this claim and stop after the current page
)

// Confirmer asks the operator whether a claim should be written
type Confirmer interface {
	Confirm(ctx context.Context, entity *model.Entity, claim model.Claim) (Decision, error)
}

// ClaimRepo is the write side of the knowledge base
type ClaimRepo interface {
	CreateClaim(ctx context.Context, entityID string, claim model.Claim, summary string) (string, error)
	AddReference(ctx context.Context, statementID, property, itemID, summary string) error
}

// Writer commits claims, optionally asking first, with a provenance
// reference to the source wiki
type Writer struct {
	repo       ClaimRepo
	sourceItem string // Item of the source wiki, empty to write no reference
	template   string
	dryRun     bool
	confirm    Confirmer // nil writes without asking
	stop       *harvest.StopToken
	logger     *slog.Logger

	always bool
	quit   bool
}

// WriterOptions configures a Writer
type WriterOptions struct {
	SourceItem string
	Template   string
	DryRun     bool
	Confirm    Confirmer
	Stop       *harvest.StopToken
	Logger     *slog.Logger
}

// NewWriter creates a writer committing to repo
func NewWriter(repo ClaimRepo, opts WriterOptions) *Writer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Writer{
		repo:       repo,
		sourceItem: opts.SourceItem,
		template:   opts.Template,
		dryRun:     opts.DryRun,
		confirm:    opts.Confirm,
		stop:       opts.Stop,
		logger:     opts.Logger,
		always:     opts.Confirm == nil,
	}
}

// WriteClaim implements harvest.ClaimWriter
func (w *Writer) WriteClaim(ctx context.Context, entity *model.Entity, claim model.Claim) error {
	if w.quit {
		return harvest.ErrDeclined
	}

	if !w.always {
		decision, err := w.confirm.Confirm(ctx, entity, claim)
		if err != nil {
			return fmt.Errorf("confirm claim: %w", err)
		}
		switch decision {
		case DecisionNo:
			return harvest.ErrDeclined
		case DecisionQuit:
			w.quit = true
			// A stop that is already requested must not escalate to an abort
			if w.stop != nil && w.stop.State() == harvest.Running {
				w.stop.Request()
			}
			return harvest.ErrDeclined
		case DecisionAll:
			w.always = true
		}
	}

	logger := w.logger.With(
		slog.String("item", entity.ID),
		slog.String("property", claim.Property),
		slog.String("value", claim.Value.String()))

	if w.dryRun {
		logger.Info("Dry run, not writing claim")
		return nil
	}

	summary := w.summary(claim)
	statement, err := w.repo.CreateClaim(ctx, entity.ID, claim, summary)
	if err != nil {
		return err
	}

	if w.sourceItem != "" && statement != "" {
		err := w.repo.AddReference(ctx, statement, mediawiki.PropImportedFrom, w.sourceItem, summary)
		if err != nil {
			// The claim itself is saved; only its provenance is missing
			logger.Warn("Failed to add reference", slog.String("statement", statement), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (w *Writer) summary(claim model.Claim) string {
	if w.template == "" {
		return fmt.Sprintf("Harvested from %s", claim.Source)
	}
	return fmt.Sprintf("Harvested from %s, template {{%s}}", claim.Source, w.template)
}
