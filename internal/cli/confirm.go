package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/pipeline"
)

// promptConfirmer asks on the terminal before each claim is written
type promptConfirmer struct{}

func (promptConfirmer) Confirm(ctx context.Context, entity *model.Entity, claim model.Claim) (pipeline.Decision, error) {
	decision := pipeline.DecisionYes
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[pipeline.Decision]().
				Title(fmt.Sprintf("Add %s = %s to %s?", claim.Property, claim.Value, entity.ID)).
				Description(fmt.Sprintf("Field %q of %s", claim.Field, claim.Source)).
				Options(
					huh.NewOption("Yes", pipeline.DecisionYes),
					huh.NewOption("No", pipeline.DecisionNo),
					huh.NewOption("All (stop asking)", pipeline.DecisionAll),
					huh.NewOption("Quit after this page", pipeline.DecisionQuit),
				).
				Value(&decision),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return pipeline.DecisionQuit, nil
		}
		return pipeline.DecisionNo, fmt.Errorf("prompt: %w", err)
	}
	return decision, nil
}
