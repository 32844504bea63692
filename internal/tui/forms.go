package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// ConfirmDelete asks before deleting the user identified by id. Declining,
// or aborting the prompt, answers false.
func ConfirmDelete(id string) (bool, error) {
	var ok bool
	prompt := huh.NewConfirm().
		Title(fmt.Sprintf("Delete user %s?", id)).
		Description("The user loses access to this tenant. This cannot be undone.").
		Affirmative("Delete").
		Negative("Keep").
		Value(&ok)
	if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil {
		return false, err
	}
	return ok, nil
}
