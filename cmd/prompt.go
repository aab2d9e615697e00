package cmd

import (
	"github.com/charmbracelet/huh"
)

// runField wraps one huh field in a form with help hints shown.
func runField(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).WithShowHelp(true).Run()
}

// promptString asks for a line of text. An empty answer returns defaultVal,
// which is shown as the placeholder.
func promptString(title, description, defaultVal string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Value(&value)

	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}

	if err := runField(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptSelect shows a single-select list and returns the chosen value.
func promptSelect[T comparable](title string, options []selectOption[T], defaultIdx int) (T, error) {
	var value T

	huhOpts := make([]huh.Option[T], len(options))
	for i, opt := range options {
		huhOpts[i] = huh.NewOption(opt.Label, opt.Value)
	}
	if defaultIdx >= 0 && defaultIdx < len(options) {
		huhOpts[defaultIdx] = huhOpts[defaultIdx].Selected(true)
	}

	sel := huh.NewSelect[T]().
		Title(title).
		Options(huhOpts...).
		Value(&value)

	if err := runField(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question. Returns true for yes.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes

	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)

	if err := runField(c); err != nil {
		return false, err
	}
	return value, nil
}

// selectOption is one entry in a select prompt.
type selectOption[T any] struct {
	Label string
	Value T
}
