// Package prompt wraps promptui for the user REPL's verb selection and
// argument entry, adapted from the teacher's internal/cli/prompt package.
package prompt

import (
	"errors"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err indicates the user aborted a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// SelectString prompts the user to pick one of items, returning the string
// chosen.
func SelectString(label string, items []string) (string, error) {
	p := promptui.Select{Label: label, Items: items, Size: len(items)}
	_, result, err := p.Run()
	return result, wrapError(err)
}

// Input prompts for a single line of text.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputRequired prompts for a non-empty line of text.
func InputRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if input == "" {
				return errors.New("required")
			}
			return nil
		},
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputInt prompts for an integer, defaulting to defaultValue.
func InputInt(label string, defaultValue int) (int, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: strconv.Itoa(defaultValue),
		Validate: func(input string) error {
			_, err := strconv.Atoi(input)
			return err
		},
	}
	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	value, _ := strconv.Atoi(result)
	return value, nil
}
