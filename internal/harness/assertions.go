package harness

import (
	"fmt"
	"slices"
	"sort"
)

// AssertionError is returned when an expectation does not hold.
type AssertionError struct {
	Field    string // converged, order, states[A], assignees[A]
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// check evaluates e against agent's replica. Keys are visited in sorted
// order so failures are reported deterministically.
func (h *Harness) check(e *Expect, agent string) []error {
	var errs []error
	view := h.view(agent)

	if e.Converged != nil {
		if got := h.converged(); got != *e.Converged {
			errs = append(errs, &AssertionError{
				Field:    "converged",
				Expected: fmt.Sprint(*e.Converged),
				Actual:   fmt.Sprint(got),
			})
		}
	}

	if e.Order != nil {
		got := make([]string, len(view.Tasks))
		for i, t := range view.Tasks {
			got[i] = t.Alias
		}
		if !slices.Equal(got, e.Order) {
			errs = append(errs, &AssertionError{
				Field:    "order",
				Expected: fmt.Sprint(e.Order),
				Actual:   fmt.Sprint(got),
			})
		}
	}

	byAlias := make(map[string]TaskLine, len(view.Tasks))
	for _, t := range view.Tasks {
		byAlias[t.Alias] = t
	}

	for _, alias := range sortedKeys(e.States) {
		want := e.States[alias]
		t, ok := byAlias[alias]
		got := "missing"
		if ok {
			got = t.State
		}
		if got != want {
			errs = append(errs, &AssertionError{
				Field:    fmt.Sprintf("states[%s]", alias),
				Expected: want,
				Actual:   got,
			})
		}
	}

	for _, alias := range sortedKeys(e.Assignees) {
		want := e.Assignees[alias]
		t, ok := byAlias[alias]
		got := "missing"
		if ok {
			got = fmt.Sprintf("%q", t.Assignee)
		}
		if got != fmt.Sprintf("%q", want) {
			errs = append(errs, &AssertionError{
				Field:    fmt.Sprintf("assignees[%s]", alias),
				Expected: fmt.Sprintf("%q", want),
				Actual:   got,
			})
		}
	}
	return errs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
