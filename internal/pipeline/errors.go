package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrMissingConfig     = errors.New("missing configuration")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrIncompleteListing = errors.New("incomplete listing")
	ErrIncompleteQuery   = errors.New("incomplete query result")
	ErrSkipped           = errors.New("record skipped")
)

// Kind classifies an error for metrics labels and failure events.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingConfig):
		return "missing_config"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed_event"
	case errors.Is(err, ErrIncompleteListing):
		return "incomplete_listing"
	case errors.Is(err, ErrIncompleteQuery):
		return "incomplete_query"
	case errors.Is(err, ErrPanic):
		return "panic"
	default:
		return "external"
	}
}

// RequireSettings returns ErrMissingConfig naming every empty value.
func RequireSettings(values map[string]string) error {
	var missing []string
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
}
