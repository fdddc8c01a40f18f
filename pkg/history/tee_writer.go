package history

import (
	"strings"

	"github.com/pkg/errors"
)

// TeeWriter logs each event to all of the writers given, e.g., to the
// store that answers queries and to a notifier.
func TeeWriter(w ...EventWriter) EventWriter {
	return teeWriter(w)
}

type teeWriter []EventWriter

func (w teeWriter) LogEvent(e Event) error {
	var errs []string
	for _, w0 := range w {
		if err := w0.LogEvent(e); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
