// Package notify tells people when a pipeline run needs them, or has
// finished.
package notify

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/fluxcd/conveyor/pkg/artifact"
)

type Kind string

const (
	AwaitingPromotion Kind = "AwaitingPromotion"
	Succeeded         Kind = "Succeeded"
	Failed            Kind = "Failed"
	Aborted           Kind = "Aborted"
)

// Notification describes a run reaching a state somebody should hear
// about.
type Notification struct {
	Kind     Kind
	RunID    string
	Branch   string
	Commit   string
	Versions []artifact.ID
	// Stage and Error say where and why a run failed.
	Stage    string
	Error    string
	ExitCode int
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi sends each notification to all of the notifiers given,
// returning the first error.
func Multi(ns ...Notifier) Notifier {
	return multi(ns)
}

type multi []Notifier

func (m multi) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

const messageTemplate = `{{with .}}Run {{.RunID}}{{if .Commit}} ({{short .Commit}} on {{.Branch}}){{end}} {{verb .Kind}}{{if .Stage}} at {{.Stage}}{{end}}.{{if .Versions}} Versions: {{join .Versions}}.{{end}}{{end}}`

var templateFuncs = template.FuncMap{
	"short": func(commit string) string {
		if len(commit) > 7 {
			return commit[:7]
		}
		return commit
	},
	"verb": func(k Kind) string {
		switch k {
		case AwaitingPromotion:
			return "passed staging and is awaiting promotion"
		case Succeeded:
			return "is deployed to production"
		case Failed:
			return "failed"
		case Aborted:
			return "was aborted"
		}
		return strings.ToLower(string(k))
	},
	"join": func(ids []artifact.ID) string {
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = id.String()
		}
		return strings.Join(strs, ", ")
	},
}

var message = template.Must(template.New("message").Funcs(templateFuncs).Parse(messageTemplate))

// Text renders the notification as a single line.
func Text(n Notification) (string, error) {
	var buf bytes.Buffer
	if err := message.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func wants(events []string, k Kind) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if strings.EqualFold(e, string(k)) {
			return true
		}
	}
	return false
}
