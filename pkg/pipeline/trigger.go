package pipeline

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/ryanuber/go-glob"
)

type EventKind string

const (
	EventPush  EventKind = "push"
	EventMerge EventKind = "merge"
)

// Event is a change to the source, as delivered by webhook.
type Event struct {
	Branch string    `json:"branch"`
	Commit string    `json:"commit"`
	Kind   EventKind `json:"event_kind"`
}

func (e Event) Validate() error {
	if e.Branch == "" {
		return errors.New("event has no branch")
	}
	switch e.Kind {
	case EventPush, EventMerge:
	default:
		return errors.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Routes says which branches drive the pipeline. Each is a glob
// pattern, e.g., "release/*"; a bare name matches only itself.
type Routes struct {
	Integration string
	Main        string
}

var DefaultRoutes = Routes{
	Integration: "develop",
	Main:        "main",
}

func branchMatches(pattern, branch string) bool {
	branch = strings.TrimPrefix(branch, "refs/heads/")
	return pattern != "" && glob.Glob(pattern, branch)
}

// route decides what an event starts: a run, for pushes to the
// integration branch; a promotion, for merges to the main branch.
func (r Routes) route(e Event) (TriggerKind, bool) {
	switch {
	case e.Kind == EventPush && branchMatches(r.Integration, e.Branch):
		return TriggerPush, true
	case e.Kind == EventMerge && branchMatches(r.Main, e.Branch):
		return TriggerMerge, true
	}
	return "", false
}
