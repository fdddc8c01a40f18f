package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fluxcd/conveyor/pkg/pipeline"
)

const (
	outputFormatJSON  = "json"
	outputFormatTable = "tab"
)

func newTabwriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
}

func outputFormatIsValid(format string) bool {
	return format == outputFormatJSON || format == outputFormatTable
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

func describeFailure(f pipeline.Failure) string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if len(f.Services) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(f.Services, ", "))
	}
	if f.Error != "" {
		b.WriteString(": ")
		b.WriteString(f.Error)
	}
	return b.String()
}

func age(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Round(time.Second).String()
}

func stageDuration(s pipeline.Stage, now time.Time) string {
	if s.FinishedAt.IsZero() {
		return now.Sub(s.StartedAt).Round(time.Second).String() + "..."
	}
	return s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
}

func printRun(out io.Writer, run pipeline.Run, now time.Time) {
	w := newTabwriter(out)
	fmt.Fprintf(w, "RUN:\t%s\n", run.ID)
	fmt.Fprintf(w, "TRIGGER:\t%s (%s @ %s)\n", run.Trigger, run.Branch, shortCommit(run.Commit))
	fmt.Fprintf(w, "STATE:\t%s\n", run.State)
	if run.StagingEnvironment != "" {
		fmt.Fprintf(w, "STAGING:\t%s\n", run.StagingEnvironment)
	}
	if len(run.Artifacts) > 0 {
		versions := make([]string, len(run.Artifacts))
		for i, a := range run.Artifacts {
			versions[i] = a.String()
		}
		fmt.Fprintf(w, "VERSIONS:\t%s\n", strings.Join(versions, " "))
	}
	if p := run.Promotion; p != nil {
		fmt.Fprintf(w, "PROMOTED:\t%s at %s\n", p.Trigger, p.At.Format(time.RFC3339))
	}
	if f := run.Failure; f != nil {
		fmt.Fprintf(w, "FAILURE:\t%s: %s\n", f.Stage, describeFailure(*f))
	}
	fmt.Fprintf(w, "EXIT CODE:\t%d\n", run.ExitCode())
	w.Flush()

	if len(run.Stages) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = newTabwriter(out)
	fmt.Fprintf(w, "STAGE\tSTATUS\tDURATION\tSERVICES\tERROR\n")
	for _, s := range run.Stages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Status, stageDuration(s, now), strings.Join(s.Services, ","), s.Error)
	}
	w.Flush()
}
