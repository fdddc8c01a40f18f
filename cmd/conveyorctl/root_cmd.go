package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/conveyor/pkg/api"
	transport "github.com/fluxcd/conveyor/pkg/http"
	"github.com/fluxcd/conveyor/pkg/http/client"
)

type rootOpts struct {
	URL           string
	Token         string
	WebhookSecret string
	Timeout       time.Duration
	API           api.Server
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
conveyorctl drives conveyord, which builds, stages and deploys your services.

Workflow:
  conveyorctl trigger --branch develop --commit $(git rev-parse HEAD) --await # Build, test in staging
  conveyorctl list                                                           # Which runs are there?
  conveyorctl status 5f0c...                                                 # How did a run go?
  conveyorctl promote 5f0c... --await                                        # Deploy a verified run
`)

const (
	envVariableURL           = "CONVEYOR_URL"
	envVariableToken         = "CONVEYOR_TOKEN"
	envVariableWebhookSecret = "CONVEYOR_WEBHOOK_SECRET"
	envVariableTimeout       = "CONVEYOR_TIMEOUT"
)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "conveyorctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}

	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030",
		fmt.Sprintf("base URL of the conveyord API server; you can also set the environment variable %s", envVariableURL))
	cmd.PersistentFlags().StringVarP(&opts.Token, "token", "t", "",
		fmt.Sprintf("API bearer token; you can also set the environment variable %s", envVariableToken))
	cmd.PersistentFlags().StringVar(&opts.WebhookSecret, "webhook-secret", "",
		fmt.Sprintf("secret to sign source change events with; you can also set the environment variable %s", envVariableWebhookSecret))
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 60*time.Second,
		fmt.Sprintf("global command timeout; you can also set the environment variable %s", envVariableTimeout))

	cmd.AddCommand(
		newVersionCommand(opts),
		newTrigger(opts).Command(),
		newList(opts).Command(),
		newListServices(opts).Command(),
		newStatus(opts).Command(),
		newEvents(opts).Command(),
		newPromote(opts).Command(),
		newAbort(opts).Command(),
		newAwait(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	setFromEnvIfNotSet(cmd.Flags(), "url", envVariableURL)
	setFromEnvIfNotSet(cmd.Flags(), "token", envVariableToken)
	setFromEnvIfNotSet(cmd.Flags(), "webhook-secret", envVariableWebhookSecret)
	setFromEnvIfNotSet(cmd.Flags(), "timeout", envVariableTimeout)

	if _, err := http.NewRequest("GET", opts.URL, nil); err != nil {
		return newUsageError(fmt.Sprintf("invalid URL %q: %s", opts.URL, err))
	}
	c := client.New(http.DefaultClient, transport.NewAPIRouter(), opts.URL, client.Token(opts.Token))
	c.WebhookSecret = opts.WebhookSecret
	opts.API = c
	return nil
}

type flagSetter interface {
	Changed(name string) bool
	Set(name, value string) error
}

func setFromEnvIfNotSet(flags flagSetter, flagName string, envNames ...string) {
	if flags.Changed(flagName) {
		return
	}
	for _, envName := range envNames {
		if env := os.Getenv(envName); env != "" {
			flags.Set(flagName, env)
		}
	}
}

func (opts *rootOpts) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opts.Timeout)
}
