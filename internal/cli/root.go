// Package cli implements the intake terminal client: catalog and request
// listings and the interactive request wizard.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/internal/gateway"
	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/model"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	backendURL string
	logFile    string

	// prompter replaces the terminal forms of the wizard.
	prompter Prompter
}

// env is what a command needs to talk to the backend.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	gateway model.Gateway
}

// NewRootCommand builds the intake command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{})
}

func newRootCommand(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "intake",
		Short: "Request intake wizard",
		Long: `intake walks through a multi-step request form backed by the intake API.

Field edits are saved to the backend in the background while you type;
the completed request is submitted from the last section.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&o.configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&o.backendURL, "backend", "", "backend base URL (overrides backend.base_url)")
	root.PersistentFlags().StringVar(&o.logFile, "log-file", "", "write JSON logs to this file")

	root.AddCommand(newSchemasCmd(o), newRequestsCmd(o), newWizardCmd(o))
	return root
}

// ExecuteContext runs the command tree with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads configuration and builds the logger and the gateway.
func (o *options) load() (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.backendURL != "" {
		cfg.Backend.BaseURL = o.backendURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: validation: %w", err)
		}
	}

	logger := zap.NewNop()
	if o.logFile != "" {
		if logger, err = observability.NewFileLogger(cfg.Observability, o.logFile); err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
	}

	gw, err := gateway.NewFromConfig(cfg.Backend, gateway.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, gateway: gw}, nil
}
