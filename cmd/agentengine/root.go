package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentengine/pkg/logx"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	secretsPath string
	logFormat   string
}

// execute runs the command line with SIGINT and SIGTERM cancelling ctx.
func execute(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "agentengine",
		Short: "Resilient conversational agent",
		Long: `agentengine answers messages with a reasoning agent backed by a
chain of LLM providers. Providers are tried in configured order, transient
failures are retried and broken providers are skipped by circuit breakers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return configureLogging(cmd.ErrOrStderr(), flags.logFormat)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (.yaml or .json); built-in defaults when empty")
	root.PersistentFlags().StringVar(&flags.secretsPath, "secrets", "", "Encrypted secrets file, unlocked with $"+EnvSecretsPassword)
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: console or json (default from $LOG_FORMAT)")

	root.AddCommand(
		newChatCmd(flags),
		newHealthCmd(flags),
		newActionsCmd(flags),
		newHistoryCmd(flags),
		newVersionCmd(),
	)
	return root
}

func configureLogging(w io.Writer, format string) error {
	switch logx.Format(format) {
	case "":
		return nil
	case logx.FormatConsole, logx.FormatJSON:
		logx.SetOutput(w, logx.Format(format))
		return nil
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
}

// withEngine builds the engine from the global flags, runs fn and closes it.
func withEngine(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, e *engine) error) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	secrets, err := loadSecrets(flags.secretsPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	e, err := newEngine(ctx, cfg, secrets)
	if err != nil {
		return err
	}
	runErr := fn(ctx, e)
	if err := e.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	return runErr
}
