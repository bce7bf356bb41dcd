// Package agentcli is the command line of the booth scanning agent.
package agentcli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/pkg/config"
	"github.com/noah-isme/booth-checkin/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	QueuePath string
	ServerURL string

	config *config.Config
	logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the scanner agent.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scanner-agent",
		Short: "Booth scanning agent",
		Long: `Records booth visits from a scanning device.

Scans are stored in a local queue first and synchronised with the
check-in server whenever it is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.QueuePath, "queue", "", "path to the local queue database (overrides AGENT_QUEUE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "", "check-in server base URL (overrides AGENT_SERVER_URL)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewFailedCommand(opts))
	cmd.AddCommand(NewRetryFailedCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.QueuePath != "" {
		cfg.Agent.QueuePath = o.QueuePath
	}
	if o.ServerURL != "" {
		cfg.Agent.ServerURL = o.ServerURL
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}

	l, err := logger.New(cfg, "scanner-agent")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	o.config = cfg
	o.logger = l
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
