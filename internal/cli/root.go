// Package cli implements the voicebridge command line.
package cli

import (
	"os"

	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/version"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// Set by the root command before any subcommand runs.
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "voicebridge",
		Short:   "Voice agent proxy for ElevenLabs Conversational AI",
		Version: version.Version,
		Long: "voicebridge relays browser voice sessions to ElevenLabs agents and serves the " +
			"voice chat, AI business intelligence and landing page assistant demos.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				resolved.Config = cfgFile
			}
			paths = resolved
			log = logging.New(nil, cliLogLevel())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.voicebridge/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(
		newGatewayCmd(),
		newConfigCmd(),
		newStatusCmd(),
		newSessionsCmd(),
		newVersionCmd(),
	)
	return cmd
}

// cliLogLevel is the level for commands other than `gateway run`, which reads
// its level from the config file. --log-level wins over VOICEBRIDGE_LOG_LEVEL.
func cliLogLevel() string {
	if logLevel != "" {
		return logLevel
	}
	if env := os.Getenv("VOICEBRIDGE_LOG_LEVEL"); env != "" {
		return env
	}
	return "info"
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
