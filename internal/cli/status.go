package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show voicebridge status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "voicebridge %s (commit %s)\n\n", version.Version, version.Revision())

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults and environment)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.TLS.Enabled)
			fmt.Fprintf(out, "Provider: %s key=%s\n", cfg.ElevenLabs.BaseURL, presence(cfg.ElevenLabs.APIKey))

			d := cfg.Demos
			landingAgent := d.Landing.AgentID
			if landingAgent == "" {
				landingAgent = d.Voicechat.AgentID
			}
			fmt.Fprintf(out, "Voicechat: agent=%s\n", orNone(d.Voicechat.AgentID))
			fmt.Fprintf(out, "AIBI:    agent=%s tool=%s replyTo=%s\n",
				orNone(d.AIBI.AgentID), d.AIBI.ToolName, strings.Join(d.AIBI.ReplyTo, ","))
			fmt.Fprintf(out, "Landing: agent=%s tokenExpiry=%s\n", orNone(landingAgent), d.Landing.AccessTokenExpiry())

			dsn := cfg.NLQ.DSN
			if dsn == "" {
				dsn = paths.DemoDB() + " (demo data)"
			}
			fmt.Fprintf(out, "NLQ:     driver=%s db=%s llm=%s model=%s\n",
				cfg.NLQ.Driver, dsn, cfg.NLQ.LLM.Provider, orNone(cfg.NLQ.LLM.Model))

			if cfg.Store.Enabled {
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = paths.StoreDB()
				}
				fmt.Fprintf(out, "Store:   %s\n", dbPath)
			} else {
				fmt.Fprintln(out, "Store:   disabled")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}

func presence(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "set"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
