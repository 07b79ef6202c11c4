package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/store"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recently recorded voice sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			dbPath := cfg.Store.Path
			if dbPath == "" {
				dbPath = paths.StoreDB()
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				fmt.Fprintln(out, "No sessions recorded yet.")
				return nil
			}

			db, err := store.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			records, err := store.NewSessionStore(db).Recent(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No sessions recorded yet.")
				return nil
			}

			fmt.Fprintf(out, "%-20s  %-10s  %-36s  %-10s  %s\n", "STARTED", "VARIANT", "CLIENT", "DURATION", "CLOSE REASON")
			for _, r := range records {
				duration := "active"
				if r.EndedAt != nil {
					duration = (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second).String()
				}
				fmt.Fprintf(out, "%-20s  %-10s  %-36s  %-10s  %s\n",
					r.StartedAt.Local().Format(time.DateTime), r.Variant, r.ClientID, duration, r.CloseReason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to show")
	return cmd
}
