package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openalpha/predictx/internal/store/sqlstore"
)

// NewSQLiteCmd runs the same scripted scenario walk as "demo" but
// against a modernc.org/sqlite-backed store, so a predictx.db file
// persists the run's accounts/positions/orders/trades/ledger rows for
// inspection afterward.
func NewSQLiteCmd() *cobra.Command {
	var marketID, path string
	cmd := &cobra.Command{
		Use:   "sqlite-demo",
		Short: "Run the scripted scenario walk against a persistent SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sqlstore.Open(path)
			if err != nil {
				return err
			}
			defer s.Close()
			return runScenarios(cmd, s, marketID)
		},
	}
	cmd.Flags().StringVar(&marketID, "market", "demo-market", "market id to seed and trade on")
	cmd.Flags().StringVar(&path, "path", "predictx.db", "path to the SQLite database file")
	return cmd
}
