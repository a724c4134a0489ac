// Package cmd is the predictx command-line tree. Grounded on the
// teacher's cmd/perpdexd/cmd root-command shape (one NewRootCmd
// building a cobra.Command tree, a trivial VersionCmd leaf), stripped
// of everything chain-specific: there is no genesis, no keyring, no
// P2P/consensus config, because this binary drives the matching engine
// directly instead of submitting transactions to a node.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the predictx root command and its subcommand tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "predictx",
		Short:         "Binary-outcome prediction market matching and clearing engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		NewDemoCmd(),
		NewSQLiteCmd(),
		VersionCmd(),
	)
	return rootCmd
}

// VersionCmd prints the binary's version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the predictx version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("predictx v0.1.0")
		},
	}
}
