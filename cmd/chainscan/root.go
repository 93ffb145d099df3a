package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for chainscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chainscan",
		Short: "Discover the contracts of an on-chain project",
		Long: `chainscan discovers every smart contract reachable from a set of seed
addresses at a pinned block height: proxies, their implementations, upgrade
admins and beacons.

The result is a manifest (discovered.json) whose contents are identical across
runs as long as the chain state at the pinned block is the same, so it can be
committed and reviewed like any other file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewDiscoverCmd())
	cmd.AddCommand(NewCompareCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
