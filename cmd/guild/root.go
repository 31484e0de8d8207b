package main

import (
	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:7480"

var rootCmd = &cobra.Command{
	Use:   "guild",
	Short: "Polyglot Guild client",
	Long: `guild talks to a guildd server: sign in, work through unlocked catalogs,
evaluate missions and export class reports. The migrate, seed and mcp commands
open the configured store directly.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("server", "", "guildd base URL (defaults to the saved login, then "+defaultServer+")")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(meCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(missionsCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
